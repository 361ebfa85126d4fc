package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
)

// Ensure RosterService implements the interface.
var _ driving.RosterService = (*RosterService)(nil)

// rosterHeader is the column layout accepted by the platform's roster importer.
var rosterHeader = []string{"First Name", "Last Name", "SID", "Email", "Role"}

// RosterExporter renders the anonymised roster and the instructor key.
// Both are pure functions of a mapping table.
type RosterExporter struct {
	prefix string
}

// NewRosterExporter creates an exporter using the destination name prefix.
func NewRosterExporter(prefix string) *RosterExporter {
	return &RosterExporter{prefix: prefix}
}

// Export renders one CSV row per mapping, sorted by token.
// The roster carries pseudonyms and roles only.
func (e *RosterExporter) Export(mappings []domain.IdentityMapping) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(rosterHeader); err != nil {
		return nil, fmt.Errorf("write roster header: %w", err)
	}
	for _, m := range sortedByToken(mappings) {
		p := domain.Pseudonym{Token: m.Token, Prefix: e.prefix}
		row := []string{p.Prefix, string(p.Token), string(p.Token), p.Email(), m.Identity.RoleOrDefault()}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write roster row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush roster: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview renders the roster of the identities mapped so far. It is safe
// to call while workers are still resolving identities.
func (e *RosterExporter) Preview(m *IdentityMapper) ([]byte, error) {
	return e.Export(m.Snapshot())
}

// KeyFile is the instructor-held mapping key.
type KeyFile struct {
	BatchID       string            `json:"batch_id"`
	Salt          string            `json:"salt"`
	TokenPrefix   string            `json:"token_prefix"`
	IDToAnonymous map[string]string `json:"id_to_anonymous"`
	AnonymousToID map[string]string `json:"anonymous_to_id"`
	Entries       []KeyEntry        `json:"entries"`
}

// KeyEntry is one student in the key.
type KeyEntry struct {
	Token     string `json:"token"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	FirstSeen int    `json:"first_seen"`
}

// ExportKey renders the key that recovers real identities from tokens.
func (e *RosterExporter) ExportKey(batchID, salt string, mappings []domain.IdentityMapping) ([]byte, error) {
	key := KeyFile{
		BatchID:       batchID,
		Salt:          salt,
		TokenPrefix:   e.prefix,
		IDToAnonymous: make(map[string]string, len(mappings)),
		AnonymousToID: make(map[string]string, len(mappings)),
		Entries:       make([]KeyEntry, 0, len(mappings)),
	}
	for _, m := range sortedByToken(mappings) {
		sid := m.Identity.Key()
		key.IDToAnonymous[sid] = string(m.Token)
		key.AnonymousToID[string(m.Token)] = sid
		key.Entries = append(key.Entries, KeyEntry{
			Token:     string(m.Token),
			StudentID: sid,
			Name:      m.Identity.Name,
			Email:     m.Identity.Email,
			Role:      m.Identity.RoleOrDefault(),
			FirstSeen: m.FirstSeen,
		})
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	return append(data, '\n'), nil
}

func sortedByToken(mappings []domain.IdentityMapping) []domain.IdentityMapping {
	out := slices.Clone(mappings)
	slices.SortFunc(out, func(a, b domain.IdentityMapping) int {
		return strings.Compare(string(a.Token), string(b.Token))
	})
	return out
}

// RosterService regenerates roster artifacts from the batch ledger.
type RosterService struct {
	store driven.BatchStore
}

// NewRosterService creates a new roster service.
func NewRosterService(store driven.BatchStore) *RosterService {
	return &RosterService{store: store}
}

// Export returns the roster and key for a stored batch.
func (s *RosterService) Export(ctx context.Context, batchID string) (*driving.RosterExport, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	mappings, err := s.store.GetMappings(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get mappings: %w", err)
	}

	exporter := NewRosterExporter(batch.TokenPrefix)
	roster, err := exporter.Export(mappings)
	if err != nil {
		return nil, err
	}
	key, err := exporter.ExportKey(batch.ID, batch.Salt, mappings)
	if err != nil {
		return nil, err
	}
	return &driving.RosterExport{Roster: roster, Key: key}, nil
}
