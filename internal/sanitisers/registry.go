package sanitisers

import (
	"cmp"
	"slices"
	"sync"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/logger"
)

// Ensure Registry implements the interface.
var _ driven.SanitiserRegistry = (*Registry)(nil)

// Registry dispatches artifacts to the highest priority sanitiser that
// recognises them.
type Registry struct {
	mu         sync.RWMutex
	sanitisers []driven.Sanitiser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a sanitiser. Equal priorities keep registration order.
func (r *Registry) Register(s driven.Sanitiser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sanitisers = append(r.sanitisers, s)
	slices.SortStableFunc(r.sanitisers, func(a, b driven.Sanitiser) int {
		return cmp.Compare(b.Priority(), a.Priority())
	})
}

// Formats returns the recognised formats in priority order.
func (r *Registry) Formats() []domain.ArtifactFormat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ArtifactFormat, 0, len(r.sanitisers))
	for _, s := range r.sanitisers {
		out = append(out, s.Format())
	}
	return out
}

// Sanitise rewrites the artifact with the first sanitiser that detects it.
// Unrecognised artifacts, and artifacts whose sanitiser cannot parse them,
// pass through unchanged with a ContentMayLeakIdentity warning.
func (r *Registry) Sanitise(req driven.SanitiseRequest) (*driven.SanitiseResult, error) {
	r.mu.RLock()
	candidates := slices.Clone(r.sanitisers)
	r.mu.RUnlock()

	for _, s := range candidates {
		if !s.Detect(req.Artifact) {
			continue
		}
		res, err := s.Sanitise(req)
		if err != nil {
			logger.Warn("Could not sanitise %s artifact: %v", s.Format(), err)
			return passThrough(req.Artifact, s.Format(), "could not parse "+string(s.Format())+" structure: "+err.Error()), nil
		}
		return res, nil
	}

	return passThrough(req.Artifact, domain.FormatUnrecognised, "unrecognised format, content passed through unchanged"), nil
}

func passThrough(a domain.Artifact, format domain.ArtifactFormat, msg string) *driven.SanitiseResult {
	return &driven.SanitiseResult{
		Content: a.Content,
		Format:  format,
		Warnings: []domain.Warning{{
			Code:    domain.WarnContentMayLeakIdentity,
			Message: msg,
		}},
	}
}
