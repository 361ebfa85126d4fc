package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

const (
	// tokenLength is the number of hex characters in a token.
	tokenLength = 8

	// leakWindow is the shortest shared substring that counts as a leak.
	leakWindow = 3

	// maxCandidates bounds the search for an acceptable token.
	maxCandidates = 100000
)

// IdentityMapper issues a stable pseudonym token per student.
// It is the only owner of the run's mapping table; all access goes through
// its methods, which are safe for concurrent use.
type IdentityMapper struct {
	salt string

	mu      sync.Mutex
	byKey   map[string]domain.IdentityMapping
	byToken map[domain.Token]string
	order   []string
}

// NewIdentityMapper creates an empty mapper seeded with salt.
func NewIdentityMapper(salt string) *IdentityMapper {
	return &IdentityMapper{
		salt:    salt,
		byKey:   make(map[string]domain.IdentityMapping),
		byToken: make(map[domain.Token]string),
	}
}

// Salt returns the salt the mapper was seeded with.
func (m *IdentityMapper) Salt() string {
	return m.salt
}

// Preload seeds the table with mappings from a previous batch so returning
// students keep their tokens. Conflicting entries are rejected.
func (m *IdentityMapper) Preload(mappings []domain.IdentityMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mp := range mappings {
		key := mp.Identity.Key()
		if key == "" {
			return fmt.Errorf("%w: preloaded mapping for token %s has no student id", domain.ErrInvalidInput, mp.Token)
		}
		if owner, ok := m.byToken[mp.Token]; ok && owner != key {
			return fmt.Errorf("%w: token %s is mapped to two students", domain.ErrInvalidInput, mp.Token)
		}
		if existing, ok := m.byKey[key]; ok && existing.Token != mp.Token {
			return fmt.Errorf("%w: student has two tokens (%s, %s)", domain.ErrInvalidInput, existing.Token, mp.Token)
		}
		if _, ok := m.byKey[key]; ok {
			continue
		}
		m.add(key, mp.Identity, mp.Token)
	}
	return nil
}

// Resolve returns the token for identity, issuing one on first encounter.
// Resolving the same student ID again returns the same token.
func (m *IdentityMapper) Resolve(identity domain.Identity) (domain.Token, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}
	key := identity.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[key]; ok {
		return existing.Token, nil
	}

	for n := 0; n < maxCandidates; n++ {
		candidate := deriveToken(key, m.salt, n)
		if _, taken := m.byToken[candidate]; taken {
			continue
		}
		if tokenLeaks(candidate, identity) {
			continue
		}
		m.add(key, identity, candidate)
		return candidate, nil
	}
	return "", fmt.Errorf("%w: no acceptable token after %d candidates", domain.ErrInvalidIdentity, maxCandidates)
}

// add records a mapping (caller must hold lock).
func (m *IdentityMapper) add(key string, identity domain.Identity, token domain.Token) {
	m.byKey[key] = domain.IdentityMapping{
		Identity:  identity,
		Token:     token,
		FirstSeen: len(m.order),
	}
	m.byToken[token] = key
	m.order = append(m.order, key)
}

// Lookup returns the mapping that issued token.
func (m *IdentityMapper) Lookup(token domain.Token) (domain.IdentityMapping, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byToken[token]
	if !ok {
		return domain.IdentityMapping{}, false
	}
	return m.byKey[key], true
}

// Snapshot returns a copy of all mappings in first-seen order.
func (m *IdentityMapper) Snapshot() []domain.IdentityMapping {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.IdentityMapping, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key])
	}
	return out
}

// Len returns the number of issued tokens.
func (m *IdentityMapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// deriveToken hashes key, salt and the candidate counter.
func deriveToken(key, salt string, n int) domain.Token {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(n)))
	return domain.Token(hex.EncodeToString(h.Sum(nil))[:tokenLength])
}

// tokenLeaks reports whether token shares a substring of leakWindow or more
// characters with the name, student ID or email local part.
func tokenLeaks(token domain.Token, identity domain.Identity) bool {
	local, _, _ := strings.Cut(identity.Email, "@")
	sources := []string{
		strings.ToLower(identity.Name),
		strings.ToLower(identity.StudentID),
		strings.ToLower(local),
	}

	t := strings.ToLower(string(token))
	for i := 0; i+leakWindow <= len(t); i++ {
		window := t[i : i+leakWindow]
		for _, src := range sources {
			if strings.Contains(src, window) {
				return true
			}
		}
	}
	return false
}
