package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
)

// Ensure BatchStore implements the interface.
var _ driven.BatchStore = (*BatchStore)(nil)

// BatchStore is an in-memory implementation of driven.BatchStore.
type BatchStore struct {
	mu       sync.RWMutex
	batches  map[string]domain.BatchRecord
	mappings map[string][]domain.IdentityMapping
	results  map[string][]domain.UploadResult
}

// NewBatchStore creates a new in-memory batch store.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		batches:  make(map[string]domain.BatchRecord),
		mappings: make(map[string][]domain.IdentityMapping),
		results:  make(map[string][]domain.UploadResult),
	}
}

// SaveBatch stores or updates a batch header.
func (s *BatchStore) SaveBatch(_ context.Context, batch domain.BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return nil
}

// GetBatch retrieves a batch header by ID.
func (s *BatchStore) GetBatch(_ context.Context, id string) (*domain.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &batch, nil
}

// ListBatches returns all batch headers, newest first.
func (s *BatchStore) ListBatches(_ context.Context) ([]domain.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BatchRecord, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b domain.BatchRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// SaveMappings replaces the identity mappings of a batch.
func (s *BatchStore) SaveMappings(_ context.Context, batchID string, mappings []domain.IdentityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return domain.ErrNotFound
	}
	s.mappings[batchID] = slices.Clone(mappings)
	return nil
}

// GetMappings returns the identity mappings of a batch in first-seen order.
func (s *BatchStore) GetMappings(_ context.Context, batchID string) ([]domain.IdentityMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, domain.ErrNotFound
	}
	out := slices.Clone(s.mappings[batchID])
	slices.SortFunc(out, func(a, b domain.IdentityMapping) int { return a.FirstSeen - b.FirstSeen })
	return out, nil
}

// SaveResult stores the terminal result of one submission.
func (s *BatchStore) SaveResult(_ context.Context, batchID string, result domain.UploadResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batchID]; !ok {
		return domain.ErrNotFound
	}
	s.results[batchID] = append(s.results[batchID], result)
	return nil
}

// GetResults returns the results of a batch in completion order.
func (s *BatchStore) GetResults(_ context.Context, batchID string) ([]domain.UploadResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(s.results[batchID]), nil
}
