package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/subanon/internal/core/domain"
	"github.com/custodia-labs/subanon/internal/core/ports/driven"
	"github.com/custodia-labs/subanon/internal/core/ports/driving"
)

// Ensure BatchService implements the interface.
var _ driving.BatchService = (*BatchService)(nil)

// BatchService reads the transfer ledger.
type BatchService struct {
	store driven.BatchStore
}

// NewBatchService creates a new batch service.
func NewBatchService(store driven.BatchStore) *BatchService {
	return &BatchService{store: store}
}

// List returns all batches, newest first.
func (s *BatchService) List(ctx context.Context) ([]domain.BatchRecord, error) {
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// Get returns one batch with its results.
func (s *BatchService) Get(ctx context.Context, id string) (*driving.BatchDetail, error) {
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	results, err := s.store.GetResults(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	mappings, err := s.store.GetMappings(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get mappings: %w", err)
	}
	return &driving.BatchDetail{Batch: *batch, Results: results, Mappings: len(mappings)}, nil
}
