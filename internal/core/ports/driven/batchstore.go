package driven

import (
	"context"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// BatchStore persists the transfer ledger: batch headers, identity mappings and results.
// The store holds real identities and must stay on the instructor's machine.
type BatchStore interface {
	// SaveBatch stores or updates a batch header.
	SaveBatch(ctx context.Context, batch domain.BatchRecord) error

	// GetBatch retrieves a batch header by ID.
	// Returns domain.ErrNotFound if it does not exist.
	GetBatch(ctx context.Context, id string) (*domain.BatchRecord, error)

	// ListBatches returns all batch headers, newest first.
	ListBatches(ctx context.Context) ([]domain.BatchRecord, error)

	// SaveMappings replaces the identity mappings of a batch.
	SaveMappings(ctx context.Context, batchID string, mappings []domain.IdentityMapping) error

	// GetMappings returns the identity mappings of a batch in first-seen order.
	GetMappings(ctx context.Context, batchID string) ([]domain.IdentityMapping, error)

	// SaveResult stores the terminal result of one submission.
	SaveResult(ctx context.Context, batchID string, result domain.UploadResult) error

	// GetResults returns the results of a batch in completion order.
	GetResults(ctx context.Context, batchID string) ([]domain.UploadResult, error)
}
