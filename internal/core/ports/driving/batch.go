package driving

import (
	"context"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// BatchService reads the transfer ledger.
type BatchService interface {
	// List returns all batches, newest first.
	List(ctx context.Context) ([]domain.BatchRecord, error)

	// Get returns one batch with its results.
	Get(ctx context.Context, id string) (*BatchDetail, error)
}

// BatchDetail is a stored batch with its results.
type BatchDetail struct {
	Batch    domain.BatchRecord
	Results  []domain.UploadResult
	Mappings int
}

// RosterService regenerates roster artifacts from a stored batch.
type RosterService interface {
	// Export returns the roster CSV and instructor key JSON for a batch.
	Export(ctx context.Context, batchID string) (*RosterExport, error)
}

// RosterExport holds regenerated roster artifacts.
type RosterExport struct {
	Roster []byte
	Key    []byte
}
