package driving

import (
	"context"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// TransferService runs anonymised submission transfers.
type TransferService interface {
	// Run transfers every submission of req.Source to req.Destination.
	// The returned report is non-nil whenever a batch was started, including
	// aborted runs. The error is non-nil only if no batch could be started.
	Run(ctx context.Context, req TransferRequest, progress ProgressFunc) (*TransferReport, error)
}

// TransferRequest describes one transfer run.
type TransferRequest struct {
	// Credentials authenticate against the platform.
	Credentials domain.Credentials

	// Source is the assignment submissions are read from.
	Source domain.AssignmentRef

	// Destination is the assignment anonymised submissions are placed in.
	// Ignored when LocalDir is set.
	Destination domain.AssignmentRef

	// Salt seeds token generation. Empty uses the configured salt or a fresh random one.
	Salt string

	// Concurrency overrides the configured worker count when positive.
	Concurrency int

	// LocalDir writes anonymised submissions to a directory instead of uploading.
	LocalDir string

	// ResumeBatchID preloads the identity mappings of a previous batch
	// so returning students keep their tokens.
	ResumeBatchID string
}

// ProgressEvent reports one submission state change.
type ProgressEvent struct {
	SubmissionID string
	Token        domain.Token
	State        domain.SubmissionState
	Err          error
}

// ProgressFunc receives progress events. It may be called from several goroutines.
type ProgressFunc func(ProgressEvent)

// TransferReport is the result of a transfer run.
type TransferReport struct {
	// Batch is the persisted batch header.
	Batch domain.BatchRecord

	// Summary is the run outcome.
	Summary domain.Summary

	// Roster is the anonymised roster CSV for the destination course.
	Roster []byte

	// Key is the instructor-held mapping key JSON.
	Key []byte
}
