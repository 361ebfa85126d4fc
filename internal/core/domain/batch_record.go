package domain

import "time"

// BatchRecord is the persisted header of a transfer batch.
type BatchRecord struct {
	ID          string
	Source      AssignmentRef
	Destination AssignmentRef
	Salt        string
	TokenPrefix string

	// LocalDir is set for local-only runs.
	LocalDir string

	CreatedAt  time.Time
	FinishedAt time.Time

	// Outcome is empty while the batch is running.
	Outcome     OutcomeKind
	AbortReason string
}

// IsFinished returns true once the batch has an outcome.
func (r BatchRecord) IsFinished() bool {
	return r.Outcome != ""
}
