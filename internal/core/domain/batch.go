package domain

import (
	"fmt"
	"sync"
	"time"
)

// TransferBatch is the aggregate root for one run.
// It grows monotonically as submissions complete and becomes read-only
// once finalized. All methods are safe for concurrent use.
type TransferBatch struct {
	// ID is the unique batch identifier (UUID).
	ID string

	// Source is the assignment submissions are read from.
	Source AssignmentRef

	// Destination is the assignment anonymised submissions are written to.
	Destination AssignmentRef

	// Salt is the run salt the identity mapper was seeded with.
	Salt string

	// CreatedAt is when the run started.
	CreatedAt time.Time

	mu        sync.RWMutex
	order     []string
	states    map[string]SubmissionState
	results   []UploadResult
	recorded  map[string]struct{}
	tokens    map[Token]struct{}
	mappings  []IdentityMapping
	finalized bool
	abortErr  error
}

// NewTransferBatch creates an empty batch.
func NewTransferBatch(id string, source, destination AssignmentRef, salt string, createdAt time.Time) *TransferBatch {
	return &TransferBatch{
		ID:          id,
		Source:      source,
		Destination: destination,
		Salt:        salt,
		CreatedAt:   createdAt,
		states:      make(map[string]SubmissionState),
		recorded:    make(map[string]struct{}),
		tokens:      make(map[Token]struct{}),
	}
}

// Discover appends a submission in the Discovered state.
func (b *TransferBatch) Discover(submissionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return ErrBatchFinalized
	}
	if submissionID == "" {
		return fmt.Errorf("%w: empty submission id", ErrInvalidInput)
	}
	if _, ok := b.states[submissionID]; ok {
		return fmt.Errorf("%w: submission %s discovered twice", ErrInvalidInput, submissionID)
	}
	b.order = append(b.order, submissionID)
	b.states[submissionID] = StateDiscovered
	return nil
}

// RegisterToken records a token issued by the identity mapper during this run.
func (b *TransferBatch) RegisterToken(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens[token] = struct{}{}
}

// Advance moves a submission to its next non-terminal state.
func (b *TransferBatch) Advance(submissionID string, next SubmissionState) error {
	if next.IsTerminal() {
		return fmt.Errorf("%w: terminal states are reached through Record", ErrInvalidTransition)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return ErrBatchFinalized
	}
	return b.transition(submissionID, next)
}

// Record stores the terminal result for a submission and moves it to the
// matching terminal state.
func (b *TransferBatch) Record(result UploadResult) error {
	if !result.Status.IsValid() {
		return fmt.Errorf("%w: status %q", ErrInvalidInput, result.Status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return ErrBatchFinalized
	}
	if _, ok := b.recorded[result.SubmissionID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, result.SubmissionID)
	}
	if result.Token != "" {
		if _, ok := b.tokens[result.Token]; !ok {
			return fmt.Errorf("%w: token %s was not issued in this batch", ErrInvalidInput, result.Token)
		}
	}
	if err := b.transition(result.SubmissionID, result.Status.State()); err != nil {
		return err
	}

	b.results = append(b.results, result)
	b.recorded[result.SubmissionID] = struct{}{}
	return nil
}

// transition applies a state change (caller must hold lock).
func (b *TransferBatch) transition(submissionID string, next SubmissionState) error {
	current, ok := b.states[submissionID]
	if !ok {
		return fmt.Errorf("%w: submission %s", ErrNotFound, submissionID)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current, next, submissionID)
	}
	b.states[submissionID] = next
	return nil
}

// Abort marks the batch as aborted with the given reason.
// The first reason wins.
func (b *TransferBatch) Abort(reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abortErr == nil {
		b.abortErr = reason
	}
}

// Finalize attaches the final mapping table and makes the batch read-only.
// Every recorded token must be present in mappings.
func (b *TransferBatch) Finalize(mappings []IdentityMapping) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return ErrBatchFinalized
	}

	issued := make(map[Token]struct{}, len(mappings))
	for _, m := range mappings {
		issued[m.Token] = struct{}{}
	}
	for _, r := range b.results {
		if r.Token == "" {
			continue
		}
		if _, ok := issued[r.Token]; !ok {
			return fmt.Errorf("%w: result %s references unknown token %s", ErrInvalidInput, r.SubmissionID, r.Token)
		}
	}

	b.mappings = append([]IdentityMapping(nil), mappings...)
	b.finalized = true
	return nil
}

// IsFinalized returns true once Finalize has succeeded.
func (b *TransferBatch) IsFinalized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finalized
}

// State returns the current state of a submission.
func (b *TransferBatch) State(submissionID string) (SubmissionState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[submissionID]
	return s, ok
}

// Submissions returns the discovered submission IDs in discovery order.
func (b *TransferBatch) Submissions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Results returns a copy of the recorded results in completion order.
func (b *TransferBatch) Results() []UploadResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]UploadResult(nil), b.results...)
}

// Mappings returns the finalized mapping table (nil before Finalize).
func (b *TransferBatch) Mappings() []IdentityMapping {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]IdentityMapping(nil), b.mappings...)
}

// Summary reports the batch outcome.
func (b *TransferBatch) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sum := Summary{BatchID: b.ID}
	for _, r := range b.results {
		switch r.Status {
		case StatusSucceeded:
			sum.Succeeded++
		case StatusFailed:
			sum.Failed = append(sum.Failed, ResultRef{SubmissionID: r.SubmissionID, Token: r.Token, Reason: r.Reason})
		case StatusSkipped:
			sum.Skipped = append(sum.Skipped, ResultRef{SubmissionID: r.SubmissionID, Token: r.Token, Reason: r.Reason})
		}
		for _, w := range r.Warnings {
			sum.Warnings = append(sum.Warnings, SubmissionWarning{SubmissionID: r.SubmissionID, Warning: w})
		}
	}
	for _, id := range b.order {
		if s := b.states[id]; !s.IsTerminal() {
			sum.Pending = append(sum.Pending, PendingRef{SubmissionID: id, State: s})
		}
	}

	switch {
	case b.abortErr != nil:
		sum.Outcome = OutcomeAborted
		sum.AbortReason = b.abortErr.Error()
	case len(sum.Failed)+len(sum.Skipped)+len(sum.Pending) == 0:
		sum.Outcome = OutcomeAllSucceeded
	default:
		sum.Outcome = OutcomePartialFailure
	}
	return sum
}
