package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown artifact format or platform type.
	ErrUnsupportedType = errors.New("unsupported type")

	// Submission Errors.
	// These are isolated to one submission and never abort the batch.

	// ErrInvalidIdentity indicates a submission owner is missing the stable key field.
	// The submission is reported as Skipped.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrFetchFailed indicates the submission artifact could not be fetched
	// after exhausting retries. The submission is reported as Skipped.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrUploadFailed indicates the anonymised submission could not be placed
	// at the destination after exhausting retries.
	ErrUploadFailed = errors.New("upload failed")

	// ErrVerificationMismatch indicates the destination registered the submission
	// under a different identity than expected. Never retried.
	ErrVerificationMismatch = errors.New("verification mismatch")

	// ErrCancelled indicates the run was cancelled before the submission finished.
	ErrCancelled = errors.New("cancelled")

	// Remote Errors.

	// ErrTransient indicates a remote failure expected to resolve on retry
	// (timeouts, 5xx responses).
	ErrTransient = errors.New("transient remote failure")

	// ErrRateLimited indicates the remote platform asked us to slow down.
	// Handled as global backpressure, not as a submission failure.
	ErrRateLimited = errors.New("rate limited")

	// Batch-fatal Errors.
	// These abort the whole run.

	// ErrAuthInvalid indicates the credentials were rejected or the session expired.
	ErrAuthInvalid = errors.New("authentication invalid")

	// ErrConnectivityLost indicates the remote platform cannot be reached at all.
	ErrConnectivityLost = errors.New("connectivity lost")

	// Batch Errors.

	// ErrBatchFinalized indicates a write to a batch that is already read-only.
	ErrBatchFinalized = errors.New("batch finalized")

	// ErrInvalidTransition indicates an illegal submission state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateResult indicates a second result was recorded for a submission.
	ErrDuplicateResult = errors.New("duplicate result")
)

// IsBatchFatal returns true if err must abort the whole run.
func IsBatchFatal(err error) bool {
	return errors.Is(err, ErrAuthInvalid) || errors.Is(err, ErrConnectivityLost)
}

// IsRetryable returns true if err is a transient remote failure or a rate limit signal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
