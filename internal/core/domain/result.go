package domain

// UploadStatus is the terminal outcome of one submission.
type UploadStatus string

// Upload statuses.
const (
	StatusSucceeded UploadStatus = "succeeded"
	StatusFailed    UploadStatus = "failed"
	StatusSkipped   UploadStatus = "skipped"
)

// IsValid returns true if the status is recognised.
func (s UploadStatus) IsValid() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// State returns the terminal submission state for this status.
func (s UploadStatus) State() SubmissionState {
	switch s {
	case StatusSucceeded:
		return StateSucceeded
	case StatusFailed:
		return StateFailed
	default:
		return StateSkipped
	}
}

// UploadResult is the terminal record of one submission's transfer.
type UploadResult struct {
	// SubmissionID is the source submission ID.
	SubmissionID string

	// DestinationSubmissionID is set when the submission was placed.
	DestinationSubmissionID string

	// Token is the pseudonym the submission was (or would have been) uploaded under.
	// Empty when the owner identity was invalid.
	Token Token

	// Status is the terminal outcome.
	Status UploadStatus

	// Reason explains Failed and Skipped results.
	Reason string

	// Warnings are non-fatal findings from the transform.
	Warnings []Warning
}

// Succeeded builds a Succeeded result.
func Succeeded(submissionID, destinationID string, token Token, warnings []Warning) UploadResult {
	return UploadResult{
		SubmissionID:            submissionID,
		DestinationSubmissionID: destinationID,
		Token:                   token,
		Status:                  StatusSucceeded,
		Warnings:                warnings,
	}
}

// Failed builds a Failed result with err as the reason.
func Failed(submissionID string, token Token, err error) UploadResult {
	return UploadResult{
		SubmissionID: submissionID,
		Token:        token,
		Status:       StatusFailed,
		Reason:       errText(err),
	}
}

// Skipped builds a Skipped result with err as the reason.
func Skipped(submissionID string, token Token, err error) UploadResult {
	return UploadResult{
		SubmissionID: submissionID,
		Token:        token,
		Status:       StatusSkipped,
		Reason:       errText(err),
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SubmissionState is a step in one submission's pipeline.
type SubmissionState int

// Submission states, in pipeline order.
const (
	StateDiscovered SubmissionState = iota
	StateFetched
	StateMapped
	StateAnonymized
	StateUploadAttempted
	StateSucceeded
	StateFailed
	StateSkipped
)

var stateNames = map[SubmissionState]string{
	StateDiscovered:      "discovered",
	StateFetched:         "fetched",
	StateMapped:          "mapped",
	StateAnonymized:      "anonymized",
	StateUploadAttempted: "upload_attempted",
	StateSucceeded:       "succeeded",
	StateFailed:          "failed",
	StateSkipped:         "skipped",
}

// String returns the state name.
func (s SubmissionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal returns true for Succeeded, Failed and Skipped.
func (s SubmissionState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// CanTransition reports whether moving from s to next is legal.
// Non-terminal states advance one step at a time, may always end in
// Failed or Skipped, and only UploadAttempted may end in Succeeded.
// Terminal states never transition.
func (s SubmissionState) CanTransition(next SubmissionState) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StateFailed, StateSkipped:
		return true
	case StateSucceeded:
		return s == StateUploadAttempted
	default:
		return next == s+1 && next <= StateUploadAttempted
	}
}
