package domain

// OutcomeKind is how a run terminated.
type OutcomeKind string

// Run outcomes. A run never ends in a silent partial success.
const (
	OutcomeAllSucceeded   OutcomeKind = "all_succeeded"
	OutcomePartialFailure OutcomeKind = "partial_failure"
	OutcomeAborted        OutcomeKind = "aborted"
)

// ResultRef identifies a non-successful submission and why.
type ResultRef struct {
	SubmissionID string
	Token        Token
	Reason       string
}

// PendingRef identifies a submission left mid-pipeline by an aborted run.
type PendingRef struct {
	SubmissionID string
	State        SubmissionState
}

// SubmissionWarning is a warning together with the submission it belongs to.
type SubmissionWarning struct {
	SubmissionID string
	Warning      Warning
}

// Summary is the final report of a run.
type Summary struct {
	BatchID     string
	Outcome     OutcomeKind
	AbortReason string
	Succeeded   int
	Failed      []ResultRef
	Skipped     []ResultRef
	Pending     []PendingRef
	Warnings    []SubmissionWarning
}

// NotSucceeded returns every failed and skipped submission, failed first.
func (s Summary) NotSucceeded() []ResultRef {
	out := make([]ResultRef, 0, len(s.Failed)+len(s.Skipped))
	out = append(out, s.Failed...)
	return append(out, s.Skipped...)
}
