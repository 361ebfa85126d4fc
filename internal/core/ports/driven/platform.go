package driven

import (
	"context"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// Platform is the remote grading platform.
// Each platform type implements this interface.
type Platform interface {
	// Type returns the platform type identifier.
	Type() string

	// Authenticate opens a session with the given credentials.
	// Returns an error wrapping domain.ErrAuthInvalid if the credentials are rejected.
	Authenticate(ctx context.Context, creds domain.Credentials) (Session, error)
}

// Session is an authenticated platform session with an explicit lifetime.
// A Session is safe for concurrent use by multiple workers.
type Session interface {
	SubmissionSource
	SubmissionDestination

	// Close releases the session. Further calls fail.
	Close() error
}

// SubmissionPage is one page of a submission listing.
type SubmissionPage struct {
	// Submissions are the entries on this page, in platform order.
	Submissions []domain.SubmissionRef

	// Next is the cursor of the following page. Empty on the last page.
	Next string
}

// SubmissionSource reads submissions from an assignment.
type SubmissionSource interface {
	// ListSubmissions returns one page of the assignment's submissions.
	// An empty page cursor requests the first page.
	ListSubmissions(ctx context.Context, assignment domain.AssignmentRef, page string) (*SubmissionPage, error)

	// FetchSubmission downloads the artifacts and metadata of one submission.
	FetchSubmission(ctx context.Context, assignment domain.AssignmentRef, ref domain.SubmissionRef) (*domain.SourceSubmission, error)
}

// SubmissionDestination writes submissions into an assignment.
type SubmissionDestination interface {
	// CreateSubmission places artifacts under owner and returns the new submission ID.
	CreateSubmission(ctx context.Context, assignment domain.AssignmentRef, owner domain.Identity, artifacts []domain.Artifact) (string, error)

	// GetSubmission reads back a placed submission.
	// Returns domain.ErrNotFound if it does not exist.
	GetSubmission(ctx context.Context, assignment domain.AssignmentRef, id string) (*domain.RemoteSubmission, error)

	// FindSubmissionsByOwner returns every submission of the assignment owned
	// by ownerName, in platform order. Returns domain.ErrNotFound if there is none.
	FindSubmissionsByOwner(ctx context.Context, assignment domain.AssignmentRef, ownerName string) ([]domain.RemoteSubmission, error)
}

// DestinationOpener opens a local directory as a submission destination.
type DestinationOpener interface {
	Open(dir string) (SubmissionDestination, error)
}
