package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// ArtifactFormat is the capability class an artifact is recognised as.
type ArtifactFormat string

// Recognised artifact formats.
const (
	FormatPlainText    ArtifactFormat = "plaintext"
	FormatPDF          ArtifactFormat = "pdf"
	FormatOfficeXML    ArtifactFormat = "officexml"
	FormatArchive      ArtifactFormat = "archive"
	FormatUnrecognised ArtifactFormat = "unrecognised"
)

// Artifact is one file belonging to a submission.
type Artifact struct {
	// Filename is the artifact's file name (no directories).
	Filename string

	// MIMEType is the content type reported by the platform, if any.
	MIMEType string

	// Content is the raw bytes.
	Content []byte
}

// Ext returns the lower-cased filename extension including the dot.
func (a Artifact) Ext() string {
	return strings.ToLower(filepath.Ext(a.Filename))
}

// SubmissionRef is a submission discovered in a source assignment listing.
type SubmissionRef struct {
	// ID is the source platform's submission identifier.
	ID string

	// Owner is the real identity of the submitter.
	Owner Identity

	// SubmittedAt is when the submission was made, if the platform reports it.
	SubmittedAt time.Time
}

// SourceSubmission is a submission with its artifacts fetched.
// Immutable once fetched.
type SourceSubmission struct {
	SubmissionRef

	// Artifacts are the submitted files.
	Artifacts []Artifact

	// Metadata holds platform-reported key-value pairs (title, group name, ...).
	Metadata map[string]string
}

// AnonymizedSubmission is a SourceSubmission with every identity field replaced.
type AnonymizedSubmission struct {
	// SubmissionID is the source submission ID this was derived from.
	SubmissionID string

	// Pseudonym is the identity the submission is uploaded under.
	Pseudonym Pseudonym

	// Owner is the pseudonymous owner identity.
	Owner Identity

	// Artifacts are the rewritten files.
	Artifacts []Artifact

	// Metadata is the rewritten metadata.
	Metadata map[string]string

	// Warnings are non-fatal findings such as ContentMayLeakIdentity.
	Warnings []Warning
}

// RemoteSubmission is what the platform reports about an existing submission.
type RemoteSubmission struct {
	// ID is the platform submission identifier.
	ID string

	// OwnerName is the display name of the owner as shown by the platform.
	OwnerName string
}
