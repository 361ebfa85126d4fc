package driven

import "github.com/custodia-labs/subanon/internal/core/domain"

// Sanitiser strips embedded identity metadata from one artifact format.
// Implementations are pure: no I/O and deterministic output.
type Sanitiser interface {
	// Format returns the capability class this sanitiser handles.
	Format() domain.ArtifactFormat

	// Priority returns the selection priority (higher = preferred).
	// Container formats that refine another (e.g. OOXML over zip) return higher values.
	Priority() int

	// Detect reports whether the artifact is in this sanitiser's format.
	Detect(artifact domain.Artifact) bool

	// Sanitise rewrites the artifact content.
	Sanitise(req SanitiseRequest) (*SanitiseResult, error)
}

// SanitiseRequest is one artifact to sanitise.
type SanitiseRequest struct {
	// Artifact is the input file.
	Artifact domain.Artifact

	// Fragments are the identity strings to remove (see domain.Identity.Fragments).
	Fragments []string

	// Replacement is substituted for fragments where text is rewritten.
	Replacement string

	// Depth is the archive nesting depth of this artifact (0 for top level).
	Depth int
}

// SanitiseResult is the rewritten artifact content.
type SanitiseResult struct {
	// Content is the sanitised bytes.
	Content []byte

	// Format is the format the artifact was recognised as.
	Format domain.ArtifactFormat

	// Warnings are findings the sanitiser could not resolve.
	Warnings []domain.Warning
}

// SanitiserRegistry selects the appropriate sanitiser for an artifact.
// Artifacts no sanitiser recognises pass through unchanged with a
// ContentMayLeakIdentity warning.
type SanitiserRegistry interface {
	// Sanitise rewrites the artifact using the best matching sanitiser.
	Sanitise(req SanitiseRequest) (*SanitiseResult, error)

	// Register adds a sanitiser to the registry.
	Register(sanitiser Sanitiser)

	// Formats returns the recognised formats in priority order.
	Formats() []domain.ArtifactFormat
}
