package domain

import "fmt"

// WarningCode classifies a non-fatal finding.
type WarningCode string

// WarnContentMayLeakIdentity flags an artifact whose format could carry identity
// that the transform cannot strip.
const WarnContentMayLeakIdentity WarningCode = "ContentMayLeakIdentity"

// Warning is a non-fatal finding attached to a submission result.
// Warnings are surfaced to the user, never suppressed.
type Warning struct {
	Code     WarningCode
	Artifact string
	Message  string
}

// String renders the warning for display.
func (w Warning) String() string {
	if w.Artifact == "" {
		return fmt.Sprintf("%s: %s", w.Code, w.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", w.Code, w.Message, w.Artifact)
}
