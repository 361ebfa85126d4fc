package domain

import (
	"fmt"
	"strings"
)

// AssignmentRef identifies an assignment within a course on the remote platform.
type AssignmentRef struct {
	// CourseID is the platform course identifier.
	CourseID string

	// AssignmentID is the platform assignment identifier.
	AssignmentID string
}

// ParseAssignmentRef parses "course/assignment" into an AssignmentRef.
func ParseAssignmentRef(s string) (AssignmentRef, error) {
	course, assignment, ok := strings.Cut(strings.TrimSpace(s), "/")
	ref := AssignmentRef{
		CourseID:     strings.TrimSpace(course),
		AssignmentID: strings.TrimSpace(assignment),
	}
	if !ok {
		return AssignmentRef{}, fmt.Errorf("%w: assignment reference %q must be course/assignment", ErrInvalidInput, s)
	}
	if err := ref.Validate(); err != nil {
		return AssignmentRef{}, err
	}
	return ref, nil
}

// Validate checks both identifiers are present.
func (r AssignmentRef) Validate() error {
	if r.CourseID == "" || r.AssignmentID == "" {
		return fmt.Errorf("%w: course and assignment ids are required", ErrInvalidInput)
	}
	return nil
}

// String returns the "course/assignment" form.
func (r AssignmentRef) String() string {
	return r.CourseID + "/" + r.AssignmentID
}
