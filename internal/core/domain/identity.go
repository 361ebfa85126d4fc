package domain

import (
	"fmt"
	"strings"
)

// DefaultRole is the roster role used when the source roster has none.
const DefaultRole = "Student"

// pseudonymEmailDomain is the reserved domain used for pseudonymous emails.
const pseudonymEmailDomain = "example.edu"

// Identity is a real student identity as seen on the source course.
type Identity struct {
	// Name is the full display name.
	Name string

	// StudentID is the institution's student identifier (SID).
	// It is the one stable field and keys the identity mapping.
	StudentID string

	// Email is optional and only used for roster matching.
	Email string

	// Role is the course role (Student, TA, ...). Empty means DefaultRole.
	Role string
}

// Key returns the stable mapping key for this identity.
func (i Identity) Key() string {
	return strings.TrimSpace(i.StudentID)
}

// Validate checks the identity carries its stable key field.
func (i Identity) Validate() error {
	if i.Key() == "" {
		return fmt.Errorf("%w: student id is missing", ErrInvalidIdentity)
	}
	return nil
}

// RoleOrDefault returns the role, falling back to DefaultRole.
func (i Identity) RoleOrDefault() string {
	if r := strings.TrimSpace(i.Role); r != "" {
		return r
	}
	return DefaultRole
}

// Fragments returns the identifying strings that must not survive anonymisation:
// the full name, each name part of two or more characters, the student ID,
// the email and its local part. Empty values are omitted.
func (i Identity) Fragments() []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}

	add(i.Name)
	for _, part := range strings.FieldsFunc(i.Name, isNameSeparator) {
		if len([]rune(part)) >= 2 {
			add(part)
		}
	}
	add(i.StudentID)
	add(i.Email)
	if local, _, ok := strings.Cut(i.Email, "@"); ok {
		add(local)
	}
	return out
}

func isNameSeparator(r rune) bool {
	return r == ' ' || r == '_' || r == '-' || r == '.' || r == ',' || r == '\t'
}

// Token is an opaque pseudonym substituted for a real identity.
type Token string

// String returns the token text.
func (t Token) String() string {
	return string(t)
}

// Pseudonym is a token together with the fixed naming prefix used on the destination.
type Pseudonym struct {
	Token  Token
	Prefix string
}

// DisplayName is the destination owner name, e.g. "Anon 3f9a2c1b".
// It matches the First Name / Last Name columns of the exported roster.
func (p Pseudonym) DisplayName() string {
	return p.Prefix + " " + string(p.Token)
}

// FileStem is the filename stem used for anonymised artifacts, e.g. "Anon_3f9a2c1b".
func (p Pseudonym) FileStem() string {
	return p.Prefix + "_" + string(p.Token)
}

// Email is the pseudonymous email address used in the roster.
func (p Pseudonym) Email() string {
	return string(p.Token) + "@" + pseudonymEmailDomain
}

// Identity returns the pseudonymous identity that replaces the real one.
func (p Pseudonym) Identity() Identity {
	return Identity{
		Name:      p.DisplayName(),
		StudentID: string(p.Token),
		Email:     p.Email(),
	}
}

// IdentityMapping pairs a real identity with its pseudonym token.
// Created on first encounter and never mutated during a run.
type IdentityMapping struct {
	// Identity is the real identity. Kept only in instructor-held storage.
	Identity Identity

	// Token is the pseudonym issued for Identity.Key().
	Token Token

	// FirstSeen is the zero-based order in which the identity was first resolved.
	FirstSeen int
}
