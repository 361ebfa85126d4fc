// Package gradescope implements the remote platform port for Gradescope.
//
// The platform has no public API for instructors, so the connector drives
// the same web pages a browser does: it signs in through the login form,
// scrapes the submissions table of an assignment, downloads submission
// archives and uploads new submissions through the instructor upload form.
//
// # Identities
//
// The submissions table only shows display names. Listings are joined
// against the course roster export (memberships.csv) so every owner
// carries the student ID, email and role the identity mapping is keyed on.
// Uploads resolve the destination owner through the roster embedded in the
// upload page.
//
// # Errors
//
// HTTP failures are returned as [APIError] and [RateLimitError]. Both
// unwrap to the domain sentinels (domain.ErrAuthInvalid, domain.ErrTransient,
// domain.ErrRateLimited, ...) so the core classifies them with errors.Is.
package gradescope
