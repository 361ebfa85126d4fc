// Package services implements the driving port interfaces.
// Services contain the core transfer logic and orchestrate
// calls to driven ports (adapters).
//
// Services are pure Go with no CGO or external dependencies
// beyond the concurrency and rate limiting primitives of golang.org/x.
package services
