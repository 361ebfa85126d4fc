// Package sanitisers provides implementations of the Sanitiser interface
// for the artifact formats a submission may contain. Each sanitiser knows
// where one format keeps embedded identity metadata and how to strip it.
//
// Sanitisers are registered with the Registry at startup.
package sanitisers
