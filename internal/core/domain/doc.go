// Package domain defines the core business entities for subanon.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Identity: A real student identity as seen on the source course
//   - IdentityMapping: The pairing of a real identity with its pseudonym token
//   - SourceSubmission: A submission fetched from the source assignment
//   - AnonymizedSubmission: The same submission with identity stripped
//   - UploadResult: The terminal record of one submission's transfer
//   - TransferBatch: The aggregate root for one run
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
