// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - Platform: Authenticates against the remote grading platform
//   - Session: An authenticated platform session (source and destination operations)
//   - Sanitiser: Strips embedded identity metadata from one artifact format
//   - SanitiserRegistry: Selects the sanitiser for an artifact
//   - BatchStore: Transfer batch ledger persistence
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - DestinationOpener: Opens a local directory as a destination. Without it,
//     local-only transfers are rejected.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or sanitiser package
package driven
