// Package model defines the domain types and value objects for the flotilla
// reconciliation engine.
//
// This package contains pure data structures with no runtime dependencies.
// Desired state (Project, Service) is loaded fresh from the specification
// file on every invocation and observed state (ContainerRecord) is rebuilt
// from container labels on every invocation. Nothing here is persisted.
//
// The package also defines exit codes (ExitCode) and the typed error
// taxonomy (SpecError, CycleError, ConnectionError, ActionError,
// PartialFailureError) that the CLI translates into process exit codes.
package model
