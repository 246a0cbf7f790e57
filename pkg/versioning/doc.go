// Package versioning stores files as a chain of immutable versions, keeping
// content in a pluggable BlobStore and version records in a pluggable
// Repository.
//
// Every write creates a new version and at most one version per file id is
// ACTIVE. Updates supersede the active version (ACTIVE -> INACTIVE) and
// deletes mark every version DELETED; records are never removed.
//
// # Consistency
//
// The blob store and the repository are not updated atomically. The service
// runs each use case as a fixed sequence of backend calls and stops at the
// first failure without rolling back earlier steps. Notably, an update whose
// upload fails after the previous version was deactivated leaves the file
// with no ACTIVE version; the returned *OperationError names the failed step
// and the scan subpackage can find such files afterwards.
//
// Creates of the same id are serialized within one service instance, so the
// loser fails with ErrVersionExists before uploading. Separate processes
// sharing a repository and blob store are not coordinated for create: both
// can pass the existence check and upload to the same v1 key before one
// Save fails, leaving the surviving record over the loser's content. Route
// creates of an id through a single instance when that matters. Updates are
// not affected, as conditional deactivation rejects the loser before upload.
//
// Repositories (memory, postgres, mongo, badger) and blob stores (memory, fs,
// s3) are provided under subpackages.
package versioning
