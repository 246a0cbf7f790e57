package versioning

import (
	"context"
	"io"
)

// BlobStore stores raw content addressed by path.
type BlobStore interface {
	// Upload writes content at path, overwriting any existing object.
	Upload(ctx context.Context, path string, content []byte, contentType string) error

	// Delete removes every object stored under prefix. A prefix with no
	// matching objects is not an error. Implementations page through
	// listings and batch bulk deletes internally, returning a
	// *PartialBatchError when only some objects could be removed.
	Delete(ctx context.Context, prefix string) error
}

// BlobReader is implemented by blob stores that can stream content back.
type BlobReader interface {
	Download(ctx context.Context, path string) (io.ReadCloser, error)
}

// Repository stores version records addressed by logical file id.
type Repository interface {
	// GetActive returns the newest ACTIVE version of id, or ErrNotFound.
	// When more than one ACTIVE version exists the newest is returned
	// together with an error wrapping ErrMultipleActive.
	GetActive(ctx context.Context, id string) (*Version, error)

	// GetVersions returns every version of id in any status, newest first.
	GetVersions(ctx context.Context, id string) ([]*Version, error)

	// Save inserts a new record with StoragePath set to path. It never
	// overwrites an existing (id, version); that case fails with
	// ErrVersionExists.
	Save(ctx context.Context, version *Version, path string) error

	// DeactivateVersions sets every ACTIVE version of id to INACTIVE.
	DeactivateVersions(ctx context.Context, id string) error

	// DeleteVersions sets every non-DELETED version of id to DELETED.
	DeleteVersions(ctx context.Context, id string) error
}

// ConditionalDeactivator is an optional Repository extension for optimistic
// concurrency. DeactivateVersionsIf deactivates the ACTIVE versions of id only
// if version expectedActive is still ACTIVE, and otherwise fails with
// ErrVersionConflict without changing anything.
type ConditionalDeactivator interface {
	DeactivateVersionsIf(ctx context.Context, id string, expectedActive int) error
}

// EventSink receives notifications after successful use cases.
type EventSink interface {
	VersionCreated(ctx context.Context, version *Version) error
	VersionSuperseded(ctx context.Context, previous, current *Version) error
	FileDeleted(ctx context.Context, id string, physical bool) error
}
