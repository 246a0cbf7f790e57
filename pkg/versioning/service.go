package versioning

import (
	"context"
	"io"
)

// Service defines the versioned file use cases
type Service interface {
	// File operations
	CreateFile(ctx context.Context, req CreateFileRequest) (*Version, error)
	UpdateFile(ctx context.Context, req UpdateFileRequest) (*Version, error)
	DeleteFile(ctx context.Context, req DeleteFileRequest) error

	// Read operations
	GetActive(ctx context.Context, id string) (*Version, error)
	ListVersions(ctx context.Context, id string) ([]*Version, error)
	DownloadActive(ctx context.Context, id string) (*Version, io.ReadCloser, error)

	// PathOf returns the blob key for a version, or the file prefix when
	// version <= 0.
	PathOf(id string, version int) string
}
