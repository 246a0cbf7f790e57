package versioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tendant/simple-versioning/pkg/versioning/objectkey"
)

// Use case names reported in OperationError.Op
const (
	OpCreate       = "create"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpGetActive    = "get_active"
	OpListVersions = "list_versions"
	OpDownload     = "download"
)

// Step names reported in OperationError.Step
const (
	StepValidate       = "validate"
	StepGetActive      = "get_active"
	StepGetVersions    = "get_versions"
	StepDeactivate     = "deactivate"
	StepUpload         = "upload"
	StepSave           = "save"
	StepDeleteVersions = "delete_versions"
	StepDeleteBlobs    = "delete_blobs"
	StepDownload       = "download"
)

// service implements the Service interface
type service struct {
	repository  Repository
	blobStore   BlobStore
	backendName string
	keys        objectkey.Generator
	eventSink   EventSink
	logger      *slog.Logger

	// creating serializes creates of the same id within this service
	creating idLocks
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the version record repository
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithBlobStore sets the content store. name is only used in error messages
// and logs.
func WithBlobStore(name string, store BlobStore) Option {
	return func(s *service) {
		s.backendName = name
		s.blobStore = store
	}
}

// WithBasePath prefixes every derived blob key with basePath.
func WithBasePath(basePath string) Option {
	return func(s *service) {
		s.keys = objectkey.NewPathGenerator(basePath)
	}
}

// WithKeyGenerator replaces the default key derivation.
func WithKeyGenerator(g objectkey.Generator) Option {
	return func(s *service) {
		s.keys = g
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		keys:      objectkey.NewPathGenerator(""),
		eventSink: NewNoopEventSink(),
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.keys == nil {
		return nil, fmt.Errorf("key generator is required")
	}
	if s.backendName == "" {
		s.backendName = "default"
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

func (s *service) PathOf(id string, version int) string {
	if version <= 0 {
		return s.keys.Prefix(id)
	}
	return s.keys.VersionKey(id, version)
}

// File operations

func (s *service) CreateFile(ctx context.Context, req CreateFileRequest) (*Version, error) {
	if err := validateContentRequest(req.ID, req.Content); err != nil {
		return nil, invalid(req.ID, OpCreate, err)
	}

	version := s.newVersion(req.ID, 1, req.Content, req.ContentType, req.FileName, req.Attributes)
	if err := validateVersion(version); err != nil {
		return nil, invalid(req.ID, OpCreate, err)
	}

	// create is only legal while the file has no versions at all. The check,
	// the upload and the save run under the id's lock so a second create of
	// the same id cannot overwrite v1 after the first has passed the check.
	unlock := s.creating.lock(req.ID)
	defer unlock()

	existing, err := s.repository.GetVersions(ctx, req.ID)
	if err != nil {
		return nil, s.fail(ctx, req.ID, OpCreate, StepGetVersions, metadataError(req.ID, "get_versions", err))
	}
	if len(existing) > 0 {
		return nil, &OperationError{ID: req.ID, Op: OpCreate, Step: StepGetVersions, Err: ErrVersionExists}
	}

	path := s.keys.VersionKey(req.ID, version.Version)
	if err := s.blobStore.Upload(ctx, path, req.Content, req.ContentType); err != nil {
		return nil, s.fail(ctx, req.ID, OpCreate, StepUpload, s.storageError(path, "upload", err))
	}

	version.StoragePath = path
	if err := s.repository.Save(ctx, version, path); err != nil {
		return nil, s.fail(ctx, req.ID, OpCreate, StepSave, metadataError(req.ID, "save", err))
	}

	s.logger.InfoContext(ctx, "Version created", "id", req.ID, "version", version.Version, "path", path)
	s.notify(ctx, OpCreate, req.ID, func() error {
		return s.eventSink.VersionCreated(ctx, version.Clone())
	})

	return version, nil
}

func (s *service) UpdateFile(ctx context.Context, req UpdateFileRequest) (*Version, error) {
	if err := validateContentRequest(req.ID, req.Content); err != nil {
		return nil, invalid(req.ID, OpUpdate, err)
	}

	// (1) current active version
	active, err := s.activeVersion(ctx, req.ID, OpUpdate)
	if err != nil {
		return nil, err
	}

	// (2) next number, (3) its path
	next := active.Version + 1
	path := s.keys.VersionKey(req.ID, next)

	version := s.newVersion(req.ID, next, req.Content, req.ContentType, req.FileName, req.Attributes)
	version.StoragePath = path
	if err := validateVersion(version); err != nil {
		return nil, invalid(req.ID, OpUpdate, err)
	}

	// (4) deactivate before upload so readers never observe two ACTIVE versions
	if err := s.deactivate(ctx, req.ID, active.Version); err != nil {
		return nil, s.fail(ctx, req.ID, OpUpdate, StepDeactivate, metadataError(req.ID, "deactivate_versions", err))
	}

	// (5) upload; failure from here on leaves the file without an ACTIVE version
	if err := s.blobStore.Upload(ctx, path, req.Content, req.ContentType); err != nil {
		return nil, s.fail(ctx, req.ID, OpUpdate, StepUpload, s.storageError(path, "upload", err),
			"previous_version", active.Version)
	}

	// (6) persist the new ACTIVE record
	if err := s.repository.Save(ctx, version, path); err != nil {
		return nil, s.fail(ctx, req.ID, OpUpdate, StepSave, metadataError(req.ID, "save", err),
			"previous_version", active.Version)
	}

	previous := active.Clone()
	previous.Status = StatusInactive

	s.logger.InfoContext(ctx, "Version superseded", "id", req.ID, "previous_version", previous.Version, "version", next, "path", path)
	s.notify(ctx, OpUpdate, req.ID, func() error {
		return s.eventSink.VersionSuperseded(ctx, previous, version.Clone())
	})

	return version, nil
}

func (s *service) DeleteFile(ctx context.Context, req DeleteFileRequest) error {
	if err := validateID(req.ID); err != nil {
		return invalid(req.ID, OpDelete, err)
	}

	if _, err := s.activeVersion(ctx, req.ID, OpDelete); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.DebugContext(ctx, "Delete skipped, no active version", "id", req.ID)
			return nil
		}
		return err
	}

	if err := s.repository.DeleteVersions(ctx, req.ID); err != nil {
		return s.fail(ctx, req.ID, OpDelete, StepDeleteVersions, metadataError(req.ID, "delete_versions", err))
	}

	if req.Physical {
		prefix := s.keys.Prefix(req.ID)
		if err := s.blobStore.Delete(ctx, prefix); err != nil {
			return s.fail(ctx, req.ID, OpDelete, StepDeleteBlobs, s.storageError(prefix, "delete", err))
		}
	}

	s.logger.InfoContext(ctx, "File deleted", "id", req.ID, "physical", req.Physical)
	s.notify(ctx, OpDelete, req.ID, func() error {
		return s.eventSink.FileDeleted(ctx, req.ID, req.Physical)
	})

	return nil
}

// Read operations

func (s *service) GetActive(ctx context.Context, id string) (*Version, error) {
	if err := validateID(id); err != nil {
		return nil, invalid(id, OpGetActive, err)
	}
	return s.activeVersion(ctx, id, OpGetActive)
}

func (s *service) ListVersions(ctx context.Context, id string) ([]*Version, error) {
	if err := validateID(id); err != nil {
		return nil, invalid(id, OpListVersions, err)
	}

	versions, err := s.repository.GetVersions(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, id, OpListVersions, StepGetVersions, metadataError(id, "get_versions", err))
	}
	if versions == nil {
		versions = []*Version{}
	}
	return versions, nil
}

func (s *service) DownloadActive(ctx context.Context, id string) (*Version, io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, nil, invalid(id, OpDownload, err)
	}

	reader, ok := s.blobStore.(BlobReader)
	if !ok {
		return nil, nil, &OperationError{ID: id, Op: OpDownload, Step: StepDownload, Err: ErrDownloadUnsupported}
	}

	active, err := s.activeVersion(ctx, id, OpDownload)
	if err != nil {
		return nil, nil, err
	}

	rc, err := reader.Download(ctx, active.StoragePath)
	if err != nil {
		return nil, nil, s.fail(ctx, id, OpDownload, StepDownload, s.storageError(active.StoragePath, "download", err))
	}
	return active, rc, nil
}

// Helper methods

// activeVersion reads the ACTIVE version of id. A repository reporting more
// than one ACTIVE version is tolerated: the newest is used and the anomaly is
// logged.
func (s *service) activeVersion(ctx context.Context, id, op string) (*Version, error) {
	active, err := s.repository.GetActive(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrMultipleActive) && active != nil:
		s.logger.WarnContext(ctx, "Multiple active versions found, using newest",
			"id", id, "op", op, "version", active.Version, "error", err)
	case errors.Is(err, ErrNotFound):
		return nil, &OperationError{ID: id, Op: op, Step: StepGetActive, Err: ErrNotFound}
	default:
		return nil, s.fail(ctx, id, op, StepGetActive, metadataError(id, "get_active", err))
	}
	if active == nil {
		return nil, &OperationError{ID: id, Op: op, Step: StepGetActive, Err: ErrNotFound}
	}
	return active, nil
}

// deactivate uses the repository's conditional deactivation when available
// so that concurrent updates of the same file conflict instead of racing.
func (s *service) deactivate(ctx context.Context, id string, expectedActive int) error {
	if cd, ok := s.repository.(ConditionalDeactivator); ok {
		return cd.DeactivateVersionsIf(ctx, id, expectedActive)
	}
	return s.repository.DeactivateVersions(ctx, id)
}

func (s *service) newVersion(id string, number int, content []byte, contentType, fileName string, attrs map[string]string) *Version {
	now := time.Now().UTC()
	v := &Version{
		ID:          id,
		Version:     number,
		Status:      StatusActive,
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(content)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if attrs != nil {
		v.Attributes = make(map[string]string, len(attrs))
		for k, val := range attrs {
			v.Attributes[k] = val
		}
	}
	return v
}

// fail wraps err with the use case and step and logs it.
func (s *service) fail(ctx context.Context, id, op, step string, err error, attrs ...any) error {
	args := append([]any{"id", id, "op", op, "step", step, "error", err}, attrs...)
	s.logger.ErrorContext(ctx, "Versioning operation failed", args...)
	return &OperationError{ID: id, Op: op, Step: step, Err: err}
}

func (s *service) storageError(key, op string, err error) error {
	var (
		storageErr *StorageError
		permErr    *PermissionError
		batchErr   *PartialBatchError
	)
	if errors.As(err, &storageErr) || errors.As(err, &permErr) || errors.As(err, &batchErr) {
		return err
	}
	return &StorageError{Backend: s.backendName, Key: key, Op: op, Err: err}
}

func (s *service) notify(ctx context.Context, op, id string, fire func() error) {
	if err := fire(); err != nil {
		s.logger.WarnContext(ctx, "Event sink failed", "id", id, "op", op, "error", err)
	}
}

func metadataError(id, op string, err error) error {
	var metaErr *MetadataError
	if errors.As(err, &metaErr) {
		return err
	}
	return &MetadataError{ID: id, Op: op, Err: err}
}

func invalid(id, op string, err error) error {
	return &OperationError{ID: id, Op: op, Step: StepValidate, Err: err}
}
