package versioning

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates no ACTIVE version exists for the file
	ErrNotFound = errors.New("active version not found")

	// ErrVersionExists indicates a record for (id, version) is already stored
	ErrVersionExists = errors.New("version already exists")

	// ErrVersionConflict indicates the active version changed underneath an update
	ErrVersionConflict = errors.New("active version changed concurrently")

	// ErrMultipleActive indicates more than one ACTIVE version was found for a file
	ErrMultipleActive = errors.New("multiple active versions")

	// ErrIllegalTransition indicates a status change outside the version state machine
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrDownloadUnsupported indicates the blob store cannot stream content back
	ErrDownloadUnsupported = errors.New("blob store does not support download")

	// ErrObjectNotFound indicates a blob does not exist at the requested path
	ErrObjectNotFound = errors.New("object not found")
)

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// OperationError identifies the file, use case and step at which a service
// call failed.
type OperationError struct {
	ID   string
	Op   string
	Step string
	Err  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed for file %s at step %s: %v", e.Op, e.ID, e.Step, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// StorageError represents a blob store failure
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// MetadataError represents a repository failure
type MetadataError struct {
	ID  string
	Op  string
	Err error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata operation %s failed for file %s: %v", e.Op, e.ID, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// PermissionError reports that the backend refused a destructive operation
// for lack of authorization. Callers should alert rather than retry.
type PermissionError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s on key %s (backend %s): %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// PartialBatchError reports a bulk delete that did not remove every object
// under Prefix. Failed maps each key that survived to its cause. Err is set
// when the delete stopped early, for example because a listing request
// failed, and keys after that point were never attempted.
type PartialBatchError struct {
	Backend string
	Prefix  string
	Deleted int
	Failed  map[string]error
	Err     error
}

func (e *PartialBatchError) Error() string {
	msg := fmt.Sprintf("bulk delete under %s on backend %s removed %d objects, %d failed: %s",
		e.Prefix, e.Backend, e.Deleted, len(e.Failed), strings.Join(e.FailedKeys(), ", "))
	if e.Err != nil {
		msg += fmt.Sprintf("; stopped early: %v", e.Err)
	}
	return msg
}

// FailedKeys returns the keys that could not be deleted, sorted.
func (e *PartialBatchError) FailedKeys() []string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unwrap exposes the per-key causes and Err so errors.As can find, for
// example, a *PermissionError inside the batch.
func (e *PartialBatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	for _, k := range e.FailedKeys() {
		errs = append(errs, e.Failed[k])
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
