package versioning

import (
	"fmt"
	"strings"
)

// validateID checks a logical file id. The id doubles as a blob key prefix,
// so it may not contain "/" and may not be a relative path element: deleting
// "a" must never reach "a/b", and deleting "." or ".." must never reach the
// parent of the id's own prefix.
func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if strings.Contains(id, "/") {
		return &ValidationError{Field: "id", Reason: "must not contain '/'"}
	}
	if id == "." || id == ".." {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("%q is reserved", id)}
	}
	return nil
}

// validateContentRequest checks the caller-supplied fields of create/update.
// A nil content slice is rejected; an empty one is a valid empty file.
func validateContentRequest(id string, content []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if content == nil {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	return nil
}

// validateVersion checks the service-owned fields of a record about to be written.
func validateVersion(v *Version) error {
	if err := validateID(v.ID); err != nil {
		return err
	}
	if v.Version <= 0 {
		return &ValidationError{Field: "version", Reason: fmt.Sprintf("must be positive, got %d", v.Version)}
	}
	if !v.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v.Status)}
	}
	return nil
}

// CheckTransition returns an error wrapping ErrIllegalTransition for a
// status change the version state machine does not allow.
func CheckTransition(from, to VersionStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
