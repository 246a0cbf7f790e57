package versioning

// Request DTOs

// CreateFileRequest contains parameters for creating version 1 of a file
type CreateFileRequest struct {
	ID          string
	Content     []byte
	ContentType string
	FileName    string
	Attributes  map[string]string
}

// UpdateFileRequest contains parameters for adding a new version to a file.
// Empty FileName/ContentType fields are written as given; they are not
// inherited from the superseded version.
type UpdateFileRequest struct {
	ID          string
	Content     []byte
	ContentType string
	FileName    string
	Attributes  map[string]string
}

// DeleteFileRequest contains parameters for deleting a file.
// Physical additionally removes every stored blob of the file.
type DeleteFileRequest struct {
	ID       string
	Physical bool
}
