package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-versioning/pkg/versioning"
)

const backendName = "fs"

// Backend is a filesystem implementation of the versioning.BlobStore interface.
// Keys map to files below BaseDir, "/" separated segments becoming directories.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: baseDir}, nil
}

var (
	_ versioning.BlobStore  = (*Backend)(nil)
	_ versioning.BlobReader = (*Backend)(nil)
)

// Upload writes content to a temporary file and renames it into place so a
// reader never sees a partially written version.
func (b *Backend) Upload(ctx context.Context, path string, content []byte, contentType string) error {
	filePath, err := b.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return b.wrap("upload", path, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return b.wrap("upload", path, fmt.Errorf("failed to create file: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return b.wrap("upload", path, fmt.Errorf("failed to write file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return b.wrap("upload", path, fmt.Errorf("failed to close file: %w", err))
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		os.Remove(tmpName)
		return b.wrap("upload", path, fmt.Errorf("failed to move file into place: %w", err))
	}
	return nil
}

// Download opens the file stored at path
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	filePath, err := b.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, versioning.ErrObjectNotFound
	} else if err != nil {
		return nil, b.wrap("download", path, fmt.Errorf("failed to open file: %w", err))
	}
	return file, nil
}

// Delete removes the directory holding every key under prefix
func (b *Backend) Delete(ctx context.Context, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return errors.New("prefix is required")
	}

	dir, err := b.resolve(prefix)
	if err != nil {
		return err
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return b.wrap("delete", prefix, err)
	}
	if !info.IsDir() {
		// a plain file named like the prefix is not "under" it
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return b.wrap("delete", prefix, fmt.Errorf("failed to remove directory: %w", err))
	}

	b.cleanupEmptyDirectories(filepath.Dir(dir))
	return nil
}

// resolve maps a key to a path strictly below baseDir. Keys that escape it,
// or that clean to baseDir itself such as "." or "a/..", are rejected.
func (b *Backend) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("path is required")
	}
	p := filepath.Join(b.baseDir, filepath.FromSlash(key))
	if p == b.baseDir {
		return "", fmt.Errorf("path %q resolves to the base directory", key)
	}
	if !strings.HasPrefix(p, b.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", key)
	}
	return p, nil
}

func (b *Backend) wrap(op, key string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return &versioning.PermissionError{Backend: backendName, Key: key, Op: op, Err: err}
	}
	return &versioning.StorageError{Backend: backendName, Key: key, Op: op, Err: err}
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	// Don't remove the base directory
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
