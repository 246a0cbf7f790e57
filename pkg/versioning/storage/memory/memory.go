package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-versioning/pkg/versioning"
)

type object struct {
	data        []byte
	contentType string
}

// Backend is an in-memory implementation of the versioning.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
	}
}

var (
	_ versioning.BlobStore  = (*Backend)(nil)
	_ versioning.BlobReader = (*Backend)(nil)
)

// Upload stores a copy of content at path
func (b *Backend) Upload(ctx context.Context, path string, content []byte, contentType string) error {
	if path == "" {
		return errors.New("path is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data := make([]byte, len(content))
	copy(data, content)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[path] = object{data: data, contentType: contentType}
	return nil
}

// Download returns the content stored at path
func (b *Backend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[path]
	if !exists {
		return nil, versioning.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes every object under prefix
func (b *Backend) Delete(ctx context.Context, prefix string) error {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return errors.New("prefix is required")
	}
	prefix += "/"

	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
		}
	}
	return nil
}

// Keys returns every stored key, sorted. Intended for tests and debugging.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ContentType returns the content type recorded for path.
func (b *Backend) ContentType(path string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[path]
	return obj.contentType, ok
}
