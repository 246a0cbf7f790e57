package memory_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/storage/memory"
)

func TestUploadCopiesContent(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	content := []byte("hello")
	require.NoError(t, backend.Upload(ctx, "doc-1/v1", content, ""))
	content[0] = 'j'

	rc, err := backend.Download(ctx, "doc-1/v1")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ct, ok := backend.ContentType("doc-1/v1")
	assert.True(t, ok)
	assert.Equal(t, "application/octet-stream", ct)
}

func TestUploadOverwrites(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()

	require.NoError(t, backend.Upload(ctx, "doc-1/v1", []byte("one"), "text/plain"))
	require.NoError(t, backend.Upload(ctx, "doc-1/v1", []byte("two"), "text/plain"))

	rc, err := backend.Download(ctx, "doc-1/v1")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(data))
}

func TestDownloadMissing(t *testing.T) {
	_, err := memory.New().Download(context.Background(), "nope")
	assert.ErrorIs(t, err, versioning.ErrObjectNotFound)
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		want    []string
		wantErr bool
	}{
		{name: "removes every version", prefix: "doc-1", want: []string{"doc-10/v1", "other/doc-1/v1"}},
		{name: "trailing slash", prefix: "doc-1/", want: []string{"doc-10/v1", "other/doc-1/v1"}},
		{name: "unknown prefix", prefix: "doc-9", want: []string{"doc-1/v1", "doc-1/v2", "doc-10/v1", "other/doc-1/v1"}},
		{name: "empty prefix", prefix: "", wantErr: true, want: []string{"doc-1/v1", "doc-1/v2", "doc-10/v1", "other/doc-1/v1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := memory.New()
			for _, k := range []string{"doc-1/v1", "doc-1/v2", "doc-10/v1", "other/doc-1/v1"} {
				require.NoError(t, backend.Upload(ctx, k, []byte(k), ""))
			}

			err := backend.Delete(ctx, tt.prefix)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, backend.Keys())
		})
	}
}
