package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DatabaseMemory, cfg.DatabaseType)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.True(t, cfg.EnableEventLogging)
}

func TestWithPort(t *testing.T) {
	cfg, err := Load(WithPort("9090"))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)

	_, err = Load(WithPort(""))
	assert.Error(t, err)
}

func TestWithDatabase(t *testing.T) {
	tests := []struct {
		name      string
		dbType    string
		url       string
		wantError bool
	}{
		{"memory", DatabaseMemory, "", false},
		{"badger", DatabaseBadger, "", false},
		{"postgres with url", DatabasePostgres, "postgres://localhost/db", false},
		{"postgres without url", DatabasePostgres, "", true},
		{"mongo with url", DatabaseMongo, "mongodb://localhost:27017", false},
		{"mongo without url", DatabaseMongo, "", true},
		{"unknown", "mysql", "mysql://localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(WithDatabase(tt.dbType, tt.url))
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dbType, cfg.DatabaseType)
			assert.Equal(t, tt.url, cfg.DatabaseURL)
		})
	}
}

func TestWithMongo(t *testing.T) {
	cfg, err := Load(WithDatabase(DatabaseMongo, "mongodb://localhost"), WithMongo("files", "versions"))
	require.NoError(t, err)
	assert.Equal(t, "files", cfg.MongoDatabase)
	assert.Equal(t, "versions", cfg.MongoCollection)

	_, err = Load(WithMongo("", ""))
	assert.Error(t, err)
}

func TestWithFilesystemStorage(t *testing.T) {
	cfg, err := Load(WithFilesystemStorage("/tmp/data"))
	require.NoError(t, err)
	assert.Equal(t, StorageFS, cfg.Storage.Type)
	assert.Equal(t, "/tmp/data", cfg.Storage.Config["base_dir"])

	_, err = Load(WithFilesystemStorage(""))
	assert.Error(t, err)
}

func TestWithS3Storage(t *testing.T) {
	cfg, err := Load(
		WithS3Storage("bucket", ""),
		WithS3Credentials("key", "secret"),
		WithS3Endpoint("http://localhost:9000", true),
		WithS3DeleteBatchSize(500),
	)
	require.NoError(t, err)

	assert.Equal(t, StorageS3, cfg.Storage.Type)
	assert.Equal(t, "bucket", cfg.Storage.Config["bucket"])
	assert.Equal(t, "us-east-1", cfg.Storage.Config["region"])
	assert.Equal(t, "key", cfg.Storage.Config["access_key_id"])
	assert.Equal(t, "http://localhost:9000", cfg.Storage.Config["endpoint"])
	assert.Equal(t, true, cfg.Storage.Config["use_path_style"])
	assert.Equal(t, 500, cfg.Storage.Config["delete_batch_size"])
}

func TestS3OptionsRequireS3Storage(t *testing.T) {
	_, err := Load(WithS3Credentials("key", "secret"))
	assert.Error(t, err)

	_, err = Load(WithS3Storage("bucket", ""), WithS3DeleteBatchSize(5000))
	assert.Error(t, err)
}

func TestWithBasePath(t *testing.T) {
	cfg, err := Load(WithBasePath("/tenant-a/"))
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", cfg.BasePath)
}

func TestValidateStorage(t *testing.T) {
	cfg := defaults()
	cfg.Storage = StorageBackendConfig{Name: "x", Type: "gcs"}
	assert.Error(t, cfg.Validate())

	cfg.Storage = StorageBackendConfig{Name: "s3", Type: StorageS3, Config: map[string]interface{}{}}
	assert.Error(t, cfg.Validate())
}

func TestBuildServiceMemory(t *testing.T) {
	cfg, err := Load(WithBasePath("tenant-a"), WithEventLogging(false))
	require.NoError(t, err)

	svc, closeFn, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	defer closeFn()

	v, err := svc.CreateFile(context.Background(), versioning.CreateFileRequest{ID: "doc-1", Content: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a/doc-1/v1", v.StoragePath)
}

func TestBuildBadgerAndFilesystem(t *testing.T) {
	cfg, err := Load(WithBadger(""), WithFilesystemStorage(t.TempDir()))
	require.NoError(t, err)

	rt, err := cfg.Build(context.Background())
	require.NoError(t, err)
	defer rt.Close()

	ctx := context.Background()
	_, err = rt.Service.CreateFile(ctx, versioning.CreateFileRequest{ID: "doc-1", Content: []byte("one")})
	require.NoError(t, err)
	_, err = rt.Service.UpdateFile(ctx, versioning.UpdateFileRequest{ID: "doc-1", Content: []byte("two")})
	require.NoError(t, err)

	versions, err := rt.Repository.GetVersions(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}
