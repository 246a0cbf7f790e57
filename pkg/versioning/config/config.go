package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-versioning/pkg/versioning"
	badgerrepo "github.com/tendant/simple-versioning/pkg/versioning/repo/badger"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/memory"
	mongorepo "github.com/tendant/simple-versioning/pkg/versioning/repo/mongo"
	repopg "github.com/tendant/simple-versioning/pkg/versioning/repo/postgres"
	fsstorage "github.com/tendant/simple-versioning/pkg/versioning/storage/fs"
	memorystorage "github.com/tendant/simple-versioning/pkg/versioning/storage/memory"
	s3storage "github.com/tendant/simple-versioning/pkg/versioning/storage/s3"
)

// Database types
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseMongo    = "mongo"
	DatabaseBadger   = "badger"
)

// Storage backend types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:            "8080",
		Environment:     "development",
		DatabaseType:    DatabaseMemory,
		MongoDatabase:   "versioning",
		MongoCollection: mongorepo.DefaultCollection,
		Storage: StorageBackendConfig{
			Name:   StorageMemory,
			Type:   StorageMemory,
			Config: map[string]interface{}{},
		},
		EnableEventLogging: true,
	}
}

// ServerConfig represents configuration for the versioned file service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Metadata repository
	DatabaseType string // "memory", "postgres", "mongo", "badger"
	DatabaseURL  string // postgres or mongo connection string
	DBSchema     string // Postgres schema to use (search_path)
	AutoMigrate  bool   // apply the Postgres schema on startup

	MongoDatabase   string
	MongoCollection string

	BadgerDir string // empty keeps the badger database in memory

	// Blob storage
	Storage  StorageBackendConfig
	BasePath string // prefix for every derived blob key

	EnableEventLogging bool
}

// StorageBackendConfig represents configuration for the blob store
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case DatabaseMemory, DatabaseBadger:
	case DatabasePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using postgres")
		}
	case DatabaseMongo:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required when using mongo")
		}
		if c.MongoDatabase == "" {
			return errors.New("mongo_database is required when using mongo")
		}
	default:
		return fmt.Errorf("database_type must be one of memory, postgres, mongo, badger; got %q", c.DatabaseType)
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageFS:
		if getString(c.Storage.Config, "base_dir", "") == "" {
			return errors.New("base_dir is required for fs storage")
		}
	case StorageS3:
		if getString(c.Storage.Config, "bucket", "") == "" {
			return errors.New("bucket is required for s3 storage")
		}
	default:
		return fmt.Errorf("unsupported storage backend type: %q", c.Storage.Type)
	}

	return nil
}

// BuildService creates a Service from the configuration. The returned close
// function releases database connections and must be called on shutdown.
func (c *ServerConfig) BuildService(ctx context.Context) (versioning.Service, func() error, error) {
	rt, err := c.Build(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rt.Service, rt.Close, nil
}

// Runtime holds the components built from a ServerConfig.
type Runtime struct {
	Service    versioning.Service
	Repository versioning.Repository
	BlobStore  versioning.BlobStore

	closers []func() error
}

// Close releases every resource opened by Build, returning the first error.
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// Build creates the repository, blob store and service described by the configuration.
func (c *ServerConfig) Build(ctx context.Context) (*Runtime, error) {
	rt := &Runtime{}

	repo, closeRepo, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	rt.Repository = repo
	if closeRepo != nil {
		rt.closers = append(rt.closers, closeRepo)
	}

	store, err := c.buildStorageBackend(ctx, c.Storage)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Name, err)
	}
	rt.BlobStore = store

	options := []versioning.Option{
		versioning.WithRepository(repo),
		versioning.WithBlobStore(c.Storage.Name, store),
		versioning.WithBasePath(c.BasePath),
	}
	if c.EnableEventLogging {
		options = append(options, versioning.WithEventSink(versioning.NewLoggingEventSink(slog.Default())))
	}

	svc, err := versioning.New(options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = svc
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (versioning.Repository, func() error, error) {
	switch c.DatabaseType {
	case DatabaseMemory:
		return memory.New(), nil, nil

	case DatabasePostgres:
		pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		if c.AutoMigrate {
			if err := repopg.EnsureSchema(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repopg.NewWithPool(pool), func() error { pool.Close(); return nil }, nil

	case DatabaseMongo:
		repo, err := mongorepo.New(ctx, mongorepo.Config{
			URI:        c.DatabaseURL,
			Database:   c.MongoDatabase,
			Collection: c.MongoCollection,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return repo.Close(context.Background()) }, nil

	case DatabaseBadger:
		repo, err := badgerrepo.New(badgerrepo.Config{Dir: c.BadgerDir, InMemory: c.BadgerDir == ""})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := newPool(ctx, databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context, config StorageBackendConfig) (versioning.BlobStore, error) {
	switch config.Type {
	case StorageMemory:
		return memorystorage.New(), nil

	case StorageFS:
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case StorageS3:
		return s3storage.New(ctx, s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			DeleteBatchSize:        getInt(config.Config, "delete_batch_size", s3storage.MaxDeleteBatch),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		if i, ok := value.(int); ok {
			return i
		}
		if str, ok := value.(string); ok {
			if i, err := strconv.Atoi(str); err == nil {
				return i
			}
		}
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return defaultValue
}
