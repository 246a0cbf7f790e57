package config

import (
	"fmt"
	"strings"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the metadata repository
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case DatabaseMemory, DatabaseBadger:
		case DatabasePostgres, DatabaseMongo:
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be one of memory, postgres, mongo, badger; got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate applies the Postgres schema when the service is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithMongo sets the database and collection used by the mongo repository
func WithMongo(database, collection string) Option {
	return func(c *ServerConfig) error {
		if database == "" {
			return fmt.Errorf("mongo database cannot be empty")
		}
		c.MongoDatabase = database
		if collection != "" {
			c.MongoCollection = collection
		}
		return nil
	}
}

// WithBadger selects the badger repository stored in dir; an empty dir keeps
// it in memory
func WithBadger(dir string) Option {
	return func(c *ServerConfig) error {
		c.DatabaseType = DatabaseBadger
		c.DatabaseURL = ""
		c.BadgerDir = dir
		return nil
	}
}

// WithMemoryStorage uses the in-memory blob store
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageBackendConfig{
			Name:   StorageMemory,
			Type:   StorageMemory,
			Config: map[string]interface{}{},
		}
		return nil
	}
}

// WithFilesystemStorage stores blobs below baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageBackendConfig{
			Name: StorageFS,
			Type: StorageFS,
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}
		return nil
	}
}

// WithS3Storage stores blobs in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.Storage = StorageBackendConfig{
			Name: StorageS3,
			Type: StorageS3,
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}
		return nil
	}
}

// WithS3Credentials sets static credentials for the S3 store
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if accessKeyID == "" || secretAccessKey == "" {
			return fmt.Errorf("both access key ID and secret access key are required")
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points the S3 store at an S3-compatible service such as MinIO
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty")
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3DeleteBatchSize bounds the keys sent per bulk delete request
func WithS3DeleteBatchSize(size int) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if size <= 0 || size > 1000 {
			return fmt.Errorf("delete batch size must be between 1 and 1000, got: %d", size)
		}
		c.Storage.Config["delete_batch_size"] = size
		return nil
	}
}

// WithBasePath prefixes every derived blob key
func WithBasePath(basePath string) Option {
	return func(c *ServerConfig) error {
		c.BasePath = strings.Trim(basePath, "/")
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

func requireS3(c *ServerConfig) error {
	if c.Storage.Type != StorageS3 {
		return fmt.Errorf("S3 storage must be configured first (current: %s)", c.Storage.Type)
	}
	if c.Storage.Config == nil {
		c.Storage.Config = map[string]interface{}{}
	}
	return nil
}
