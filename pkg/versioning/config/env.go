package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig is filled by cleanenv. Fields are left as strings so that unset
// variables can be told apart from zero values and never override options
// applied before WithEnv.
type envConfig struct {
	Port        string `env:"PORT" env-description:"Server port"`
	Environment string `env:"ENVIRONMENT" env-description:"Runtime environment"`

	DatabaseURL     string `env:"DATABASE_URL" env-description:"memory, postgres://..., mongodb://... or badger://<dir>"`
	DBSchema        string `env:"DB_SCHEMA" env-description:"Postgres search_path"`
	AutoMigrate     string `env:"AUTO_MIGRATE" env-description:"Apply the Postgres schema on startup"`
	MongoDatabase   string `env:"MONGO_DATABASE" env-description:"Mongo database name"`
	MongoCollection string `env:"MONGO_COLLECTION" env-description:"Mongo collection name"`

	StorageURL string `env:"STORAGE_URL" env-description:"memory://, file:///path or s3://bucket?region=..."`
	BasePath   string `env:"BASE_PATH" env-description:"Prefix for every blob key"`

	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION"`

	EnableEventLogging string `env:"ENABLE_EVENT_LOGGING" env-description:"Log version events"`
}

// WithEnv applies environment variable overrides.
//
// Server:
//
//	PORT - Server port (default: "8080")
//	ENVIRONMENT - Runtime environment (default: "development")
//
// Metadata repository:
//
//	DATABASE_URL - One of:
//	               - "memory" - In-memory repository (default)
//	               - "postgres://..." or "postgresql://..." - PostgreSQL
//	               - "mongodb://..." or "mongodb+srv://..." - MongoDB
//	               - "badger:///path/to/dir" or "badger://memory" - embedded BadgerDB
//	DB_SCHEMA, AUTO_MIGRATE - Postgres search_path and schema bootstrap
//	MONGO_DATABASE, MONGO_COLLECTION - MongoDB names
//
// Blob storage:
//
//	STORAGE_URL - One of:
//	              - "memory://" - In-memory storage (default)
//	              - "file:///path/to/data" - Filesystem storage
//	              - "s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	BASE_PATH - Prefix for every blob key
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION - S3 credentials
//
// Unset variables leave the current value untouched.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return env.apply(c)
	}
}

// EnvUsage describes the environment variables understood by WithEnv.
func EnvUsage() string {
	desc, err := cleanenv.GetDescription(&envConfig{}, nil)
	if err != nil {
		return ""
	}
	return desc
}

func (e envConfig) apply(c *ServerConfig) error {
	if e.Port != "" {
		c.Port = e.Port
	}
	if e.Environment != "" {
		c.Environment = e.Environment
	}

	if err := applyDatabaseURL(e.DatabaseURL, c); err != nil {
		return err
	}
	if e.DBSchema != "" {
		c.DBSchema = e.DBSchema
	}
	if err := applyBool("AUTO_MIGRATE", e.AutoMigrate, &c.AutoMigrate); err != nil {
		return err
	}
	if e.MongoDatabase != "" {
		c.MongoDatabase = e.MongoDatabase
	}
	if e.MongoCollection != "" {
		c.MongoCollection = e.MongoCollection
	}

	if err := applyStorageURL(e.StorageURL, c); err != nil {
		return err
	}
	if c.Storage.Type == StorageS3 {
		if e.AWSAccessKeyID != "" {
			c.Storage.Config["access_key_id"] = e.AWSAccessKeyID
		}
		if e.AWSSecretAccessKey != "" {
			c.Storage.Config["secret_access_key"] = e.AWSSecretAccessKey
		}
		if e.AWSRegion != "" {
			c.Storage.Config["region"] = e.AWSRegion
		}
	}
	if e.BasePath != "" {
		c.BasePath = strings.Trim(e.BasePath, "/")
	}

	return applyBool("ENABLE_EVENT_LOGGING", e.EnableEventLogging, &c.EnableEventLogging)
}

// applyDatabaseURL picks the repository from the shape of DATABASE_URL
func applyDatabaseURL(dbURL string, c *ServerConfig) error {
	switch {
	case dbURL == "":
		return nil
	case dbURL == "memory":
		c.DatabaseType = DatabaseMemory
		c.DatabaseURL = ""
	case strings.HasPrefix(dbURL, "postgresql://"), strings.HasPrefix(dbURL, "postgres://"):
		c.DatabaseType = DatabasePostgres
		c.DatabaseURL = dbURL
	case strings.HasPrefix(dbURL, "mongodb://"), strings.HasPrefix(dbURL, "mongodb+srv://"):
		c.DatabaseType = DatabaseMongo
		c.DatabaseURL = dbURL
	case strings.HasPrefix(dbURL, "badger://"):
		dir := strings.TrimPrefix(dbURL, "badger://")
		if dir == "memory" {
			dir = ""
		}
		c.DatabaseType = DatabaseBadger
		c.DatabaseURL = ""
		c.BadgerDir = dir
	default:
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgresql://...', 'mongodb://...' or 'badger://...')", dbURL)
	}
	return nil
}

// applyStorageURL picks the blob store from the shape of STORAGE_URL
func applyStorageURL(storageURL string, c *ServerConfig) error {
	switch {
	case storageURL == "":
		return nil
	case storageURL == "memory" || storageURL == "memory://":
		return WithMemoryStorage()(c)
	case strings.HasPrefix(storageURL, "file://"):
		path := strings.TrimPrefix(storageURL, "file://")
		if path == "" {
			return fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return WithFilesystemStorage(path)(c)
	case strings.HasPrefix(storageURL, "s3://"):
		return applyS3URL(storageURL, c)
	}
	return fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", storageURL)
}

// applyS3URL configures S3 storage from a URL of the form
// s3://bucket?region=us-east-1&endpoint=http://localhost:9000&path_style=true
func applyS3URL(raw string, c *ServerConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	q := u.Query()
	if err := WithS3Storage(u.Host, q.Get("region"))(c); err != nil {
		return err
	}
	if endpoint := q.Get("endpoint"); endpoint != "" {
		pathStyle, _ := strconv.ParseBool(q.Get("path_style"))
		if err := WithS3Endpoint(endpoint, pathStyle)(c); err != nil {
			return err
		}
	}
	if create, err := strconv.ParseBool(q.Get("create_bucket")); err == nil {
		c.Storage.Config["create_bucket_if_not_exist"] = create
	}
	return nil
}

func applyBool(name, raw string, dst *bool) error {
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean for %s: %w", name, err)
	}
	*dst = parsed
	return nil
}
