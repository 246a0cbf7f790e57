package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tendant/simple-versioning/pkg/versioning"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultCollection is the collection used when Config.Collection is empty.
const DefaultCollection = "file_versions"

// Config options for the MongoDB repository
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Repository implements versioning.Repository using MongoDB. Each version is
// one document; a unique index on (id, version) enforces insert-only saves.
type Repository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var (
	_ versioning.Repository             = (*Repository)(nil)
	_ versioning.ConditionalDeactivator = (*Repository)(nil)
)

// New connects to MongoDB and prepares the collection.
func New(ctx context.Context, config Config) (*Repository, error) {
	if config.URI == "" {
		return nil, errors.New("mongo URI is required")
	}
	if config.Database == "" {
		return nil, errors.New("mongo database is required")
	}
	if config.Collection == "" {
		config.Collection = DefaultCollection
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	repo, err := NewWithCollection(ctx, client.Database(config.Database).Collection(config.Collection))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	repo.client = client
	return repo, nil
}

// NewWithCollection uses an existing collection, creating its indexes.
func NewWithCollection(ctx context.Context, collection *mongo.Collection) (*Repository, error) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}, {Key: "version", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "id", Value: 1}, {Key: "status", Value: 1}},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return &Repository{collection: collection}, nil
}

// Close disconnects the client created by New. It is a no-op for
// repositories built with NewWithCollection.
func (r *Repository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

func (r *Repository) GetActive(ctx context.Context, id string) (*versioning.Version, error) {
	filter := bson.M{"id": id, "status": versioning.StatusActive}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}}).SetLimit(2)

	versions, err := r.find(ctx, "get active", filter, opts)
	if err != nil {
		return nil, err
	}

	switch len(versions) {
	case 0:
		return nil, versioning.ErrNotFound
	case 1:
		return versions[0], nil
	default:
		return versions[0], fmt.Errorf("%w: file %s", versioning.ErrMultipleActive, id)
	}
}

func (r *Repository) GetVersions(ctx context.Context, id string) ([]*versioning.Version, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}})
	return r.find(ctx, "get versions", bson.M{"id": id}, opts)
}

func (r *Repository) Save(ctx context.Context, version *versioning.Version, path string) error {
	record := version.Clone()
	record.StoragePath = path
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s v%d", versioning.ErrVersionExists, version.ID, version.Version)
		}
		return fmt.Errorf("mongo error in save version: %w", err)
	}
	return nil
}

func (r *Repository) DeactivateVersions(ctx context.Context, id string) error {
	filter := bson.M{"id": id, "status": versioning.StatusActive}
	update := bson.M{"$set": bson.M{
		"status":     versioning.StatusInactive,
		"updated_at": time.Now().UTC(),
	}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("mongo error in deactivate versions: %w", err)
	}
	return nil
}

// DeactivateVersionsIf first flips expectedActive itself. Document updates are
// atomic, so of two racing callers only one matches; the other gets
// ErrVersionConflict. Any remaining ACTIVE versions are then deactivated.
func (r *Repository) DeactivateVersionsIf(ctx context.Context, id string, expectedActive int) error {
	now := time.Now().UTC()
	filter := bson.M{"id": id, "version": expectedActive, "status": versioning.StatusActive}
	update := bson.M{"$set": bson.M{"status": versioning.StatusInactive, "updated_at": now}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo error in deactivate versions: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s v%d is no longer active", versioning.ErrVersionConflict, id, expectedActive)
	}

	return r.DeactivateVersions(ctx, id)
}

func (r *Repository) DeleteVersions(ctx context.Context, id string) error {
	now := time.Now().UTC()
	filter := bson.M{"id": id, "status": bson.M{"$ne": versioning.StatusDeleted}}
	update := bson.M{"$set": bson.M{
		"status":     versioning.StatusDeleted,
		"updated_at": now,
		"deleted_at": now,
	}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("mongo error in delete versions: %w", err)
	}
	return nil
}

// ListIDs returns every distinct file id, sorted.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo error in list ids: %w", err)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) find(ctx context.Context, operation string, filter bson.M, opts *options.FindOptions) ([]*versioning.Version, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo error in %s: %w", operation, err)
	}
	defer cursor.Close(ctx)

	versions := []*versioning.Version{}
	if err := cursor.All(ctx, &versions); err != nil {
		return nil, fmt.Errorf("mongo error in %s: %w", operation, err)
	}
	for _, v := range versions {
		v.CreatedAt = v.CreatedAt.UTC()
		v.UpdatedAt = v.UpdatedAt.UTC()
	}
	return versions, nil
}
