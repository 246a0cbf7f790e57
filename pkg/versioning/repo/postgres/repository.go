package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements versioning.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

var (
	_ versioning.Repository             = (*Repository)(nil)
	_ versioning.ConditionalDeactivator = (*Repository)(nil)
)

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

const selectColumns = `
	id, version, status, storage_path, COALESCE(file_name, ''), COALESCE(content_type, ''),
	size, attributes, created_at, updated_at, deleted_at`

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", versioning.ErrVersionExists, pgErr.Detail)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "23514": // check_violation
			return fmt.Errorf("%w: constraint %s", versioning.ErrValidation, pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) GetActive(ctx context.Context, id string) (*versioning.Version, error) {
	query := `SELECT ` + selectColumns + `
		FROM file_version
		WHERE id = $1 AND status = 'ACTIVE'
		ORDER BY version DESC
		LIMIT 2`

	versions, err := r.queryVersions(ctx, "get active", query, id)
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
	query := `SELECT ` + selectColumns + `
		FROM file_version
		WHERE id = $1
		ORDER BY version DESC`

	return r.queryVersions(ctx, "get versions", query, id)
}

func (r *Repository) Save(ctx context.Context, version *versioning.Version, path string) error {
	query := `
		INSERT INTO file_version (
			id, version, status, storage_path, file_name, content_type,
			size, attributes, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	createdAt := version.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := version.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	attributes := version.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}

	_, err := r.db.Exec(ctx, query,
		version.ID, version.Version, string(version.Status), path,
		version.FileName, version.ContentType, version.Size, attributes,
		createdAt, updatedAt, version.DeletedAt)
	if err != nil {
		return r.handlePostgresError("save version", err)
	}
	return nil
}

func (r *Repository) DeactivateVersions(ctx context.Context, id string) error {
	query := `
		UPDATE file_version SET status = 'INACTIVE', updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return r.handlePostgresError("deactivate versions", err)
	}
	return nil
}

// DeactivateVersionsIf deactivates every ACTIVE version of id in one
// statement, provided expectedActive is still among them. Concurrent callers
// serialize on the row locks; the loser re-checks the predicate, matches
// nothing and gets ErrVersionConflict.
func (r *Repository) DeactivateVersionsIf(ctx context.Context, id string, expectedActive int) error {
	query := `
		UPDATE file_version SET status = 'INACTIVE', updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
		  AND EXISTS (
			SELECT 1 FROM file_version
			WHERE id = $1 AND version = $2 AND status = 'ACTIVE'
		  )`

	tag, err := r.db.Exec(ctx, query, id, expectedActive)
	if err != nil {
		return r.handlePostgresError("deactivate versions", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s v%d is no longer active", versioning.ErrVersionConflict, id, expectedActive)
	}
	return nil
}

func (r *Repository) DeleteVersions(ctx context.Context, id string) error {
	// Soft delete: rows are kept with status DELETED
	query := `
		UPDATE file_version SET status = 'DELETED', deleted_at = now(), updated_at = now()
		WHERE id = $1 AND status <> 'DELETED'`

	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return r.handlePostgresError("delete versions", err)
	}
	return nil
}

// ListIDs returns every distinct file id, in order. Used by the scanner.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT id FROM file_version ORDER BY id`)
	if err != nil {
		return nil, r.handlePostgresError("list ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, r.handlePostgresError("list ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list ids", err)
	}
	return ids, nil
}

func (r *Repository) queryVersions(ctx context.Context, operation, query string, args ...interface{}) ([]*versioning.Version, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	versions := []*versioning.Version{}
	for rows.Next() {
		var v versioning.Version
		var status string
		if err := rows.Scan(
			&v.ID, &v.Version, &status, &v.StoragePath, &v.FileName, &v.ContentType,
			&v.Size, &v.Attributes, &v.CreatedAt, &v.UpdatedAt, &v.DeletedAt); err != nil {
			return nil, r.handlePostgresError(operation, err)
		}
		v.Status = versioning.VersionStatus(status)
		if len(v.Attributes) == 0 {
			v.Attributes = nil
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	return versions, nil
}
