package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

// Key layout:
//
//	ver/<id>/<version, 10 digits>  ->  JSON encoded versioning.Version
//
// File ids never contain "/", so "ver/<id>/" selects exactly one file and the
// zero padding keeps iteration in version order.
const keyPrefix = "ver/"

func keyVersionPrefix(id string) []byte {
	return []byte(keyPrefix + id + "/")
}

func keyVersion(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s/%010d", keyPrefix, id, version))
}

// Config options for the badger repository
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps the database in memory only
	InMemory bool
}

// Repository implements versioning.Repository on an embedded BadgerDB.
// Every operation runs in a single serializable transaction.
type Repository struct {
	db *badger.DB
}

var (
	_ versioning.Repository             = (*Repository)(nil)
	_ versioning.ConditionalDeactivator = (*Repository)(nil)
)

// New opens the database described by config.
func New(config Config) (*Repository, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Dir == "" {
			return nil, errors.New("badger directory is required")
		}
		opts = badger.DefaultOptions(config.Dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Dir, err)
	}
	return &Repository{db: db}, nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *badger.DB) *Repository {
	return &Repository{db: db}
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) GetActive(ctx context.Context, id string) (*versioning.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var active []*versioning.Version
	err := r.db.View(func(txn *badger.Txn) error {
		versions, err := readVersions(txn, id)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.Status == versioning.StatusActive {
				active = append(active, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger error in get active: %w", err)
	}

	switch len(active) {
	case 0:
		return nil, versioning.ErrNotFound
	case 1:
		return active[0], nil
	default:
		return active[0], fmt.Errorf("%w: file %s has %d", versioning.ErrMultipleActive, id, len(active))
	}
}

func (r *Repository) GetVersions(ctx context.Context, id string) ([]*versioning.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var versions []*versioning.Version
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		versions, err = readVersions(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger error in get versions: %w", err)
	}
	return versions, nil
}

func (r *Repository) Save(ctx context.Context, version *versioning.Version, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	record := version.Clone()
	record.StoragePath = path
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	key := keyVersion(version.ID, version.Version)
	err := r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("%w: %s v%d", versioning.ErrVersionExists, version.ID, version.Version)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return putVersion(txn, record)
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent transaction wrote the same key first
		return fmt.Errorf("%w: %s v%d", versioning.ErrVersionExists, version.ID, version.Version)
	}
	if err != nil && !errors.Is(err, versioning.ErrVersionExists) {
		return fmt.Errorf("badger error in save version: %w", err)
	}
	return err
}

func (r *Repository) DeactivateVersions(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return transitionAll(txn, id, versioning.StatusActive, versioning.StatusInactive)
	})
	if err != nil {
		return fmt.Errorf("badger error in deactivate versions: %w", err)
	}
	return nil
}

// DeactivateVersionsIf relies on badger's serializable transactions: a
// concurrent writer touching the same versions makes the commit fail with
// badger.ErrConflict, which is reported as ErrVersionConflict.
func (r *Repository) DeactivateVersionsIf(ctx context.Context, id string, expectedActive int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conflict := fmt.Errorf("%w: %s v%d is no longer active", versioning.ErrVersionConflict, id, expectedActive)
	err := r.db.Update(func(txn *badger.Txn) error {
		current, err := getVersion(txn, id, expectedActive)
		if err == badger.ErrKeyNotFound {
			return conflict
		}
		if err != nil {
			return err
		}
		if current.Status != versioning.StatusActive {
			return conflict
		}
		return transitionAll(txn, id, versioning.StatusActive, versioning.StatusInactive)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, versioning.ErrVersionConflict):
		return err
	case errors.Is(err, badger.ErrConflict):
		return conflict
	default:
		return fmt.Errorf("badger error in deactivate versions: %w", err)
	}
}

func (r *Repository) DeleteVersions(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		versions, err := readVersions(txn, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, v := range versions {
			if v.Status == versioning.StatusDeleted {
				continue
			}
			if err := versioning.CheckTransition(v.Status, versioning.StatusDeleted); err != nil {
				return err
			}
			v.Status = versioning.StatusDeleted
			v.UpdatedAt = now
			deletedAt := now
			v.DeletedAt = &deletedAt
			if err := putVersion(txn, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger error in delete versions: %w", err)
	}
	return nil
}

// ListIDs returns every file id with at least one record, in key order.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false // only keys are needed

		it := txn.NewIterator(opts)
		defer it.Close()

		last := ""
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			i := strings.LastIndex(rest, "/")
			if i <= 0 {
				continue
			}
			if id := rest[:i]; id != last {
				ids = append(ids, id)
				last = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger error in list ids: %w", err)
	}
	return ids, nil
}

// readVersions returns every version of id, newest first.
func readVersions(txn *badger.Txn, id string) ([]*versioning.Version, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyVersionPrefix(id)

	it := txn.NewIterator(opts)
	defer it.Close()

	versions := []*versioning.Version{}
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := decodeItem(it.Item())
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}

	// keys iterate oldest first
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	return versions, nil
}

func getVersion(txn *badger.Txn, id string, version int) (*versioning.Version, error) {
	item, err := txn.Get(keyVersion(id, version))
	if err != nil {
		return nil, err
	}
	return decodeItem(item)
}

func transitionAll(txn *badger.Txn, id string, from, to versioning.VersionStatus) error {
	if err := versioning.CheckTransition(from, to); err != nil {
		return err
	}
	versions, err := readVersions(txn, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, v := range versions {
		if v.Status != from {
			continue
		}
		v.Status = to
		v.UpdatedAt = now
		if err := putVersion(txn, v); err != nil {
			return err
		}
	}
	return nil
}

func putVersion(txn *badger.Txn, v *versioning.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode version: %w", err)
	}
	return txn.Set(keyVersion(v.ID, v.Version), data)
}

func decodeItem(item *badger.Item) (*versioning.Version, error) {
	var v versioning.Version
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &v)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode version %s: %w", item.Key(), err)
	}
	return &v, nil
}
