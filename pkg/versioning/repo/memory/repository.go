package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-versioning/pkg/versioning"
)

// Repository implements versioning.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	versions map[string]map[int]*versioning.Version // id -> version number -> record
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		versions: make(map[string]map[int]*versioning.Version),
	}
}

var (
	_ versioning.Repository             = (*Repository)(nil)
	_ versioning.ConditionalDeactivator = (*Repository)(nil)
)

func (r *Repository) GetActive(ctx context.Context, id string) (*versioning.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*versioning.Version
	for _, v := range r.sorted(id) {
		if v.Status == versioning.StatusActive {
			active = append(active, v)
		}
	}

	switch len(active) {
	case 0:
		return nil, versioning.ErrNotFound
	case 1:
		return active[0].Clone(), nil
	default:
		return active[0].Clone(), fmt.Errorf("%w: file %s has %d", versioning.ErrMultipleActive, id, len(active))
	}
}

func (r *Repository) GetVersions(ctx context.Context, id string) ([]*versioning.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sorted(id)
	result := make([]*versioning.Version, 0, len(sorted))
	for _, v := range sorted {
		result = append(result, v.Clone())
	}
	return result, nil
}

func (r *Repository) Save(ctx context.Context, version *versioning.Version, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNumber, ok := r.versions[version.ID]
	if !ok {
		byNumber = make(map[int]*versioning.Version)
		r.versions[version.ID] = byNumber
	}
	if _, exists := byNumber[version.Version]; exists {
		return fmt.Errorf("%w: %s v%d", versioning.ErrVersionExists, version.ID, version.Version)
	}

	// Store a copy to avoid external modifications
	record := version.Clone()
	record.StoragePath = path
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	byNumber[version.Version] = record
	return nil
}

func (r *Repository) DeactivateVersions(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.transitionAll(id, versioning.StatusActive, versioning.StatusInactive)
}

func (r *Repository) DeactivateVersionsIf(ctx context.Context, id string, expectedActive int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.versions[id][expectedActive]
	if !ok || current.Status != versioning.StatusActive {
		return fmt.Errorf("%w: %s v%d is no longer active", versioning.ErrVersionConflict, id, expectedActive)
	}
	return r.transitionAll(id, versioning.StatusActive, versioning.StatusInactive)
}

func (r *Repository) DeleteVersions(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, v := range r.versions[id] {
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
	}
	return nil
}

// transitionAll moves every version of id in status from to status to.
// Callers must hold the write lock.
func (r *Repository) transitionAll(id string, from, to versioning.VersionStatus) error {
	if err := versioning.CheckTransition(from, to); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, v := range r.versions[id] {
		if v.Status == from {
			v.Status = to
			v.UpdatedAt = now
		}
	}
	return nil
}

// sorted returns the stored records of id, newest first. Callers must hold a lock.
func (r *Repository) sorted(id string) []*versioning.Version {
	byNumber := r.versions[id]
	result := make([]*versioning.Version, 0, len(byNumber))
	for _, v := range byNumber {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version > result[j].Version
	})
	return result
}

// ListIDs returns every file id with at least one record, sorted.
func (r *Repository) ListIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.versions))
	for id, byNumber := range r.versions {
		if len(byNumber) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Put stores v as is, bypassing the insert-only and single-ACTIVE rules of
// Save. Tests use it to seed states the service never produces.
func (r *Repository) Put(v *versioning.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNumber, ok := r.versions[v.ID]
	if !ok {
		byNumber = make(map[int]*versioning.Version)
		r.versions[v.ID] = byNumber
	}
	byNumber[v.Version] = v.Clone()
}
