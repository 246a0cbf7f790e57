// Package repotest holds the behavioural contract every versioning.Repository
// implementation must satisfy. Backend packages call Run from their tests.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) versioning.Repository

var idCounter atomic.Int64

// NewID returns an id unique within the test binary, so shared databases can
// be reused across subtests without cleanup.
func NewID(t *testing.T) string {
	return fmt.Sprintf("file-%d-%d", time.Now().UnixNano(), idCounter.Add(1))
}

// NewVersion builds an ACTIVE record ready for Save.
func NewVersion(id string, number int) *versioning.Version {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &versioning.Version{
		ID:          id,
		Version:     number,
		Status:      versioning.StatusActive,
		FileName:    "report.txt",
		ContentType: "text/plain",
		Size:        int64(number * 10),
		Attributes:  map[string]string{"owner": "alice"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("GetActiveUnknownID", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetActive(context.Background(), NewID(t))
		assert.ErrorIs(t, err, versioning.ErrNotFound)
	})

	t.Run("GetVersionsUnknownID", func(t *testing.T) {
		repo := newRepo(t)
		versions, err := repo.GetVersions(context.Background(), NewID(t))
		require.NoError(t, err)
		assert.Empty(t, versions)
	})

	t.Run("SaveAndGetActive", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		v := NewVersion(id, 1)
		require.NoError(t, repo.Save(ctx, v, id+"/v1"))

		active, err := repo.GetActive(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, active.ID)
		assert.Equal(t, 1, active.Version)
		assert.Equal(t, versioning.StatusActive, active.Status)
		assert.Equal(t, id+"/v1", active.StoragePath)
		assert.Equal(t, "report.txt", active.FileName)
		assert.Equal(t, "text/plain", active.ContentType)
		assert.Equal(t, int64(10), active.Size)
		assert.Equal(t, map[string]string{"owner": "alice"}, active.Attributes)
		assert.WithinDuration(t, v.CreatedAt, active.CreatedAt, time.Second)
		assert.Nil(t, active.DeletedAt)
	})

	t.Run("SaveRejectsDuplicate", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))
		err := repo.Save(ctx, NewVersion(id, 1), id+"/other")
		assert.ErrorIs(t, err, versioning.ErrVersionExists)

		active, err := repo.GetActive(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id+"/v1", active.StoragePath, "original record must be untouched")
	})

	t.Run("GetVersionsNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		for n := 1; n <= 3; n++ {
			if n > 1 {
				require.NoError(t, repo.DeactivateVersions(ctx, id))
			}
			require.NoError(t, repo.Save(ctx, NewVersion(id, n), fmt.Sprintf("%s/v%d", id, n)))
		}

		versions, err := repo.GetVersions(ctx, id)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, []int{3, 2, 1}, numbers(versions))
		assert.Equal(t, versioning.StatusActive, versions[0].Status)
		assert.Equal(t, versioning.StatusInactive, versions[1].Status)
		assert.Equal(t, versioning.StatusInactive, versions[2].Status)
	})

	t.Run("VersionsAreScopedByID", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		a, b := NewID(t), NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(a, 1), a+"/v1"))
		require.NoError(t, repo.Save(ctx, NewVersion(b, 1), b+"/v1"))
		require.NoError(t, repo.DeleteVersions(ctx, a))

		_, err := repo.GetActive(ctx, a)
		assert.ErrorIs(t, err, versioning.ErrNotFound)

		active, err := repo.GetActive(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, b, active.ID)
	})

	t.Run("DeactivateVersions", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))
		require.NoError(t, repo.DeactivateVersions(ctx, id))

		_, err := repo.GetActive(ctx, id)
		assert.ErrorIs(t, err, versioning.ErrNotFound)

		versions, err := repo.GetVersions(ctx, id)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, versioning.StatusInactive, versions[0].Status)

		// no ACTIVE versions left: still succeeds
		require.NoError(t, repo.DeactivateVersions(ctx, id))
		require.NoError(t, repo.DeactivateVersions(ctx, NewID(t)))
	})

	t.Run("DeleteVersionsMarksEveryVersion", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))
		require.NoError(t, repo.DeactivateVersions(ctx, id))
		require.NoError(t, repo.Save(ctx, NewVersion(id, 2), id+"/v2"))
		require.NoError(t, repo.DeleteVersions(ctx, id))

		versions, err := repo.GetVersions(ctx, id)
		require.NoError(t, err)
		require.Len(t, versions, 2)
		for _, v := range versions {
			assert.Equal(t, versioning.StatusDeleted, v.Status, "version %d", v.Version)
			assert.NotNil(t, v.DeletedAt, "version %d", v.Version)
		}

		// idempotent, and a no-op for unknown ids
		require.NoError(t, repo.DeleteVersions(ctx, id))
		require.NoError(t, repo.DeleteVersions(ctx, NewID(t)))
	})

	t.Run("DeletedVersionsStayDeleted", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))
		require.NoError(t, repo.DeleteVersions(ctx, id))
		require.NoError(t, repo.DeactivateVersions(ctx, id))

		versions, err := repo.GetVersions(ctx, id)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, versioning.StatusDeleted, versions[0].Status)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		id := NewID(t)

		v := NewVersion(id, 1)
		require.NoError(t, repo.Save(ctx, v, id+"/v1"))
		v.Attributes["owner"] = "mallory"

		active, err := repo.GetActive(ctx, id)
		require.NoError(t, err)
		active.Attributes["owner"] = "eve"

		again, err := repo.GetActive(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "alice", again.Attributes["owner"])
	})

	t.Run("ConditionalDeactivation", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		cd, ok := repo.(versioning.ConditionalDeactivator)
		if !ok {
			t.Skip("repository does not support conditional deactivation")
		}
		id := NewID(t)

		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))

		err := cd.DeactivateVersionsIf(ctx, id, 2)
		assert.ErrorIs(t, err, versioning.ErrVersionConflict)
		active, err := repo.GetActive(ctx, id)
		require.NoError(t, err, "failed conditional deactivation must not change state")
		assert.Equal(t, 1, active.Version)

		require.NoError(t, cd.DeactivateVersionsIf(ctx, id, 1))
		_, err = repo.GetActive(ctx, id)
		assert.ErrorIs(t, err, versioning.ErrNotFound)

		err = cd.DeactivateVersionsIf(ctx, id, 1)
		assert.ErrorIs(t, err, versioning.ErrVersionConflict)
	})

	t.Run("ConcurrentConditionalDeactivation", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		cd, ok := repo.(versioning.ConditionalDeactivator)
		if !ok {
			t.Skip("repository does not support conditional deactivation")
		}
		id := NewID(t)
		require.NoError(t, repo.Save(ctx, NewVersion(id, 1), id+"/v1"))

		const workers = 8
		var wg sync.WaitGroup
		var wins, conflicts atomic.Int32
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := cd.DeactivateVersionsIf(ctx, id, 1)
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, versioning.ErrVersionConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load(), "exactly one caller may win")
		assert.Equal(t, int32(workers-1), conflicts.Load())
	})
}

func numbers(versions []*versioning.Version) []int {
	out := make([]int, len(versions))
	for i, v := range versions {
		out[i] = v.Version
	}
	return out
}
