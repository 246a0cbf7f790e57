package badger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/badger"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/repotest"
)

func newRepository(t *testing.T) *badger.Repository {
	t.Helper()
	repo, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestRepositoryContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) versioning.Repository {
		return newRepository(t)
	})
}

func TestNewRequiresDir(t *testing.T) {
	_, err := badger.New(badger.Config{})
	assert.Error(t, err)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := badger.New(badger.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, repotest.NewVersion("doc-1", 1), "doc-1/v1"))
	require.NoError(t, repo.Close())

	repo, err = badger.New(badger.Config{Dir: dir})
	require.NoError(t, err)
	defer repo.Close()

	active, err := repo.GetActive(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1/v1", active.StoragePath)
}

func TestVersionOrderingBeyondNine(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	for n := 1; n <= 12; n++ {
		require.NoError(t, repo.DeactivateVersions(ctx, "doc-1"))
		require.NoError(t, repo.Save(ctx, repotest.NewVersion("doc-1", n), "doc-1/v"))
	}

	versions, err := repo.GetVersions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, versions, 12)
	assert.Equal(t, 12, versions[0].Version)
	assert.Equal(t, 1, versions[11].Version)

	active, err := repo.GetActive(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 12, active.Version)
}

func TestListIDs(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	require.NoError(t, repo.Save(ctx, repotest.NewVersion("doc-2", 1), "doc-2/v1"))
	require.NoError(t, repo.Save(ctx, repotest.NewVersion("doc-1", 1), "doc-1/v1"))
	require.NoError(t, repo.DeactivateVersions(ctx, "doc-1"))
	require.NoError(t, repo.Save(ctx, repotest.NewVersion("doc-1", 2), "doc-1/v2"))

	ids, err := repo.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2"}, ids)
}
