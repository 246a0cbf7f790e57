package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/memory"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/repotest"
)

func TestRepositoryContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) versioning.Repository {
		return memory.New()
	})
}

func TestGetActiveReportsMultipleActive(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	repo.Put(repotest.NewVersion("doc-1", 1))
	repo.Put(repotest.NewVersion("doc-1", 2))

	active, err := repo.GetActive(ctx, "doc-1")
	assert.ErrorIs(t, err, versioning.ErrMultipleActive)
	require.NotNil(t, active)
	assert.Equal(t, 2, active.Version, "newest ACTIVE version is returned")
}

func TestListIDs(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	require.NoError(t, repo.Save(ctx, repotest.NewVersion("b", 1), "b/v1"))
	require.NoError(t, repo.Save(ctx, repotest.NewVersion("a", 1), "a/v1"))

	ids, err := repo.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
