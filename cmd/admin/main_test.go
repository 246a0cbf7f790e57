package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/badger"
)

func TestRunUsage(t *testing.T) {
	assert.Equal(t, 1, run(nil))
	assert.Equal(t, 0, run([]string{"help"}))
	assert.Equal(t, 1, run([]string{"unknown"}))
}

func TestRunReleasesResourcesOnFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", "badger://"+dir)
	t.Setenv("STORAGE_URL", "memory://")

	// the file does not exist, so the command fails after the database is open
	assert.Equal(t, 1, run([]string{"active", "missing"}))
	assert.Equal(t, 1, run([]string{"versions"}))

	// badger holds a directory lock until closed
	repo, err := badger.New(badger.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}

func TestRunScanEmptyRepository(t *testing.T) {
	t.Setenv("DATABASE_URL", "badger://"+t.TempDir())
	t.Setenv("STORAGE_URL", "memory://")

	assert.Equal(t, 0, run([]string{"scan", "--json"}))
}

func TestParseOptions(t *testing.T) {
	opts := parseOptions([]string{"doc-1", "--physical", "--ids=a, b,,c", "--concurrency=4", "--json"})

	assert.Equal(t, []string{"doc-1"}, opts.args)
	assert.True(t, opts.physical)
	assert.True(t, opts.json)
	assert.Equal(t, []string{"a", "b", "c"}, opts.ids)
	assert.Equal(t, 4, opts.concurrency)
}
