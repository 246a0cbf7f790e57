package scan_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/repo/memory"
	"github.com/tendant/simple-versioning/pkg/versioning/scan"
)

func version(id string, n int, status versioning.VersionStatus, path string) *versioning.Version {
	return &versioning.Version{ID: id, Version: n, Status: status, StoragePath: path}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		name     string
		versions []*versioning.Version
		want     []string
	}{
		{
			name: "single active",
			versions: []*versioning.Version{
				version("doc-1", 2, versioning.StatusActive, "doc-1/v2"),
				version("doc-1", 1, versioning.StatusInactive, "doc-1/v1"),
			},
		},
		{
			name: "all deleted",
			versions: []*versioning.Version{
				version("doc-1", 1, versioning.StatusDeleted, "doc-1/v1"),
			},
		},
		{
			name: "no versions",
		},
		{
			name: "zero active",
			versions: []*versioning.Version{
				version("doc-1", 1, versioning.StatusInactive, "doc-1/v1"),
			},
			want: []string{scan.KindZeroActive},
		},
		{
			name: "multiple active",
			versions: []*versioning.Version{
				version("doc-1", 2, versioning.StatusActive, "doc-1/v2"),
				version("doc-1", 1, versioning.StatusActive, "doc-1/v1"),
			},
			want: []string{scan.KindMultipleActive},
		},
		{
			name: "path mismatch",
			versions: []*versioning.Version{
				version("doc-1", 2, versioning.StatusActive, "doc-1/v1"),
			},
			want: []string{scan.KindPathMismatch},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kinds []string
			for _, a := range scan.Inspect("doc-1", tt.versions) {
				assert.Equal(t, "doc-1", a.ID)
				kinds = append(kinds, a.Kind)
			}
			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestInspectMultipleActiveListsVersionsNewestFirst(t *testing.T) {
	anomalies := scan.Inspect("doc-1", []*versioning.Version{
		version("doc-1", 1, versioning.StatusActive, "doc-1/v1"),
		version("doc-1", 3, versioning.StatusActive, "doc-1/v3"),
	})
	require.Len(t, anomalies, 1)
	assert.Equal(t, []int{3, 1}, anomalies[0].Versions)
}

func TestScanAllIDs(t *testing.T) {
	repo := memory.New()
	repo.Put(version("ok", 1, versioning.StatusActive, "ok/v1"))
	repo.Put(version("broken", 1, versioning.StatusInactive, "broken/v1"))
	repo.Put(version("double", 1, versioning.StatusActive, "double/v1"))
	repo.Put(version("double", 2, versioning.StatusActive, "double/v2"))

	var mu sync.Mutex
	var seen []string
	var lastProgress int

	result, err := scan.New(repo).Scan(context.Background(), scan.ScanOptions{
		Concurrency: 2,
		OnAnomaly: func(a scan.Anomaly) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, a.ID)
		},
		OnProgress: func(processed, total int) {
			lastProgress = processed
			assert.Equal(t, 3, total)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScanned)
	assert.Zero(t, result.TotalFailed)
	assert.Equal(t, 3, lastProgress)
	require.Len(t, result.Anomalies, 2)
	assert.Equal(t, scan.Anomaly{ID: "broken", Kind: scan.KindZeroActive, Detail: "1 inactive versions"}, result.Anomalies[0])
	assert.Equal(t, "double", result.Anomalies[1].ID)
	assert.Equal(t, scan.KindMultipleActive, result.Anomalies[1].Kind)
	assert.ElementsMatch(t, []string{"broken", "double"}, seen)
}

func TestScanGivenIDs(t *testing.T) {
	repo := memory.New()
	repo.Put(version("a", 1, versioning.StatusInactive, "a/v1"))
	repo.Put(version("b", 1, versioning.StatusInactive, "b/v1"))

	result, err := scan.New(repo).Scan(context.Background(), scan.ScanOptions{IDs: []string{"a", "missing"}})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalScanned)
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, "a", result.Anomalies[0].ID)
}

// failingRepo fails GetVersions for one id and cannot list ids.
type failingRepo struct {
	versioning.Repository
	failID string
}

func (r *failingRepo) GetVersions(ctx context.Context, id string) ([]*versioning.Version, error) {
	if id == r.failID {
		return nil, errors.New("connection refused")
	}
	return r.Repository.GetVersions(ctx, id)
}

func TestScanRecordsPerIDFailures(t *testing.T) {
	repo := &failingRepo{Repository: memory.New(), failID: "bad"}

	result, err := scan.New(repo).Scan(context.Background(), scan.ScanOptions{IDs: []string{"good", "bad"}})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalScanned)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Contains(t, result.FailedIDs, "bad")
}

func TestScanWithoutIDsNeedsLister(t *testing.T) {
	repo := &failingRepo{Repository: memory.New()}

	_, err := scan.New(repo).Scan(context.Background(), scan.ScanOptions{})
	assert.Error(t, err)
}

func TestScanCancelled(t *testing.T) {
	repo := memory.New()
	repo.Put(version("a", 1, versioning.StatusActive, "a/v1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scan.New(repo).Scan(ctx, scan.ScanOptions{IDs: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
}
