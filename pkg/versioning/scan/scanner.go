package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tendant/simple-versioning/pkg/versioning"
	"github.com/tendant/simple-versioning/pkg/versioning/objectkey"
	"golang.org/x/sync/errgroup"
)

// Kinds of anomaly reported by the scanner.
const (
	// KindZeroActive marks a file with live versions but none ACTIVE, the
	// state an update leaves behind when it fails after deactivation.
	KindZeroActive = "zero_active"

	// KindMultipleActive marks a file with more than one ACTIVE version.
	KindMultipleActive = "multiple_active"

	// KindPathMismatch marks a version whose storage path does not end in
	// its own version segment.
	KindPathMismatch = "path_mismatch"
)

// IDLister is implemented by repositories that can enumerate file ids.
type IDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Anomaly describes one inconsistency found for a file.
type Anomaly struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Versions []int  `json:"versions,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Scanner inspects version records for consistency problems. It only reads.
type Scanner struct {
	repo   versioning.Repository
	logger *slog.Logger
}

// New creates a new Scanner instance.
func New(repo versioning.Repository) *Scanner {
	return &Scanner{repo: repo, logger: slog.Default()}
}

// WithLogger returns a copy of the scanner using logger.
func (s *Scanner) WithLogger(logger *slog.Logger) *Scanner {
	c := *s
	c.logger = logger
	return &c
}

// ScanOptions configures the scan operation.
type ScanOptions struct {
	// IDs to inspect. When empty the repository must implement IDLister and
	// every known id is scanned.
	IDs []string

	// Concurrency bounds the number of ids inspected at once (default: 8)
	Concurrency int

	// OnAnomaly is called for every anomaly as it is found (optional).
	// Calls are serialized.
	OnAnomaly func(Anomaly)

	// OnProgress is called after each id is inspected (optional). Calls are serialized.
	OnProgress func(processed, total int)
}

// ScanResult contains statistics about the scan operation.
type ScanResult struct {
	// TotalScanned is the number of ids inspected successfully
	TotalScanned int

	// TotalFailed is the number of ids whose versions could not be read
	TotalFailed int

	// FailedIDs maps each id that could not be read to the cause
	FailedIDs map[string]error

	// Anomalies found, ordered by id then kind
	Anomalies []Anomaly
}

// Scan inspects each id and reports anomalies. A repository failure for one
// id is recorded in the result and does not stop the scan; only context
// cancellation or a failure to list ids aborts it.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	result := &ScanResult{FailedIDs: make(map[string]error)}

	ids := opts.IDs
	if len(ids) == 0 {
		lister, ok := s.repo.(IDLister)
		if !ok {
			return result, errors.New("no ids given and repository cannot list ids")
		}
		var err error
		if ids, err = lister.ListIDs(ctx); err != nil {
			return result, fmt.Errorf("failed to list ids: %w", err)
		}
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	var mu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			versions, err := s.repo.GetVersions(gctx, id)

			mu.Lock()
			defer mu.Unlock()

			processed++
			if err != nil {
				result.TotalFailed++
				result.FailedIDs[id] = err
				s.logger.WarnContext(gctx, "Scan failed to read versions", "id", id, "error", err)
			} else {
				result.TotalScanned++
				for _, a := range Inspect(id, versions) {
					result.Anomalies = append(result.Anomalies, a)
					s.logger.WarnContext(gctx, "Version anomaly", "id", a.ID, "kind", a.Kind, "versions", a.Versions)
					if opts.OnAnomaly != nil {
						opts.OnAnomaly(a)
					}
				}
			}
			if opts.OnProgress != nil {
				opts.OnProgress(processed, len(ids))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	sort.SliceStable(result.Anomalies, func(i, j int) bool {
		if result.Anomalies[i].ID != result.Anomalies[j].ID {
			return result.Anomalies[i].ID < result.Anomalies[j].ID
		}
		return result.Anomalies[i].Kind < result.Anomalies[j].Kind
	})
	return result, nil
}

// Inspect checks the versions of a single file. A file whose versions are
// all DELETED, or that has none, is consistent.
func Inspect(id string, versions []*versioning.Version) []Anomaly {
	var (
		anomalies []Anomaly
		active    []int
		live      int
	)

	for _, v := range versions {
		switch v.Status {
		case versioning.StatusActive:
			active = append(active, v.Version)
			live++
		case versioning.StatusInactive:
			live++
		}

		if n, ok := objectkey.ParseVersion(v.StoragePath); !ok || n != v.Version {
			anomalies = append(anomalies, Anomaly{
				ID:       id,
				Kind:     KindPathMismatch,
				Versions: []int{v.Version},
				Detail:   fmt.Sprintf("storage path %q", v.StoragePath),
			})
		}
	}

	switch {
	case live > 0 && len(active) == 0:
		anomalies = append(anomalies, Anomaly{ID: id, Kind: KindZeroActive, Detail: fmt.Sprintf("%d inactive versions", live)})
	case len(active) > 1:
		sort.Sort(sort.Reverse(sort.IntSlice(active)))
		anomalies = append(anomalies, Anomaly{ID: id, Kind: KindMultipleActive, Versions: active})
	}
	return anomalies
}
