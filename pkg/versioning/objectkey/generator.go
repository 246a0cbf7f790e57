package objectkey

import (
	"strconv"
	"strings"
)

// Generator defines how blob keys are derived for versioned files.
//
// Implementations must be pure: the same inputs always yield the same key,
// since the metadata record stores the key that was used at upload time.
type Generator interface {
	// VersionKey returns the key holding the content of one version.
	VersionKey(id string, version int) string

	// Prefix returns the key prefix shared by every version of id.
	Prefix(id string) string
}

// PathGenerator joins an optional base path, the file id, and a "v{n}"
// version segment with "/".
//
//	PathGenerator{}.VersionKey("doc-1", 2)                    => "doc-1/v2"
//	PathGenerator{BasePath: "tenant-a"}.VersionKey("doc-1", 2) => "tenant-a/doc-1/v2"
//	PathGenerator{BasePath: "tenant-a"}.Prefix("doc-1")        => "tenant-a/doc-1"
type PathGenerator struct {
	BasePath string
}

// NewPathGenerator creates a PathGenerator. Leading and trailing slashes are
// trimmed from basePath so "/a/" and "a" produce identical keys.
func NewPathGenerator(basePath string) *PathGenerator {
	return &PathGenerator{BasePath: strings.Trim(basePath, "/")}
}

func (g *PathGenerator) VersionKey(id string, version int) string {
	return Join(g.BasePath, id, version)
}

func (g *PathGenerator) Prefix(id string) string {
	return Join(g.BasePath, id, 0)
}

// Join builds a key from its components. Empty components are skipped and a
// version <= 0 omits the version segment.
func Join(basePath, id string, version int) string {
	parts := make([]string, 0, 3)
	if basePath != "" {
		parts = append(parts, basePath)
	}
	if id != "" {
		parts = append(parts, id)
	}
	if version > 0 {
		parts = append(parts, "v"+strconv.Itoa(version))
	}
	return strings.Join(parts, "/")
}

// ParseVersion extracts the version number from a key produced by Join.
// It returns false when the last segment is not a version segment.
func ParseVersion(key string) (int, bool) {
	last := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		last = key[i+1:]
	}
	if !strings.HasPrefix(last, "v") {
		return 0, false
	}
	n, err := strconv.Atoi(last[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
