package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrArtifactNotFound is returned when no filesystem entry matches the
// expected name prefix and extension. Callers seeing this immediately after a
// process exit should treat it as retryable; merge stages of the external
// tool settle asynchronously.
var ErrArtifactNotFound = errors.New("artifact not found")

// Match is one filesystem entry matching an expected artifact name.
type Match struct {
	Name string
	Path string
	Size int64
}

// Resolve scans dir for regular files whose name starts with prefix and ends
// with ext, ordered largest first. Zero matches yields ErrArtifactNotFound.
func Resolve(dir, prefix, ext string) ([]Match, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, 2)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		matches = append(matches, Match{
			Name: name,
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		})
	}
	if len(matches) == 0 {
		return nil, ErrArtifactNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Size != matches[j].Size {
			return matches[i].Size > matches[j].Size
		}
		return matches[i].Name < matches[j].Name
	})
	return matches, nil
}
