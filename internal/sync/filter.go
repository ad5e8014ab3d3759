package sync

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// filter holds include/exclude wildcard lists. An empty include list
// passes everything; any exclude match wins.
type filter struct {
	includes []string
	excludes []string
}

func newFilter(includes, excludes []string) filter {
	return filter{includes: includes, excludes: excludes}
}

func (f filter) match(rel string) bool {
	if len(f.includes) > 0 && !anyPatternMatches(f.includes, rel) {
		return false
	}

	return !anyPatternMatches(f.excludes, rel)
}

func anyPatternMatches(patterns []string, rel string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}

		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}

		// Bare-name patterns like *.log also match against the basename,
		// so they apply at any depth.
		if !strings.Contains(p, "/") {
			if ok, err := doublestar.Match(p, path.Base(rel)); err == nil && ok {
				return true
			}
		}
	}

	return false
}

// normalizeRelPath converts a platform path into the canonical snapshot
// key: forward slashes, no leading "./".
func normalizeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	return strings.TrimPrefix(p, "./")
}
