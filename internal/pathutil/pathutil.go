// Package pathutil implements best-effort case-insensitive path resolution
// for case-sensitive filesystems (spec.md §4.5, §9 Open Questions).
package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Resolve walks root/relPath component by component. At each step, if the
// exact component does not exist but a sibling whose lower-cased name
// matches does, that sibling is substituted. Ambiguity (more than one
// case-insensitive match) is logged as a warning and the first match (in
// os.ReadDir's filename-sorted order) is used, matching the "best-effort sibling match"
// decision (spec.md §9).
func Resolve(logger *zap.SugaredLogger, root, relPath string) string {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	current := root
	for _, part := range parts {
		if part == "" {
			continue
		}
		candidate := filepath.Join(current, part)
		if _, err := os.Lstat(candidate); err == nil {
			current = candidate
			continue
		}
		resolved, ambiguous := findSibling(current, part)
		if resolved == "" {
			// No existing sibling: keep the requested name so a later CREATE
			// can materialise it (spec.md §7: logged and proceed).
			current = candidate
			continue
		}
		if ambiguous && logger != nil {
			logger.Warnw("ambiguous case-insensitive path match", "dir", current, "component", part)
		}
		current = filepath.Join(current, resolved)
	}
	return current
}

// findSibling scans dir for an entry whose lower-cased name equals name,
// reporting whether more than one such entry exists.
func findSibling(dir, name string) (match string, ambiguous bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	lower := strings.ToLower(name)
	count := 0
	for _, e := range entries {
		if strings.ToLower(e.Name()) == lower {
			if count == 0 {
				match = e.Name()
			}
			count++
		}
	}
	return match, count > 1
}
