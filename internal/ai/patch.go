package ai

import "strings"

// PatchPaths extracts the file paths a unified diff touches, from the
// "+++ b/<path>" headers. Deleted files ("+++ /dev/null") fall back to the
// "--- a/<path>" header so scope checks still see them.
func PatchPaths(patch string) []string {
	var paths []string
	seen := make(map[string]bool)

	var lastMinus string
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			lastMinus = trimDiffPath(strings.TrimPrefix(line, "--- "))
		case strings.HasPrefix(line, "+++ "):
			p := trimDiffPath(strings.TrimPrefix(line, "+++ "))
			if p == "" {
				p = lastMinus
			}
			if p != "" && !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// trimDiffPath strips the a/ or b/ prefix and trailing metadata from a diff
// header path. /dev/null maps to empty.
func trimDiffPath(s string) string {
	// Headers can carry a timestamp after a tab
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "/dev/null" {
		return ""
	}
	s = strings.TrimPrefix(s, "a/")
	s = strings.TrimPrefix(s, "b/")
	return s
}
