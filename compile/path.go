package compile

import (
	"path/filepath"
	"strings"
)

// ResolvePath implements the boundary path-resolution rule (spec.md §6):
// tilde expansion happens first, then an already-absolute path (Unix
// "/..." or Windows drive-qualified "X:...") is used verbatim, and
// everything else is joined against cur. Grounded on
// original_source/tests/test_windows_paths.py, which pins tilde-expand
// before absolute-check before join as the exact ordering.
func ResolvePath(cur, home, p string) string {
	p = expandTilde(p, home)
	if isAbsolute(p) {
		return p
	}
	return filepath.Join(cur, p)
}

func expandTilde(p, home string) string {
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return home + p[1:]
	}
	return p
}

// isAbsolute recognizes both Unix ("/...") and Windows drive-qualified
// ("X:...") absolute paths, independent of the host OS — a corpus built
// on Windows must still resolve correctly when the cache is later read
// on Linux and vice versa, so this does not defer to filepath.IsAbs.
func isAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		return true
	}
	return false
}
