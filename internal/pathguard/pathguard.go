// Package pathguard gates descriptor paths before they reach the resolver.
// A path read from configuration or user input is untrusted until it is
// shown to live inside the workspace root and to be a regular file.
package pathguard

import (
	"os"
	"path/filepath"
	"strings"
)

// Validate reports whether candidate is a regular file inside trustedRoot.
//
// Both paths are normalized to absolute, lexically-cleaned form without
// resolving symlinks; the candidate itself is then checked with Lstat so a
// symlink placed at the candidate path cannot smuggle in a target outside
// the root. Any stat failure (missing file, permission denied) yields
// false. Validate never returns an error: callers treat false as
// "rejected" regardless of cause.
func Validate(candidate, trustedRoot string) bool {
	if candidate == "" || trustedRoot == "" {
		return false
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	absRoot, err := filepath.Abs(trustedRoot)
	if err != nil {
		return false
	}

	if !within(absCandidate, absRoot) {
		return false
	}

	st, err := os.Lstat(absCandidate)
	if err != nil {
		return false
	}
	return st.Mode().IsRegular()
}

// within reports whether path is root or lies under root, comparing on
// path-component boundaries so /workspace-evil does not match /workspace.
func within(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
