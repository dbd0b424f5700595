// Package discover finds candidate flake descriptors in a workspace and
// watches the selected one for modification.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flakenv/flakenv/internal/pathguard"
)

const flakeFileName = "flake.nix"

// Candidates returns descriptor paths in the workspace: the root first,
// then one level of subdirectories in sorted order. Every candidate has
// already passed the path guard; callers may hand any of them straight to
// selection.
func Candidates(workspace string) ([]string, error) {
	var out []string

	root := filepath.Join(workspace, flakeFileName)
	if pathguard.Validate(root, workspace) {
		out = append(out, root)
	}

	entries, err := os.ReadDir(workspace)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}

	var subs []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ".git" {
			continue
		}
		p := filepath.Join(workspace, e.Name(), flakeFileName)
		if pathguard.Validate(p, workspace) {
			subs = append(subs, p)
		}
	}
	sort.Strings(subs)
	return append(out, subs...), nil
}
