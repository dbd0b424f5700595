// Package artifact writes the filesystem side effects of an active
// environment: a filtered KEY=VALUE dump under .vscode and the interpreter
// path derived from the resolved PATH. Both exist only while active and
// are best-effort; a failed artifact never rolls back an activation.
package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvFileName is the fixed relative path of the filtered env dump inside
// the workspace. Excluded from version control by convention.
var EnvFileName = filepath.Join(".vscode", ".env.nix")

var allowExact = map[string]bool{
	"PATH":            true,
	"LD_LIBRARY_PATH": true,
	"PYTHONPATH":      true,
}

var allowPrefixes = []string{"JUPYTER", "PYTHON"}

// Result describes what an activation left on disk.
type Result struct {
	// EnvFile is the filtered dump path.
	EnvFile string

	// Interpreter is the selected python binary, "" when none was found
	// in the resolved PATH (not an error; the interpreter step is
	// skipped).
	Interpreter string
}

type Writer struct {
	Logger *slog.Logger
}

// Write materializes the derived artifacts for an active mapping.
func (w *Writer) Write(vars map[string]string, workspace string) (Result, error) {
	logger := w.logger()

	res := Result{}
	if interp, ok := FindInterpreter(vars); ok {
		res.Interpreter = interp
		logger.Debug("interpreter located", "path", interp)
	} else {
		logger.Info("no python interpreter found in resolved PATH")
	}

	path := filepath.Join(workspace, EnvFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("mkdir artifact dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(Render(vars)), 0o644); err != nil {
		return res, fmt.Errorf("write env artifact: %w", err)
	}
	res.EnvFile = path
	return res, nil
}

// Remove deletes the env artifact. Removal of an absent file is not an
// error.
func (w *Writer) Remove(workspace string) error {
	path := filepath.Join(workspace, EnvFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove env artifact: %w", err)
	}
	return nil
}

func (w *Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// FindInterpreter scans the mapping's PATH entries in order and returns
// the first executable named python3, falling back to python within the
// same directory. Absent PATH or no hit yields ok=false.
func FindInterpreter(vars map[string]string) (string, bool) {
	pathVar, ok := vars["PATH"]
	if !ok || pathVar == "" {
		return "", false
	}
	for _, dir := range filepath.SplitList(pathVar) {
		if dir == "" {
			continue
		}
		for _, name := range []string{"python3", "python"} {
			candidate := filepath.Join(dir, name)
			if isExecutable(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func isExecutable(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.Mode().IsRegular() && st.Mode().Perm()&0o111 != 0
}

// Render produces the newline-joined KEY=VALUE dump restricted to the
// allow-list, in sorted key order for stable diffs.
func Render(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if allowed(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(vars[k])
		b.WriteByte('\n')
	}
	return b.String()
}

func allowed(key string) bool {
	if allowExact[key] {
		return true
	}
	for _, p := range allowPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
