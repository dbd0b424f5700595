// Package shell spawns the user's interactive shell inside the resolved
// environment. Each spawned shell registers as a session so the injector
// can write its re-derivation preamble.
package shell

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Session is one open interactive shell. SendText writes to the PTY
// master as if the user had typed the text.
type Session struct {
	id string
	w  io.Writer
}

func NewSession(w io.Writer) *Session {
	return &Session{id: "session-" + uuid.NewString(), w: w}
}

func (s *Session) ID() string { return s.id }

func (s *Session) SendText(text string) error {
	if _, err := io.WriteString(s.w, text); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// Options configures one interactive shell run.
type Options struct {
	// Shell is the binary to spawn; $SHELL then /bin/sh when empty.
	Shell string

	// Dir is the initial working directory.
	Dir string

	// Env is the resolved mapping, merged over the parent environment
	// with the mapping winning on conflicts.
	Env map[string]string

	// OnSession is invoked once the shell is running, before user
	// input is forwarded. The injector hooks in here.
	OnSession func(*Session)
}

// DefaultShell picks the user's shell.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// MergeEnviron layers the resolved mapping over the base environment.
// Mapping entries win; base order is otherwise preserved and added keys
// are appended sorted for determinism.
func MergeEnviron(base []string, vars map[string]string) []string {
	seen := make(map[string]bool, len(vars))
	out := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if v, hit := vars[key]; hit {
				out = append(out, key+"="+v)
				seen[key] = true
				continue
			}
		}
		out = append(out, kv)
	}

	var added []string
	for k := range vars {
		if !seen[k] {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		out = append(out, k+"="+vars[k])
	}
	return out
}
