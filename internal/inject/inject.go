// Package inject propagates an active environment into newly opened
// interactive sessions. It is a best-effort backup path: the injected
// command re-derives the environment in-process with the same tool, so
// the result may legitimately differ from the manager's last resolution
// if the outside world changed in between.
package inject

import (
	"fmt"
	"log/slog"
	"strings"
)

// Session is an open interactive session that can receive text as if the
// user had typed it.
type Session interface {
	ID() string
	SendText(text string) error
}

// Snapshot is a copy-on-read view of the manager's state taken at
// dispatch time. When a deactivation races a new-session event the
// injector sees Active=false and skips entirely; it never applies half a
// mapping.
type Snapshot struct {
	Active   bool
	FlakeDir string
}

type Injector struct {
	// Tool is the resolution binary injected into the eval line, "nix"
	// by default.
	Tool string

	// State returns the current snapshot; must be safe for concurrent
	// use.
	State func() Snapshot

	Logger *slog.Logger

	// Injected, when set, is called after a successful injection.
	Injected func(sessionID string)
}

// OnNewSession injects the environment re-derivation command into the
// session. No-op when the manager is not active at dispatch time.
func (i *Injector) OnNewSession(s Session) error {
	logger := i.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snap := i.State()
	if !snap.Active || snap.FlakeDir == "" {
		logger.Debug("skipping injection, environment not active", "session", s.ID())
		return nil
	}

	text := CommentLine() + "\n" + CommandLine(i.tool(), snap.FlakeDir) + "\n"
	if err := s.SendText(text); err != nil {
		return fmt.Errorf("inject session %s: %w", s.ID(), err)
	}
	logger.Info("injected environment into session", "session", s.ID(), "dir", snap.FlakeDir)
	if i.Injected != nil {
		i.Injected(s.ID())
	}
	return nil
}

func (i *Injector) tool() string {
	if i.Tool != "" {
		return i.Tool
	}
	return "nix"
}

// CommentLine is the benign marker written ahead of the eval command.
func CommentLine() string {
	return "# flakenv: loading nix development environment"
}

// CommandLine renders the single re-derivation command. The descriptor
// directory is wrapped in single quotes with every embedded single quote
// replaced by the '\'' sequence, so no path content can break out of the
// quoting.
func CommandLine(tool, dir string) string {
	return fmt.Sprintf(`eval "$(%s print-dev-env %s)"`, tool, quote(dir))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
