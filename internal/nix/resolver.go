// Package nix invokes the external resolution tool and turns a flake
// descriptor into a concrete environment-variable mapping.
package nix

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultResolveTimeout bounds one print-dev-env invocation.
	DefaultResolveTimeout = 60 * time.Second

	// waitDelay bounds how long Wait may block on inherited pipes after
	// the child itself has been killed (e.g. a grandchild still holding
	// stdout open past the timeout).
	waitDelay = 5 * time.Second

	// stderrTailLines bounds the stderr carried inside a
	// ResolutionError. The full stream still reaches the observer.
	stderrTailLines = 10
)

// Observer receives every transcript line as it arrives, before the
// process has exited. stream is "stdout" or "stderr". Observation is
// decoupled from parsing: the resolver buffers stdout independently and
// parses it only after a clean exit.
type Observer func(stream, line string)

// Resolver runs `nix print-dev-env` against a descriptor and captures the
// resulting `env` dump.
type Resolver struct {
	// Command is the tool binary, "nix" by default.
	Command string

	// Timeout is the hard wall-clock bound; the child is killed when it
	// expires. DefaultResolveTimeout when zero.
	Timeout time.Duration

	// Impure prepends --impure to the invocation.
	Impure bool

	// ExtraFlags are appended verbatim after the descriptor argument.
	ExtraFlags []string

	Observer Observer
	Logger   *slog.Logger
}

// Resolve invokes the tool against the descriptor and returns the parsed
// variable mapping. The command and every argument travel as a discrete
// argv vector; descriptor contents can never splice into a shell string.
// The working directory is the descriptor's containing directory.
//
// Failure modes: *ToolError when the child cannot be spawned,
// *TimeoutError when the wall-clock bound expires, *ResolutionError on
// non-zero exit. Stdout is parsed only after exit code 0.
func (r *Resolver) Resolve(ctx context.Context, flakePath string) (map[string]string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	command := r.Command
	if command == "" {
		command = "nix"
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(flakePath)

	args := []string{"print-dev-env", dir}
	if r.Impure {
		args = append(args, "--impure")
	}
	args = append(args, r.ExtraFlags...)
	args = append(args, "--command", "env")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &lineWriter{stream: "stdout", emit: r.observe}
	stderr := &lineWriter{stream: "stderr", emit: r.observe, tailLimit: stderrTailLines}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	logger.Debug("resolving environment", "command", command, "dir", dir, "impure", r.Impure)

	err := cmd.Run()
	stdout.flush()
	stderr.flush()

	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn("resolution timed out", "dir", dir, "timeout", timeout)
		return nil, &TimeoutError{Timeout: timeout}
	}

	if err != nil {
		// A cancelled parent context kills the child; that exit is not a
		// resolution failure.
		if ctx.Err() != nil {
			return nil, &ToolError{Err: ctx.Err()}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("resolution failed",
				"dir", dir,
				"exit_code", exitErr.ExitCode(),
				"duration", time.Since(start),
			)
			return nil, &ResolutionError{
				ExitCode:   exitErr.ExitCode(),
				StderrTail: strings.Join(stderr.tail, "\n"),
			}
		}
		return nil, &ToolError{Err: err}
	}

	vars := ParseEnv(stdout.lines)
	if len(vars) == 0 {
		// Valid success edge case, but worth calling out: a dev shell
		// with no variables at all usually means the dump was empty.
		logger.Warn("resolution produced an empty mapping", "dir", dir)
	} else {
		logger.Info("environment resolved",
			"dir", dir,
			"variables", len(vars),
			"duration", time.Since(start),
		)
	}
	return vars, nil
}

func (r *Resolver) observe(stream, line string) {
	if r.Observer != nil {
		r.Observer(stream, line)
	}
}

// lineWriter splits a process output stream into lines, emitting each to
// the observer as it arrives while retaining what parsing and error
// surfacing need: all lines for stdout, a bounded tail for stderr.
type lineWriter struct {
	stream    string
	emit      func(stream, line string)
	tailLimit int

	buf   bytes.Buffer
	lines []string
	tail  []string
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		raw := w.buf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(raw[:i], []byte("\r")))
		w.buf.Next(i + 1)
		w.record(line)
	}
	return len(p), nil
}

// flush records a trailing line not terminated by a newline. Called once
// after the process has exited; the writer is single-goroutine by then.
func (w *lineWriter) flush() {
	if w.buf.Len() == 0 {
		return
	}
	line := strings.TrimSuffix(w.buf.String(), "\r")
	w.buf.Reset()
	w.record(line)
}

func (w *lineWriter) record(line string) {
	if w.tailLimit > 0 {
		w.tail = append(w.tail, line)
		if len(w.tail) > w.tailLimit {
			w.tail = w.tail[1:]
		}
	} else {
		w.lines = append(w.lines, line)
	}
	w.emit(w.stream, line)
}
