package nix

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeStub writes an executable shell script standing in for the nix
// binary and returns its path along with a flake path whose directory the
// resolver will use as cwd.
func writeStub(t *testing.T, script string) (tool, flake string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are unix-only")
	}
	dir := t.TempDir()
	tool = filepath.Join(dir, "nix-stub")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	flakeDir := filepath.Join(dir, "ws")
	if err := os.MkdirAll(flakeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	flake = filepath.Join(flakeDir, "flake.nix")
	if err := os.WriteFile(flake, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return tool, flake
}

func TestResolve_Success(t *testing.T) {
	tool, flake := writeStub(t, `
echo "evaluating..." >&2
echo "PATH=/nix/store/abc/bin:/usr/bin"
echo "this line is chatter"
echo "PYTHONPATH=/nix/store/py"
echo "PATH=/nix/store/final/bin"
`)
	r := &Resolver{Command: tool, Timeout: 10 * time.Second, Logger: discardLogger()}
	vars, err := r.Resolve(context.Background(), flake)
	if err != nil {
		t.Fatal(err)
	}
	if got := vars["PATH"]; got != "/nix/store/final/bin" {
		t.Fatalf("expected last duplicate to win, got PATH=%q", got)
	}
	if got := vars["PYTHONPATH"]; got != "/nix/store/py" {
		t.Fatalf("unexpected PYTHONPATH %q", got)
	}
	if _, ok := vars["this line is chatter"]; ok {
		t.Fatalf("chatter line should have been skipped")
	}
}

func TestResolve_ObserverSeesBothStreams(t *testing.T) {
	tool, flake := writeStub(t, `
echo "warning: dirty tree" >&2
echo "A=1"
`)
	var (
		mu    sync.Mutex
		lines []string
	)
	r := &Resolver{
		Command: tool,
		Timeout: 10 * time.Second,
		Logger:  discardLogger(),
		Observer: func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, stream+": "+line)
		},
	}
	if _, err := r.Resolve(context.Background(), flake); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "stderr: warning: dirty tree") {
		t.Fatalf("expected stderr line in transcript, got %q", joined)
	}
	if !strings.Contains(joined, "stdout: A=1") {
		t.Fatalf("expected stdout line in transcript, got %q", joined)
	}
}

func TestResolve_NonZeroExit(t *testing.T) {
	tool, flake := writeStub(t, `
echo "error: X" >&2
exit 1
`)
	r := &Resolver{Command: tool, Timeout: 10 * time.Second, Logger: discardLogger()}
	_, err := r.Resolve(context.Background(), flake)
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if resErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", resErr.ExitCode)
	}
	if !strings.Contains(resErr.StderrTail, "error: X") {
		t.Fatalf("expected stderr tail to carry the error, got %q", resErr.StderrTail)
	}
}

func TestResolve_Timeout(t *testing.T) {
	tool, flake := writeStub(t, `sleep 10`)
	r := &Resolver{Command: tool, Timeout: 200 * time.Millisecond, Logger: discardLogger()}
	start := time.Now()
	_, err := r.Resolve(context.Background(), flake)
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestResolve_ParentCancellation(t *testing.T) {
	tool, flake := writeStub(t, `sleep 10`)
	r := &Resolver{Command: tool, Timeout: 30 * time.Second, Logger: discardLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Resolve(ctx, flake)
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	// The killed child's non-zero exit must not read as a resolution
	// failure.
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		t.Fatalf("cancellation misclassified as ResolutionError: %v", err)
	}
	var toErr *TimeoutError
	if errors.As(err, &toErr) {
		t.Fatalf("cancellation misclassified as TimeoutError: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain, got %v", err)
	}
}

func TestResolve_SpawnError(t *testing.T) {
	_, flake := writeStub(t, "")
	r := &Resolver{Command: "/nonexistent/nix-binary", Timeout: time.Second, Logger: discardLogger()}
	_, err := r.Resolve(context.Background(), flake)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
}

func TestResolve_ArgumentVector(t *testing.T) {
	tool, flake := writeStub(t, `
for a in "$@"; do echo "ARG=$a" >&2; done
echo "OK=1"
`)
	var (
		mu   sync.Mutex
		args []string
	)
	r := &Resolver{
		Command:    tool,
		Timeout:    10 * time.Second,
		Impure:     true,
		ExtraFlags: []string{"--no-write-lock-file"},
		Logger:     discardLogger(),
		Observer: func(stream, line string) {
			if stream != "stderr" || !strings.HasPrefix(line, "ARG=") {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			args = append(args, strings.TrimPrefix(line, "ARG="))
		},
	}
	if _, err := r.Resolve(context.Background(), flake); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"print-dev-env", filepath.Dir(flake), "--impure", "--no-write-lock-file", "--command", "env"}
	if len(args) != len(want) {
		t.Fatalf("argv mismatch: got %v want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("argv[%d]: got %q want %q", i, args[i], want[i])
		}
	}
}

func TestResolve_QuoteInDescriptorPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are unix-only")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "nix-stub")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\necho \"CWD=$PWD\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	flakeDir := filepath.Join(dir, "a'b; rm -rf x")
	if err := os.MkdirAll(flakeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	flake := filepath.Join(flakeDir, "flake.nix")
	if err := os.WriteFile(flake, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := &Resolver{Command: tool, Timeout: 10 * time.Second, Logger: discardLogger()}
	vars, err := r.Resolve(context.Background(), flake)
	if err != nil {
		t.Fatal(err)
	}
	if got := vars["CWD"]; got != flakeDir {
		t.Fatalf("expected cwd %q, got %q", flakeDir, got)
	}
}

func TestResolve_EmptyMappingIsSuccess(t *testing.T) {
	tool, flake := writeStub(t, `true`)
	r := &Resolver{Command: tool, Timeout: 10 * time.Second, Logger: discardLogger()}
	vars, err := r.Resolve(context.Background(), flake)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 0 {
		t.Fatalf("expected empty mapping, got %v", vars)
	}
}
