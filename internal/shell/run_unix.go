//go:build !windows

package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Run spawns the shell in a PTY and proxies the controlling terminal
// until it exits. Returns the shell's exit error, nil on clean exit.
func Run(ctx context.Context, opts Options) error {
	bin := opts.Shell
	if bin == "" {
		bin = DefaultShell()
	}

	cmd := exec.CommandContext(ctx, bin)
	cmd.Dir = opts.Dir
	cmd.Env = MergeEnviron(os.Environ(), opts.Env)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start shell: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	// Track terminal resizes.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH

	// Raw mode so keystrokes pass through unmodified.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()
	}

	if opts.OnSession != nil {
		opts.OnSession(NewSession(ptmx))
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, _ = io.Copy(os.Stdout, ptmx)

	return cmd.Wait()
}
