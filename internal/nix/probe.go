package nix

import (
	"context"
	"os/exec"
	"runtime"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

// Probe reports whether the resolution tool is reachable. It runs the
// platform locate-executable verb as an argv vector with a hard timeout
// and treats non-zero exit, timeout, and spawn failure alike: the tool is
// not available. Used as a fast pre-check so a missing tool is reported
// without waiting out the full resolution timeout.
func Probe(ctx context.Context, command string, timeout time.Duration) bool {
	if command == "" {
		return false
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, locateVerb(), command)
	return cmd.Run() == nil
}

func locateVerb() string {
	if runtime.GOOS == "windows" {
		return "where"
	}
	return "which"
}
