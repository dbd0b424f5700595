package nix

import (
	"fmt"
	"time"
)

// ToolError reports that the resolution tool could not run to
// completion for reasons outside the tool itself: spawn failure
// (missing binary, permission problem) or a cancelled caller context.
// Distinct from a tool that ran and failed.
type ToolError struct {
	Err error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("nix tool error: %v", e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// ResolutionError reports a non-zero exit from the resolution tool. It
// carries a bounded stderr tail for concise surfacing; the full transcript
// lives in the diagnostics store.
type ResolutionError struct {
	ExitCode   int
	StderrTail string
}

func (e *ResolutionError) Error() string {
	if e.StderrTail == "" {
		return fmt.Sprintf("nix resolution failed with exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("nix resolution failed with exit code %d: %s", e.ExitCode, e.StderrTail)
}

// TimeoutError reports that the resolution tool exceeded its wall-clock
// bound and was terminated.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("nix resolution timed out after %s", e.Timeout)
}
