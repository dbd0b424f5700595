package envstate

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive rejects Activate while an environment is active.
	ErrAlreadyActive = errors.New("environment already active")

	// ErrActivationInFlight rejects a second Activate while the first
	// is still resolving. Exactly one resolution and one durable write
	// sequence may be in progress at a time.
	ErrActivationInFlight = errors.New("activation already in flight")

	// ErrToolUnavailable means the availability probe failed; no
	// resolution was attempted.
	ErrToolUnavailable = errors.New("nix tool is not available")
)

// ValidationError rejects a descriptor path before any tool invocation.
// The path is user-supplied, so echoing it back leaks nothing the user
// does not already have.
type ValidationError struct {
	Path string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("descriptor rejected: %s is outside the workspace or not a regular file", e.Path)
}
