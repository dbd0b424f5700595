//go:build windows

package shell

import (
	"context"
	"fmt"
)

// Run is unsupported on Windows: environment propagation there goes
// through the persisted slots consumed by the host, not a PTY.
func Run(ctx context.Context, opts Options) error {
	return fmt.Errorf("interactive shell is not supported on windows")
}
