package diag

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flakenv/flakenv/pkg/types"
)

func openTestStore(t *testing.T, maxAttempts int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "diag.db"), maxAttempts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 10)

	started := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.BeginAttempt(ctx, "attempt-1", "/ws/flake.nix", started))
	require.NoError(t, s.AppendLine(ctx, "attempt-1", 0, types.StreamStderr, "evaluating..."))
	require.NoError(t, s.AppendLine(ctx, "attempt-1", 1, types.StreamStdout, "PATH=/x"))
	require.NoError(t, s.FinishAttempt(ctx, "attempt-1", types.OutcomeSuccess, 0, 42, 1500*time.Millisecond))

	attempts, err := s.RecentAttempts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	a := attempts[0]
	require.Equal(t, types.OutcomeSuccess, a.Outcome)
	require.Equal(t, 42, a.VariableCount)
	require.Equal(t, int64(1500), a.DurationMs)
	require.True(t, a.StartedAt.Equal(started), "started_at mismatch: got %v want %v", a.StartedAt, started)

	lines, err := s.Transcript(ctx, "attempt-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, types.StreamStderr, lines[0].Stream)
	require.Equal(t, "evaluating...", lines[0].Line)
	require.Equal(t, types.StreamStdout, lines[1].Stream)
	require.Equal(t, "PATH=/x", lines[1].Line)
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 10)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("attempt-%d", i)
		require.NoError(t, s.BeginAttempt(ctx, id, "/ws/flake.nix", base.Add(time.Duration(i)*time.Second)))
	}

	attempts, err := s.RecentAttempts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "attempt-2", attempts[0].AttemptID, "newest first")
	require.Equal(t, "attempt-1", attempts[1].AttemptID)
}

func TestStore_PruneRetention(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, 2)

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("attempt-%d", i)
		require.NoError(t, s.BeginAttempt(ctx, id, "/ws/flake.nix", base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, s.AppendLine(ctx, id, 0, types.StreamStdout, "X=1"))
	}

	attempts, err := s.RecentAttempts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "attempt-3", attempts[0].AttemptID)
	require.Equal(t, "attempt-2", attempts[1].AttemptID)

	// Transcripts of pruned attempts go with them.
	lines, err := s.Transcript(ctx, "attempt-0")
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestStore_FinishUnknownAttempt(t *testing.T) {
	s := openTestStore(t, 10)
	err := s.FinishAttempt(context.Background(), "nope", types.OutcomeFailed, 1, 0, time.Second)
	require.Error(t, err)
}
