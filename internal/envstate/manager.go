// Package envstate owns the Inactive/Active state machine. All mutation
// goes through the manager's entry points; the durable state file, not
// any in-memory flag, is the source of truth for "was this active before
// a restart".
package envstate

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flakenv/flakenv/internal/artifact"
	"github.com/flakenv/flakenv/internal/events"
	"github.com/flakenv/flakenv/internal/nix"
	"github.com/flakenv/flakenv/internal/pathguard"
	"github.com/flakenv/flakenv/internal/persist"
	"github.com/flakenv/flakenv/pkg/types"
)

// ResolveFunc runs one resolution attempt, feeding every transcript line
// to observe as it arrives.
type ResolveFunc func(ctx context.Context, flakePath string, observe nix.Observer) (map[string]string, error)

// ProbeFunc reports whether the resolution tool is reachable.
type ProbeFunc func(ctx context.Context) bool

// Bridge is the durable-slot contract (implemented by persist.Bridge).
type Bridge interface {
	Write(flakePath string, vars map[string]string) error
	Read() (*persist.Snapshot, error)
	Clear() error
}

// ArtifactWriter materializes and removes derived artifacts (implemented
// by artifact.Writer).
type ArtifactWriter interface {
	Write(vars map[string]string, workspace string) (artifact.Result, error)
	Remove(workspace string) error
}

// Recorder persists resolution transcripts (implemented by diag.Store).
// All recorder failures are logged and swallowed: diagnostics must never
// block an activation.
type Recorder interface {
	BeginAttempt(ctx context.Context, attemptID, flakePath string, startedAt time.Time) error
	AppendLine(ctx context.Context, attemptID string, seq int64, stream, line string) error
	FinishAttempt(ctx context.Context, attemptID, outcome string, exitCode, variableCount int, duration time.Duration) error
}

type Options struct {
	Workspace string
	Resolve   ResolveFunc
	Probe     ProbeFunc
	Bridge    Bridge
	Artifacts ArtifactWriter
	Broker    *events.Broker
	Recorder  Recorder // optional
	Logger    *slog.Logger
}

type Manager struct {
	workspace string
	resolve   ResolveFunc
	probe     ProbeFunc
	bridge    Bridge
	artifacts ArtifactWriter
	broker    *events.Broker
	recorder  Recorder
	logger    *slog.Logger

	// opMu serializes whole activate/deactivate operations so a
	// deactivate arriving mid-resolution waits for it to settle.
	opMu sync.Mutex

	// mu guards the state fields below.
	mu          sync.Mutex
	activating  bool
	active      bool
	restored    bool
	flakePath   string
	vars        map[string]string
	activatedAt time.Time
}

func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker := opts.Broker
	if broker == nil {
		broker = events.NewBroker()
	}
	return &Manager{
		workspace: opts.Workspace,
		resolve:   opts.Resolve,
		probe:     opts.Probe,
		bridge:    opts.Bridge,
		artifacts: opts.Artifacts,
		broker:    broker,
		recorder:  opts.Recorder,
		logger:    logger,
	}
}

// Activate validates the descriptor, probes the tool, resolves the
// environment and commits the result. All-or-nothing: any failure before
// the durable write leaves the manager Inactive with nothing persisted.
// A second Activate while one is in flight fails with
// ErrActivationInFlight; activating while Active fails with
// ErrAlreadyActive.
func (m *Manager) Activate(ctx context.Context, flakePath string) (map[string]string, error) {
	m.mu.Lock()
	if m.activating {
		m.mu.Unlock()
		return nil, ErrActivationInFlight
	}
	if m.active {
		m.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	m.activating = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.activating = false
		m.mu.Unlock()
	}()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if !pathguard.Validate(flakePath, m.workspace) {
		return nil, &ValidationError{Path: flakePath}
	}

	if !m.probe(ctx) {
		return nil, ErrToolUnavailable
	}

	vars, attemptID, err := m.runResolution(ctx, flakePath)
	if err != nil {
		return nil, err
	}

	// Durable write is part of the commit: if it fails the manager
	// stays Inactive and the caller sees the error.
	if err := m.bridge.Write(flakePath, vars); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.active = true
	m.restored = false
	m.flakePath = flakePath
	m.vars = vars
	m.activatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.writeArtifacts(vars)

	m.broker.Publish(types.Event{
		Type:      types.EventActivated,
		AttemptID: attemptID,
		Path:      flakePath,
		Fields:    map[string]any{"variables": len(vars)},
	})
	return vars, nil
}

// runResolution performs one recorded resolution attempt.
func (m *Manager) runResolution(ctx context.Context, flakePath string) (map[string]string, string, error) {
	attemptID := uuid.NewString()
	start := time.Now()

	if m.recorder != nil {
		if err := m.recorder.BeginAttempt(ctx, attemptID, flakePath, start.UTC()); err != nil {
			m.logger.Warn("diagnostics begin failed", "error", err)
		}
	}
	m.broker.Publish(types.Event{
		Type:      types.EventResolveStarted,
		AttemptID: attemptID,
		Path:      flakePath,
	})

	var seq atomic.Int64
	observe := func(stream, line string) {
		n := seq.Add(1) - 1
		if m.recorder != nil {
			if err := m.recorder.AppendLine(ctx, attemptID, n, stream, line); err != nil {
				m.logger.Warn("diagnostics append failed", "error", err)
			}
		}
		m.broker.Publish(types.Event{
			Type:      types.EventTranscriptLine,
			AttemptID: attemptID,
			Stream:    stream,
			Line:      line,
		})
	}

	vars, err := m.resolve(ctx, flakePath, observe)
	duration := time.Since(start)

	outcome := types.OutcomeSuccess
	exitCode := 0
	if err != nil {
		var (
			resErr  *nix.ResolutionError
			timeErr *nix.TimeoutError
		)
		switch {
		case errors.As(err, &timeErr):
			outcome = types.OutcomeTimeout
		case errors.As(err, &resErr):
			outcome = types.OutcomeFailed
			exitCode = resErr.ExitCode
		default:
			outcome = types.OutcomeSpawn
		}
	}
	if m.recorder != nil {
		if ferr := m.recorder.FinishAttempt(ctx, attemptID, outcome, exitCode, len(vars), duration); ferr != nil {
			m.logger.Warn("diagnostics finish failed", "error", ferr)
		}
	}
	if err != nil {
		m.broker.Publish(types.Event{
			Type:      types.EventResolveFailed,
			AttemptID: attemptID,
			Path:      flakePath,
			Fields:    map[string]any{"outcome": outcome, "exit_code": exitCode},
		})
		return nil, attemptID, err
	}
	return vars, attemptID, nil
}

// writeArtifacts is best-effort: a failed artifact never rolls back a
// committed activation.
func (m *Manager) writeArtifacts(vars map[string]string) {
	res, err := m.artifacts.Write(vars, m.workspace)
	if err != nil {
		m.logger.Warn("artifact write failed", "error", err)
		m.broker.Publish(types.Event{Type: types.EventArtifactSkipped, Fields: map[string]any{"error": err.Error()}})
		return
	}
	m.broker.Publish(types.Event{
		Type: types.EventArtifactWritten,
		Path: res.EnvFile,
		Fields: map[string]any{
			"interpreter": res.Interpreter,
		},
	})
}

// Deactivate tears down all derived state and always ends Inactive.
// Idempotent: deactivating an Inactive manager still clears the durable
// slots and succeeds. Waits for an in-flight activation to settle
// first.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.restored = false
	m.flakePath = ""
	m.vars = nil
	m.activatedAt = time.Time{}
	m.mu.Unlock()

	if err := m.bridge.Clear(); err != nil {
		return err
	}
	if err := m.artifacts.Remove(m.workspace); err != nil {
		m.logger.Warn("artifact removal failed", "error", err)
	}

	if wasActive {
		m.broker.Publish(types.Event{Type: types.EventDeactivated})
	}
	return nil
}

// Restore transitions directly to Active from a persisted snapshot
// without invoking the resolution tool. Returns false when the snapshot
// is absent, carries no mapping for this platform, or the manager is not
// Inactive.
func (m *Manager) Restore(snap *persist.Snapshot) bool {
	if snap == nil {
		return false
	}
	vars := snap.PlatformVars()
	if len(vars) == 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active || m.activating {
		return false
	}
	m.active = true
	m.restored = true
	m.flakePath = snap.FlakePath
	m.vars = vars
	m.activatedAt = snap.ActivatedAt

	m.broker.Publish(types.Event{
		Type:   types.EventRestored,
		Path:   snap.FlakePath,
		Fields: map[string]any{"variables": len(vars)},
	})
	m.logger.Info("environment restored from durable state",
		"flake", snap.FlakePath,
		"variables", len(vars),
	)
	return true
}

// Active is a pure query.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Current returns a copy-on-read snapshot for injectors and status
// surfaces: concurrent deactivation can never expose a half-applied view.
func (m *Manager) Current() (active bool, flakePath string, vars map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return false, "", nil
	}
	out := make(map[string]string, len(m.vars))
	for k, v := range m.vars {
		out[k] = v
	}
	return true, m.flakePath, out
}

// FlakeDir returns the active descriptor's containing directory, "" when
// inactive.
func (m *Manager) FlakeDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.flakePath == "" {
		return ""
	}
	return filepath.Dir(m.flakePath)
}

// Status summarizes the manager for hosts.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.StatusResponse{
		Active:        m.active,
		FlakePath:     m.flakePath,
		VariableCount: len(m.vars),
		ActivatedAt:   m.activatedAt,
		Restored:      m.restored,
	}
}

// Broker exposes the event stream for subscribers (injector, server).
func (m *Manager) Broker() *events.Broker {
	return m.broker
}
