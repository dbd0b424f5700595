// Package persist owns the durable activation slots. Whether an
// environment "was active before restart" is decided purely by what this
// file contains; no in-memory flag survives a process boundary, so none
// is ever trusted.
package persist

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the durable activation record: one environment slot per OS
// family plus the descriptor settings the host shares with us.
type Snapshot struct {
	Env struct {
		Linux map[string]string `yaml:"linux,omitempty"`
		OSX   map[string]string `yaml:"osx,omitempty"`
	} `yaml:"env"`

	FlakePath    string    `yaml:"flake_path,omitempty"`
	ActivatedAt  time.Time `yaml:"activated_at,omitempty"`
	Impure       bool      `yaml:"impure,omitempty"`
	ExtraFlags   []string  `yaml:"extra_flags,omitempty"`
	AutoActivate bool      `yaml:"auto_activate,omitempty"`
}

// Settings are the resolution options persisted alongside the slots so a
// restored activation knows how it was produced.
type Settings struct {
	Impure       bool
	ExtraFlags   []string
	AutoActivate bool
}

// PlatformVars returns the mapping stored in the slot for the running OS
// family.
func (s *Snapshot) PlatformVars() map[string]string {
	if runtime.GOOS == "darwin" {
		return s.Env.OSX
	}
	return s.Env.Linux
}

// PreviouslyActive reports whether at least one slot is present and
// non-empty. Correct even if a crash landed only one of the two slot
// writes.
func (s *Snapshot) PreviouslyActive() bool {
	return len(s.Env.Linux) > 0 || len(s.Env.OSX) > 0
}

// Bridge reads and writes the activation state file.
type Bridge struct {
	// Settings are stamped into every snapshot written. Set once before
	// concurrent use.
	Settings Settings

	// Logger reports recoverable state-file problems. Set once before
	// concurrent use; slog.Default when nil.
	Logger *slog.Logger

	mu   sync.Mutex
	path string
}

func NewBridge(path string) (*Bridge, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is empty")
	}
	return &Bridge{path: path}, nil
}

// Write stores the mapping in the running platform's slot, preserving
// whatever the other slot holds. The file is replaced whole via
// temp+rename so readers never observe a partial write.
func (b *Bridge) Write(flakePath string, vars map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.readLocked()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{}
	}
	if runtime.GOOS == "darwin" {
		snap.Env.OSX = vars
	} else {
		snap.Env.Linux = vars
	}
	snap.FlakePath = flakePath
	snap.ActivatedAt = time.Now().UTC()
	snap.Impure = b.Settings.Impure
	snap.ExtraFlags = b.Settings.ExtraFlags
	snap.AutoActivate = b.Settings.AutoActivate
	return b.writeLocked(snap)
}

// Read returns the persisted snapshot, or (nil, nil) when no state file
// exists.
func (b *Bridge) Read() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked()
}

// Clear blanks both slots regardless of which one is populated. Removing
// an absent file is not an error.
func (b *Bridge) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func (b *Bridge) readLocked() (*Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		// A corrupt state file reads as absent rather than erroring:
		// deactivation must stay reachable so Clear can remove the very
		// file that is wedged.
		b.logger().Warn("state file unparseable, treating as absent", "path", b.path, "error", err)
		return nil, nil
	}
	return &snap, nil
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) writeLocked(snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
