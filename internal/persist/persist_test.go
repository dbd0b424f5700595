package persist

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := NewBridge(filepath.Join(t.TempDir(), ".vscode", "state.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBridge_ReadAbsent(t *testing.T) {
	b := newTestBridge(t)
	snap, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for absent file, got %+v", snap)
	}
}

func TestBridge_WriteReadRoundTrip(t *testing.T) {
	b := newTestBridge(t)
	b.Settings = Settings{Impure: true, ExtraFlags: []string{"--no-write-lock-file"}}
	vars := map[string]string{"PATH": "/nix/store/x/bin", "PYTHONPATH": "/nix/store/py"}
	if err := b.Write("/ws/flake.nix", vars); err != nil {
		t.Fatal(err)
	}

	snap, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || !snap.PreviouslyActive() {
		t.Fatalf("expected previously-active snapshot, got %+v", snap)
	}
	if snap.FlakePath != "/ws/flake.nix" {
		t.Fatalf("unexpected flake path %q", snap.FlakePath)
	}
	got := snap.PlatformVars()
	if got["PATH"] != vars["PATH"] || got["PYTHONPATH"] != vars["PYTHONPATH"] {
		t.Fatalf("platform slot mismatch: %v", got)
	}
	if snap.ActivatedAt.IsZero() {
		t.Fatalf("expected activated_at to be set")
	}
	if !snap.Impure || len(snap.ExtraFlags) != 1 {
		t.Fatalf("settings not persisted: %+v", snap)
	}
}

func TestBridge_RestartSurvival(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	b1, err := NewBridge(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b1.Write("/ws/flake.nix", map[string]string{"A": "1"}); err != nil {
		t.Fatal(err)
	}

	// A fresh bridge against the same path simulates a restarted process.
	b2, err := NewBridge(path)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := b2.Read()
	if err != nil {
		t.Fatal(err)
	}
	if snap == nil || !snap.PreviouslyActive() {
		t.Fatalf("expected activation to survive restart")
	}
	if snap.PlatformVars()["A"] != "1" {
		t.Fatalf("unexpected restored vars %v", snap.PlatformVars())
	}
}

func TestBridge_Clear(t *testing.T) {
	b := newTestBridge(t)
	if err := b.Write("/ws/flake.nix", map[string]string{"A": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(); err != nil {
		t.Fatal(err)
	}
	snap, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil && snap.PreviouslyActive() {
		t.Fatalf("expected cleared state, got %+v", snap)
	}

	// Clearing again is a no-op, not an error.
	if err := b.Clear(); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshot_SingleLandedSlotStillCounts(t *testing.T) {
	// A crash between the two slot writes may leave only the other
	// platform's slot populated; detection must still fire.
	var snap Snapshot
	if runtime.GOOS == "darwin" {
		snap.Env.Linux = map[string]string{"PATH": "/x"}
	} else {
		snap.Env.OSX = map[string]string{"PATH": "/x"}
	}
	if !snap.PreviouslyActive() {
		t.Fatalf("expected non-platform slot to still mark previously-active")
	}
	if len(snap.PlatformVars()) != 0 {
		t.Fatalf("platform slot should be empty in this scenario")
	}
}

func TestBridge_ReadCorruptFile(t *testing.T) {
	b := newTestBridge(t)
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b.path, []byte("{unclosed\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Corrupt content reads as absent, never as an error: otherwise
	// deactivation could not reach Clear to remove the bad file.
	snap, err := b.Read()
	if err != nil {
		t.Fatalf("corrupt state file must read as absent, got error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for corrupt file, got %+v", snap)
	}

	if err := b.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(b.path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected corrupt file removed, stat: %v", err)
	}
}

func TestBridge_EmptyPath(t *testing.T) {
	if _, err := NewBridge(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestBridge_WritePreservesOtherSlot(t *testing.T) {
	b := newTestBridge(t)

	// Seed the non-platform slot by hand.
	var seed Snapshot
	if runtime.GOOS == "darwin" {
		seed.Env.Linux = map[string]string{"KEEP": "1"}
	} else {
		seed.Env.OSX = map[string]string{"KEEP": "1"}
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := b.writeLocked(&seed); err != nil {
		t.Fatal(err)
	}

	if err := b.Write("/ws/flake.nix", map[string]string{"A": "1"}); err != nil {
		t.Fatal(err)
	}
	snap, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	var other map[string]string
	if runtime.GOOS == "darwin" {
		other = snap.Env.Linux
	} else {
		other = snap.Env.OSX
	}
	if other["KEEP"] != "1" {
		t.Fatalf("expected other slot to be preserved, got %v", other)
	}
}
