package shell

import (
	"bytes"
	"strings"
	"testing"
)

func TestMergeEnviron_MappingWins(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/u", "TERM=xterm"}
	vars := map[string]string{"PATH": "/nix/store/x/bin", "PYTHONPATH": "/py"}

	got := MergeEnviron(base, vars)
	want := []string{"PATH=/nix/store/x/bin", "HOME=/home/u", "TERM=xterm", "PYTHONPATH=/py"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("env[%d]: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestMergeEnviron_EmptyMapping(t *testing.T) {
	base := []string{"A=1", "B=2"}
	got := MergeEnviron(base, nil)
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Fatalf("expected base unchanged, got %v", got)
	}
}

func TestMergeEnviron_AddedKeysSorted(t *testing.T) {
	got := MergeEnviron(nil, map[string]string{"Z": "1", "A": "2", "M": "3"})
	want := []string{"A=2", "M=3", "Z=1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestSession_SendText(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(&buf)
	if !strings.HasPrefix(s.ID(), "session-") {
		t.Fatalf("unexpected session id %q", s.ID())
	}
	if err := s.SendText("echo hi\n"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "echo hi\n" {
		t.Fatalf("unexpected buffer %q", buf.String())
	}
}
