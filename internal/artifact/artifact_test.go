package artifact

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeExec(t *testing.T, dir, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("exec-bit checks are unix-only")
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFindInterpreter_FirstDirWithPython3(t *testing.T) {
	a := t.TempDir() // no python binaries
	b := t.TempDir()
	want := writeExec(t, b, "python3")

	vars := map[string]string{"PATH": a + string(os.PathListSeparator) + b}
	got, ok := FindInterpreter(vars)
	if !ok || got != want {
		t.Fatalf("expected %q, got %q ok=%v", want, got, ok)
	}
}

func TestFindInterpreter_PythonFallback(t *testing.T) {
	dir := t.TempDir()
	want := writeExec(t, dir, "python")

	got, ok := FindInterpreter(map[string]string{"PATH": dir})
	if !ok || got != want {
		t.Fatalf("expected fallback %q, got %q ok=%v", want, got, ok)
	}
}

func TestFindInterpreter_EarlierDirWins(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	want := writeExec(t, a, "python3")
	writeExec(t, b, "python3")

	vars := map[string]string{"PATH": a + string(os.PathListSeparator) + b}
	got, ok := FindInterpreter(vars)
	if !ok || got != want {
		t.Fatalf("expected first-dir hit %q, got %q", want, got)
	}
}

func TestFindInterpreter_NonExecutableIgnored(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exec-bit checks are unix-only")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "python3"), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := FindInterpreter(map[string]string{"PATH": dir}); ok {
		t.Fatalf("expected non-executable file to be ignored")
	}
}

func TestFindInterpreter_Absent(t *testing.T) {
	if _, ok := FindInterpreter(map[string]string{"PATH": t.TempDir()}); ok {
		t.Fatalf("expected no interpreter")
	}
	if _, ok := FindInterpreter(map[string]string{}); ok {
		t.Fatalf("expected no interpreter without PATH")
	}
}

func TestRender_AllowList(t *testing.T) {
	vars := map[string]string{
		"PATH":            "/a:/b",
		"LD_LIBRARY_PATH": "/c",
		"PYTHONPATH":      "/py",
		"JUPYTER_CONFIG":  "/jc",
		"PYTHONDONTWRITEBYTECODE": "1",
		"HOME":            "/home/u",
		"SECRET_TOKEN":    "hunter2",
	}
	out := Render(vars)
	for _, want := range []string{
		"PATH=/a:/b\n",
		"LD_LIBRARY_PATH=/c\n",
		"PYTHONPATH=/py\n",
		"JUPYTER_CONFIG=/jc\n",
		"PYTHONDONTWRITEBYTECODE=1\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in artifact, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "HOME") || strings.Contains(out, "SECRET_TOKEN") {
		t.Fatalf("artifact leaked non-allow-listed variables:\n%s", out)
	}
}

func TestWriter_WriteAndRemove(t *testing.T) {
	ws := t.TempDir()
	bin := t.TempDir()
	writeExec(t, bin, "python3")

	w := &Writer{Logger: discardLogger()}
	res, err := w.Write(map[string]string{"PATH": bin, "LD_LIBRARY_PATH": "/c"}, ws)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interpreter == "" {
		t.Fatalf("expected interpreter to be located")
	}
	data, err := os.ReadFile(filepath.Join(ws, EnvFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "LD_LIBRARY_PATH=/c") {
		t.Fatalf("unexpected artifact contents:\n%s", data)
	}

	if err := w.Remove(ws); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(ws, EnvFileName)); !os.IsNotExist(err) {
		t.Fatalf("expected artifact to be removed, stat err=%v", err)
	}

	// Removing again is idempotent.
	if err := w.Remove(ws); err != nil {
		t.Fatal(err)
	}
}

func TestWriter_WriteWithoutInterpreter(t *testing.T) {
	ws := t.TempDir()
	w := &Writer{Logger: discardLogger()}
	res, err := w.Write(map[string]string{"PATH": t.TempDir()}, ws)
	if err != nil {
		t.Fatal(err)
	}
	if res.Interpreter != "" {
		t.Fatalf("expected absent interpreter, got %q", res.Interpreter)
	}
	if res.EnvFile == "" {
		t.Fatalf("env artifact should still be written")
	}
}
