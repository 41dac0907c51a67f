package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeOptionsFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOptionsDefaults(t *testing.T) {
	opts, err := LoadOptions("")
	if err != nil {
		t.Fatal(err)
	}
	if opts.TraceDispatch != "" || opts.TraceSpecialize != "" || opts.TraceDB != "" {
		t.Errorf("default options enable tracing: %+v", opts)
	}
	if opts.DebugInvalidation || opts.InterpretOnly {
		t.Errorf("default options enable debug flags: %+v", opts)
	}
}

func TestLoadOptionsFromFile(t *testing.T) {
	path := writeOptionsFile(t, `
trace_dispatch: stderr
trace_specialize: /tmp/spec.out
trace_specialize_timing: true
debug_invalidation: true
color: never
`)
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if opts.TraceDispatch != "stderr" {
		t.Errorf("TraceDispatch = %q", opts.TraceDispatch)
	}
	if opts.TraceSpecialize != "/tmp/spec.out" {
		t.Errorf("TraceSpecialize = %q", opts.TraceSpecialize)
	}
	if !opts.TraceSpecializeTiming || !opts.DebugInvalidation {
		t.Errorf("bool flags not read: %+v", opts)
	}
	if opts.Color != "never" {
		t.Errorf("Color = %q", opts.Color)
	}
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing options file")
	}
}

func TestLoadOptionsBadYAML(t *testing.T) {
	path := writeOptionsFile(t, "trace_dispatch: [unclosed")
	if _, err := LoadOptions(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadOptionsEnvOverridesFile(t *testing.T) {
	path := writeOptionsFile(t, "trace_dispatch: /tmp/from-file.out\n")
	t.Setenv(EnvTraceDispatch, "stderr")
	t.Setenv(EnvForceInterpretOnly, "1")
	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if opts.TraceDispatch != "stderr" {
		t.Errorf("env did not override file: TraceDispatch = %q", opts.TraceDispatch)
	}
	if !opts.InterpretOnly {
		t.Error("env did not set InterpretOnly")
	}
}

func TestLoadOptionsNoColorEnv(t *testing.T) {
	t.Setenv(EnvNoColor, "1")
	opts, err := LoadOptions("")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Color != "never" {
		t.Errorf("Color = %q, want never", opts.Color)
	}
}

func TestLoadOptionsInvalidColor(t *testing.T) {
	path := writeOptionsFile(t, "color: sometimes\n")
	_, err := LoadOptions(path)
	if err == nil {
		t.Fatal("expected error for invalid color mode")
	}
	if !strings.Contains(err.Error(), "sometimes") {
		t.Errorf("error %q does not name the bad mode", err)
	}
}
