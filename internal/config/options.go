package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options is the runtime configuration for the dispatch core. Zero value is
// a usable default; LoadOptions layers a YAML file and then the environment
// on top of it.
type Options struct {
	// TraceDispatch enables the first-dispatch event stream. The value is a
	// destination: "stderr" or a file path. Empty disables.
	TraceDispatch string `yaml:"trace_dispatch,omitempty"`

	// TraceSpecialize enables the specialization event stream, same format.
	TraceSpecialize string `yaml:"trace_specialize,omitempty"`

	// TraceSpecializeTiming prepends compilation wall time to each
	// specialization record.
	TraceSpecializeTiming bool `yaml:"trace_specialize_timing,omitempty"`

	// TraceDB is an optional SQLite file receiving all trace events.
	TraceDB string `yaml:"trace_db,omitempty"`

	// DebugInvalidation turns on the in-memory invalidation log.
	DebugInvalidation bool `yaml:"debug_invalidation,omitempty"`

	// InterpretOnly disables the compiling backend; every resolution runs
	// through the interpreting fallback.
	InterpretOnly bool `yaml:"interpret_only,omitempty"`

	// Color forces ANSI color on ("always"), off ("never") or TTY-detected
	// ("auto", the default).
	Color string `yaml:"color,omitempty"`
}

// LoadOptions reads opts from a YAML file (if path is non-empty) and applies
// environment overrides. A missing file is an error; an empty path is not.
func LoadOptions(path string) (*Options, error) {
	opts := &Options{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading options file: %w", err)
		}
		if err := yaml.Unmarshal(data, opts); err != nil {
			return nil, fmt.Errorf("parsing options file %s: %w", path, err)
		}
	}
	opts.applyEnv()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) applyEnv() {
	if v := os.Getenv(EnvTraceDispatch); v != "" {
		o.TraceDispatch = v
	}
	if v := os.Getenv(EnvTraceSpecialize); v != "" {
		o.TraceSpecialize = v
	}
	if v := os.Getenv(EnvTraceDatabase); v != "" {
		o.TraceDB = v
	}
	if os.Getenv(EnvDebugInvalidation) != "" {
		o.DebugInvalidation = true
	}
	if os.Getenv(EnvForceInterpretOnly) != "" {
		o.InterpretOnly = true
	}
	if os.Getenv(EnvNoColor) != "" {
		o.Color = "never"
	}
}

func (o *Options) validate() error {
	switch o.Color {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("invalid color mode %q (want auto, always or never)", o.Color)
	}
	return nil
}
