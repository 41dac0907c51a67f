package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one world script: a type universe declaration followed by a
// sequence of definition and call steps executed in order.
type Scenario struct {
	Name     string   `yaml:"name"`
	Families []Family `yaml:"families,omitempty"`
	Steps    []Step   `yaml:"steps"`
}

// Family declares one nominal type family. Super defaults to Any.
type Family struct {
	Name     string `yaml:"name"`
	Super    string `yaml:"super,omitempty"`
	Abstract bool   `yaml:"abstract,omitempty"`
}

// Step is a tagged union: exactly one field should be set.
type Step struct {
	Define  *DefineStep  `yaml:"define,omitempty"`
	Call    *CallStep    `yaml:"call,omitempty"`
	Invoke  *InvokeStep  `yaml:"invoke,omitempty"`
	Disable *DisableStep `yaml:"disable,omitempty"`
	Freeze  bool         `yaml:"freeze,omitempty"`
	Stats   bool         `yaml:"stats,omitempty"`
}

// DefineStep adds a method. Args are slot type expressions ("Number",
// "Int64|Float64", "Any..."); Result is the symbol every call of this
// method returns, which makes dispatch outcomes observable.
type DefineStep struct {
	Name   string   `yaml:"name"`
	Args   []string `yaml:"args"`
	Module string   `yaml:"module,omitempty"`
	Result string   `yaml:"result"`
}

// CallStep performs a dynamic call with arguments of the named concrete
// types. World pins the call to an older world when non-zero. Expect, when
// set, is checked against the result symbol; ExpectError against the error
// text ("nomethod" or "ambiguous").
type CallStep struct {
	Fn          string   `yaml:"fn"`
	Args        []string `yaml:"args"`
	World       uint64   `yaml:"world,omitempty"`
	Expect      string   `yaml:"expect,omitempty"`
	ExpectError string   `yaml:"expect_error,omitempty"`
}

// InvokeStep calls pinned to a declared signature instead of the most
// specific applicable method.
type InvokeStep struct {
	Fn          string   `yaml:"fn"`
	Sig         []string `yaml:"sig"`
	Args        []string `yaml:"args"`
	Expect      string   `yaml:"expect,omitempty"`
	ExpectError string   `yaml:"expect_error,omitempty"`
}

// DisableStep retires a previously defined method, identified by name and
// declared argument expressions.
type DisableStep struct {
	Fn   string   `yaml:"fn"`
	Args []string `yaml:"args"`
}

// LoadScenario parses one world-script file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(path, ".kova.yaml")
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("%s: step %d: %w", path, i+1, err)
		}
	}
	return &sc, nil
}

func (s Step) validate() error {
	n := 0
	if s.Define != nil {
		n++
	}
	if s.Call != nil {
		n++
	}
	if s.Invoke != nil {
		n++
	}
	if s.Disable != nil {
		n++
	}
	if s.Freeze {
		n++
	}
	if s.Stats {
		n++
	}
	if n != 1 {
		return fmt.Errorf("expected exactly one of define/call/invoke/disable/freeze/stats, got %d", n)
	}
	return nil
}
