// Package scenario runs YAML conformance scenarios: a machine
// definition, scripted driver responses per entry point, and an
// expectation over the finished run. Scenarios are the end-to-end
// fixture format; golden trace files keep the committed behavior
// reviewable.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/specterhq/specter/internal/spec"
)

// Scenario defines one conformance run.
type Scenario struct {
	// Name uniquely identifies this scenario; it also names the golden
	// trace file.
	Name string `yaml:"name"`

	// Description explains what this scenario verifies.
	Description string `yaml:"description,omitempty"`

	// Machines lists paths to CUE machine definition files.
	// Paths are relative to the scenario file location.
	Machines []string `yaml:"machines"`

	// Machine selects the machine to run by identifier. Optional when
	// the definitions declare exactly one machine.
	Machine string `yaml:"machine,omitempty"`

	// Vars seeds the run's variable environment.
	Vars map[string]any `yaml:"vars,omitempty"`

	// Script maps entry point names to scripted driver responses.
	Script map[string][]Step `yaml:"script,omitempty"`

	// Timeout bounds the whole run, as a Go duration string.
	Timeout string `yaml:"timeout,omitempty"`

	// RunToken is an optional fixed run token for deterministic golden
	// file comparison. Defaults to "scenario-run".
	RunToken string `yaml:"run_token,omitempty"`

	// Expect is the assertion over the finished run.
	Expect ExpectClause `yaml:"expect"`
}

// Step is one scripted driver response.
type Step struct {
	// Value is the returned value (string, int, float, or bool).
	Value any `yaml:"value,omitempty"`

	// Error makes the call fail with this message instead.
	Error string `yaml:"error,omitempty"`

	// Sleep delays the response, as a Go duration string.
	Sleep string `yaml:"sleep,omitempty"`

	// Duration is the reported wall-clock cost, as a Go duration string.
	Duration string `yaml:"duration,omitempty"`

	// MemoryDelta is the reported memory change in bytes.
	MemoryDelta int64 `yaml:"memory_delta,omitempty"`
}

// ExpectClause asserts on the finished run. Zero fields are not
// checked; Vars is a subset match.
type ExpectClause struct {
	// Status is "completed" or "failed".
	Status string `yaml:"status,omitempty"`

	// Final is the expected committed state at the end of the run.
	Final string `yaml:"final,omitempty"`

	// Path is the exact expected visited-state sequence.
	Path []string `yaml:"path,omitempty"`

	// Failure is the expected failure code for a failed run.
	Failure string `yaml:"failure,omitempty"`

	// Defects lists expected static defect kinds. When set, the
	// machine is expected to fail validation and is never executed.
	Defects []string `yaml:"defects,omitempty"`

	// Vars are expected captured-variable values after the run.
	Vars map[string]any `yaml:"vars,omitempty"`
}

func (e ExpectClause) isZero() bool {
	return e.Status == "" && e.Final == "" && len(e.Path) == 0 &&
		e.Failure == "" && len(e.Defects) == 0 && len(e.Vars) == 0
}

// Load reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping a check.
func Load(path string) (*Scenario, error) {
	return LoadWithBasePath(path, filepath.Dir(path))
}

// LoadWithBasePath reads a scenario file, resolving machine definition
// paths relative to basePath.
func LoadWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, mp := range s.Machines {
		if !filepath.IsAbs(mp) && basePath != "" {
			s.Machines[i] = filepath.Join(basePath, mp)
		}
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Machines) == 0 {
		return fmt.Errorf("machines list is required and must be non-empty")
	}
	for _, mp := range s.Machines {
		if _, err := os.Stat(mp); os.IsNotExist(err) {
			return fmt.Errorf("machine definition not found: %s", mp)
		}
	}
	if s.Expect.isZero() {
		return fmt.Errorf("expect clause is required")
	}
	if s.Timeout != "" {
		if _, err := time.ParseDuration(s.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
		}
	}

	for entry, steps := range s.Script {
		for i, step := range steps {
			if step.Value != nil {
				if _, err := spec.ToValue(step.Value); err != nil {
					return fmt.Errorf("script.%s[%d]: %w", entry, i, err)
				}
			}
			for _, d := range []string{step.Sleep, step.Duration} {
				if d == "" {
					continue
				}
				if _, err := time.ParseDuration(d); err != nil {
					return fmt.Errorf("script.%s[%d]: invalid duration %q: %w", entry, i, d, err)
				}
			}
		}
	}

	if _, err := spec.ToEnv(s.Vars); err != nil {
		return fmt.Errorf("vars: %w", err)
	}
	if _, err := spec.ToEnv(s.Expect.Vars); err != nil {
		return fmt.Errorf("expect.vars: %w", err)
	}
	return nil
}
