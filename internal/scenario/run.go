package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/specterhq/specter/internal/compile"
	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

// DefaultRunToken keeps golden traces deterministic when a scenario
// does not pin its own token.
const DefaultRunToken = "scenario-run"

// Result is the outcome of one scenario: the compiled machine, its
// static defects, and the run (nil when defects blocked execution).
type Result struct {
	Scenario *Scenario
	Machine  *spec.Machine
	Defects  []validate.Defect
	Run      *engine.Run
}

// Runner executes scenarios. The zero value is usable.
type Runner struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Run compiles the scenario's machine, validates it, and drives it
// with the scripted driver. A failed run or failed validation is a
// normal Result; the returned error covers scenario-level problems
// (missing machine, bad script) only.
func (r *Runner) Run(ctx context.Context, s *Scenario) (*Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := loadMachine(s)
	if err != nil {
		return nil, err
	}

	result := &Result{Scenario: s, Machine: m}

	result.Defects = validate.Machine(m)
	if len(result.Defects) > 0 {
		logger.Info("scenario machine failed validation",
			"scenario", s.Name,
			"machine", m.ID(),
			"defects", len(result.Defects),
		)
		return result, nil
	}

	driver, err := buildDriver(s)
	if err != nil {
		return nil, err
	}

	token := s.RunToken
	if token == "" {
		token = DefaultRunToken
	}
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTokenGenerator(engine.NewFixedGenerator(token)),
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: invalid timeout: %w", s.Name, err)
		}
		opts = append(opts, engine.WithRunTimeout(d))
	}

	exec, err := engine.NewExecutor(m, driver, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	vars, err := spec.ToEnv(s.Vars)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: vars: %w", s.Name, err)
	}

	run, err := exec.Execute(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	result.Run = run
	return result, nil
}

// Verify checks the result against the scenario's expect clause and
// returns one error per failed check, joined.
func (res *Result) Verify() error {
	expect := res.Scenario.Expect
	var errs []error

	if len(expect.Defects) > 0 {
		for _, kind := range expect.Defects {
			if !validate.HasKind(res.Defects, validate.DefectKind(kind)) {
				errs = append(errs, fmt.Errorf("expected defect %s, validator reported %v", kind, kinds(res.Defects)))
			}
		}
	} else if len(res.Defects) > 0 {
		errs = append(errs, fmt.Errorf("unexpected defects: %v", kinds(res.Defects)))
	}

	if res.Run == nil {
		if expect.Status != "" || expect.Final != "" || len(expect.Path) > 0 || expect.Failure != "" {
			if len(res.Defects) > 0 && len(expect.Defects) == 0 {
				errs = append(errs, errors.New("machine failed validation, run expectations not checked"))
			}
		}
		return errors.Join(errs...)
	}

	run := res.Run
	if expect.Status != "" && string(run.Status) != expect.Status {
		errs = append(errs, fmt.Errorf("status: want %s, got %s", expect.Status, run.Status))
	}
	if expect.Final != "" && run.Current != expect.Final {
		errs = append(errs, fmt.Errorf("final state: want %s, got %s", expect.Final, run.Current))
	}
	if len(expect.Path) > 0 && !equalPath(expect.Path, run.Path) {
		errs = append(errs, fmt.Errorf("path: want %v, got %v", expect.Path, run.Path))
	}
	if expect.Failure != "" && string(run.FailureCode()) != expect.Failure {
		errs = append(errs, fmt.Errorf("failure: want %s, got %s", expect.Failure, run.FailureCode()))
	}
	for name, raw := range expect.Vars {
		want, err := spec.ToValue(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("expect.vars.%s: %w", name, err))
			continue
		}
		got, ok := run.Vars[name]
		if !ok {
			errs = append(errs, fmt.Errorf("var %s: not captured", name))
			continue
		}
		if !spec.Equal(got, want) {
			errs = append(errs, fmt.Errorf("var %s: want %v, got %v", name, want, got))
		}
	}

	return errors.Join(errs...)
}

// NewDriver builds a fresh scripted driver from the scenario's script.
// Each call returns an independent driver, so the same scenario can
// drive many executions (falsification runs one per mutant).
func (s *Scenario) NewDriver() (engine.Driver, error) {
	return buildDriver(s)
}

// LoadMachine compiles the scenario's machine definitions and selects
// the machine under test.
func (s *Scenario) LoadMachine() (*spec.Machine, error) {
	return loadMachine(s)
}

func loadMachine(s *Scenario) (*spec.Machine, error) {
	var machines []*spec.Machine
	for _, path := range s.Machines {
		result, errs := compile.LoadFile(path, compile.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, fmt.Errorf("scenario %s: loading %s: %w", s.Name, path, errs[0])
		}
		machines = append(machines, result.Machines...)
	}

	if s.Machine == "" {
		if len(machines) != 1 {
			return nil, fmt.Errorf("scenario %s: %d machines loaded, machine id required", s.Name, len(machines))
		}
		return machines[0], nil
	}
	for _, m := range machines {
		if m.ID() == s.Machine {
			return m, nil
		}
	}
	return nil, fmt.Errorf("scenario %s: machine %q not found in definitions", s.Name, s.Machine)
}

func buildDriver(s *Scenario) (*engine.ScriptDriver, error) {
	driver := engine.NewScriptDriver()
	for entry, steps := range s.Script {
		scripted := make([]engine.ScriptStep, 0, len(steps))
		for i, step := range steps {
			var es engine.ScriptStep
			var err error

			if step.Value != nil {
				if es.Value, err = spec.ToValue(step.Value); err != nil {
					return nil, fmt.Errorf("scenario %s: script.%s[%d]: %w", s.Name, entry, i, err)
				}
			}
			if step.Error != "" {
				es.Err = errors.New(step.Error)
			}
			if es.Sleep, err = parseOptionalDuration(step.Sleep); err != nil {
				return nil, fmt.Errorf("scenario %s: script.%s[%d]: %w", s.Name, entry, i, err)
			}
			if es.Duration, err = parseOptionalDuration(step.Duration); err != nil {
				return nil, fmt.Errorf("scenario %s: script.%s[%d]: %w", s.Name, entry, i, err)
			}
			es.MemoryDelta = step.MemoryDelta

			scripted = append(scripted, es)
		}
		driver.Script(entry, scripted...)
	}
	return driver, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func kinds(defects []validate.Defect) []string {
	out := make([]string, len(defects))
	for i, d := range defects {
		out[i] = string(d.Kind)
	}
	return out
}
