package falsify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specterhq/specter/internal/complexity"
	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

// DefaultEntryTimeout bounds each catalog entry's execution. A mutant
// that hangs (a wait transition polling a condition that never holds)
// is cut off here without stalling sibling entries.
const DefaultEntryTimeout = 30 * time.Second

// DefaultWorkers bounds concurrent catalog entries.
const DefaultWorkers = 4

// DriverFactory builds a fresh driver for one mutant run. Each entry
// gets its own driver so scripted call state is never shared.
type DriverFactory func(m *spec.Machine) engine.Driver

// Harness applies a mutation catalog to a baseline machine and checks
// that every mutant is caught with the expected failure signature.
type Harness struct {
	Machine   *spec.Machine
	NewDriver DriverFactory

	// Vars seeds each mutant run's variable environment.
	Vars spec.Env

	// Analyzer and Samples feed post-run complexity checks. Samples are
	// measured against the baseline; a degraded declaration makes the
	// same measurements mismatch.
	Analyzer complexity.Analyzer
	Samples  map[string]spec.SampleSet

	// EntryTimeout bounds one entry; zero means DefaultEntryTimeout.
	EntryTimeout time.Duration

	// Workers bounds concurrency; zero means DefaultWorkers.
	Workers int

	Logger *slog.Logger
}

// EntryResult is the outcome of one catalog entry.
type EntryResult struct {
	Name     string        `json:"name"`
	Mutation spec.Mutation `json:"mutation"`
	Expected Signature     `json:"expected"`
	Actual   Signature     `json:"actual"`
	Caught   bool          `json:"caught"`
	Detail   string        `json:"detail,omitempty"`
}

// Matrix is the full falsification result. Anything short of every
// entry caught means the protective layers have a blind spot.
type Matrix struct {
	Entries []EntryResult `json:"entries"`
}

// AllCaught reports whether every mutation was detected with its
// expected signature.
func (m Matrix) AllCaught() bool {
	for _, e := range m.Entries {
		if !e.Caught {
			return false
		}
	}
	return len(m.Entries) > 0
}

// Misses returns the entries that escaped detection.
func (m Matrix) Misses() []EntryResult {
	var out []EntryResult
	for _, e := range m.Entries {
		if !e.Caught {
			out = append(out, e)
		}
	}
	return out
}

// Run applies every catalog entry concurrently and collects the
// matrix. The returned error covers harness configuration problems
// only; a missed mutation is reported through the matrix, not as an
// error.
func (h *Harness) Run(ctx context.Context, catalog []Entry) (Matrix, error) {
	if h.Machine == nil {
		return Matrix{}, fmt.Errorf("harness requires a baseline machine")
	}
	if h.NewDriver == nil {
		return Matrix{}, fmt.Errorf("harness requires a driver factory")
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := h.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]EntryResult, len(catalog))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, entry := range catalog {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = h.runEntry(gctx, logger, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Matrix{}, err
	}

	matrix := Matrix{Entries: results}
	logger.Info("falsification finished",
		"entries", len(results),
		"misses", len(matrix.Misses()),
	)
	return matrix, nil
}

// runEntry applies one mutation and observes which layer rejects the
// mutant. A validator rejection ends the entry; the executor is only
// invoked on mutants that validate clean.
func (h *Harness) runEntry(ctx context.Context, logger *slog.Logger, entry Entry) EntryResult {
	result := EntryResult{
		Name:     entry.Name,
		Mutation: entry.Mutation,
		Expected: entry.Expect,
	}

	mutant, err := Apply(h.Machine, entry.Mutation)
	if err != nil {
		result.Detail = fmt.Sprintf("mutation not applicable: %v", err)
		return result
	}

	if defects := validate.Machine(mutant); len(defects) > 0 {
		result.Actual = Signature{Stage: StageValidator, Kind: string(defects[0].Kind)}
		if validate.HasKind(defects, validate.DefectKind(entry.Expect.Kind)) && entry.Expect.Stage == StageValidator {
			result.Actual.Kind = entry.Expect.Kind
			result.Caught = true
		} else {
			result.Detail = fmt.Sprintf("validator rejected mutant with %d defect(s), first %s", len(defects), defects[0].Kind)
		}
		return result
	}

	entryTimeout := h.EntryTimeout
	if entryTimeout <= 0 {
		entryTimeout = DefaultEntryTimeout
	}
	ectx, cancel := context.WithTimeout(ctx, entryTimeout)
	defer cancel()

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRunTimeout(entryTimeout),
	}
	if h.Samples != nil {
		opts = append(opts, engine.WithComplexitySamples(h.Analyzer, h.Samples))
	}

	exec, err := engine.NewExecutor(mutant, h.NewDriver(mutant), opts...)
	if err != nil {
		result.Detail = fmt.Sprintf("executor setup: %v", err)
		return result
	}

	run, err := exec.Execute(ectx, h.Vars)
	if err != nil {
		result.Detail = fmt.Sprintf("execute: %v", err)
		return result
	}
	if run.Completed() {
		result.Detail = "run completed; mutation went undetected"
		return result
	}

	code := run.FailureCode()
	result.Actual = Signature{Stage: stageFor(code), Kind: string(code)}
	result.Caught = result.Actual == entry.Expect
	if !result.Caught {
		result.Detail = fmt.Sprintf("expected %s, observed %s", entry.Expect, result.Actual)
	}
	return result
}

func stageFor(code engine.FailureCode) Stage {
	if code == engine.CodeComplexityMismatch {
		return StageComplexity
	}
	return StageRuntime
}
