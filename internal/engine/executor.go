package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/specterhq/specter/internal/check"
	"github.com/specterhq/specter/internal/complexity"
	"github.com/specterhq/specter/internal/spec"
)

// DefaultMaxSteps bounds the number of transitions per run. This is a
// safeguard against non-terminating machines that slip past validation
// (a reachable cycle with guards that never release).
const DefaultMaxSteps = 1000

// DefaultPollInterval is used when a wait transition declares no interval.
const DefaultPollInterval = 50 * time.Millisecond

// DefaultWaitTimeout is used when a wait transition declares no timeout.
const DefaultWaitTimeout = 10 * time.Second

// PollErrorPolicy decides what a wait transition does when a poll call
// itself fails (as opposed to returning a falsy value).
type PollErrorPolicy int

const (
	// PollFailFast ends the run with CodeDriverError on the first poll
	// failure. The default: a broken probe is not the same as a
	// condition that has not held yet.
	PollFailFast PollErrorPolicy = iota

	// PollRetryUntilTimeout treats poll failures like a condition that
	// has not held yet, retrying until the transition's own timeout.
	PollRetryUntilTimeout
)

// Executor drives Runs through one machine. Safe to reuse across
// sequential runs; independent executors over the same machine may run
// concurrently since the machine is immutable.
type Executor struct {
	machine *spec.Machine
	driver  Driver

	clock      *Clock
	tokens     TokenGenerator
	logger     *slog.Logger
	maxSteps   int
	runTimeout time.Duration
	pollPolicy PollErrorPolicy

	analyzer complexity.Analyzer
	samples  map[string]spec.SampleSet // keyed by declared transition id
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxSteps sets the per-run transition quota.
func WithMaxSteps(n int) Option {
	return func(e *Executor) { e.maxSteps = n }
}

// WithRunTimeout sets the optional total-run deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Executor) { e.runTimeout = d }
}

// WithPollErrorPolicy sets how wait transitions treat poll failures.
func WithPollErrorPolicy(p PollErrorPolicy) Option {
	return func(e *Executor) { e.pollPolicy = p }
}

// WithTokenGenerator overrides run token generation (tests).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Executor) { e.tokens = g }
}

// WithClock overrides the record sequence clock (tests, log resumption).
func WithClock(c *Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger overrides the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithComplexitySamples supplies measured timing samples, keyed by
// declared transition id. After a run completes, every transition that
// declares a complexity class and has samples is checked; a mismatch
// fails the run with CodeComplexityMismatch.
func WithComplexitySamples(a complexity.Analyzer, sets map[string]spec.SampleSet) Option {
	return func(e *Executor) {
		e.analyzer = a
		e.samples = sets
	}
}

// NewExecutor creates an executor for a machine and driver.
//
// The machine must have passed the static validator: the executor
// assumes structural soundness and treats residual ambiguity as an
// internal defect.
func NewExecutor(m *spec.Machine, d Driver, opts ...Option) (*Executor, error) {
	if m == nil {
		return nil, fmt.Errorf("executor requires a machine")
	}
	if d == nil {
		return nil, fmt.Errorf("executor requires a driver")
	}

	e := &Executor{
		machine:  m,
		driver:   d,
		clock:    NewClock(),
		tokens:   UUIDv7Generator{},
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute drives one Run from the initial state until a terminal state
// is reached or a failure ends it. The initial variable environment is
// copied; the caller's map is never mutated.
func (e *Executor) Execute(ctx context.Context, initial spec.Env) (*Run, error) {
	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	run := &Run{
		Token:     e.tokens.Generate(),
		MachineID: e.machine.ID(),
		Current:   e.machine.Initial(),
		Path:      []string{e.machine.Initial()},
		Vars:      initial.Clone(),
		StartedAt: time.Now(),
	}
	if run.Vars == nil {
		run.Vars = spec.Env{}
	}

	e.logger.Info("run starting",
		"run", run.Token,
		"machine", run.MachineID,
		"initial", run.Current,
	)

	// Entry invariant of the initial state.
	if state, ok := e.machine.State(run.Current); ok {
		if v := check.Invariant(state, run.Vars); v != nil {
			return e.fail(run, violationError(v)), nil
		}
	}

	steps := 0
	for {
		state, ok := e.machine.State(run.Current)
		if !ok {
			// Unreachable on a validated machine.
			return e.fail(run, &RuntimeError{
				Code:    CodeAmbiguousTransition,
				StateID: run.Current,
				Message: "current state is not declared; executor/validator mismatch",
			}), nil
		}
		if state.Terminal {
			break
		}

		if err := ctx.Err(); err != nil {
			return e.fail(run, &RuntimeError{
				Code:    CodeRunTimeout,
				StateID: run.Current,
				Message: "run deadline exceeded",
				Limit:   e.runTimeout,
				Err:     err,
			}), nil
		}

		steps++
		if steps > e.maxSteps {
			return e.fail(run, &RuntimeError{
				Code:    CodeMaxStepsExceeded,
				StateID: run.Current,
				Message: fmt.Sprintf("run exceeded %d steps", e.maxSteps),
			}), nil
		}

		t, rerr := e.elect(run)
		if rerr != nil {
			return e.fail(run, rerr), nil
		}

		// Exit invariant of the state being left.
		if v := check.Invariant(state, run.Vars); v != nil {
			return e.fail(run, violationError(v)), nil
		}

		value, duration, memDelta, rerr := e.perform(ctx, run, t)
		if rerr != nil {
			return e.fail(run, rerr), nil
		}

		// Forbidden-edge check precedes the commit: a structurally
		// valid transition can still be forbidden by explicit policy,
		// and the committed state must remain the source.
		if edge, forbidden := e.machine.IsForbidden(t.Source, t.Target); forbidden {
			return e.fail(run, &RuntimeError{
				Code:         CodeForbiddenTransition,
				TransitionID: t.ID,
				StateID:      t.Source,
				Message:      fmt.Sprintf("edge %s->%s is forbidden: %s", t.Source, t.Target, edge.Reason),
			}), nil
		}

		// Commit.
		if t.Capture != "" && value != nil {
			run.Vars[t.Capture] = value
		}
		run.Current = t.Target
		run.Path = append(run.Path, t.Target)
		now := time.Now()
		run.Records = append(run.Records, TransitionRecord{
			Seq:          e.clock.Next(),
			TransitionID: t.ID,
			Source:       t.Source,
			Target:       t.Target,
			Start:        now.Add(-duration),
			End:          now,
			Duration:     duration,
			MemoryDelta:  memDelta,
			Vars:         run.Vars.Clone(),
		})

		e.logger.Debug("transition taken",
			"run", run.Token,
			"transition", t.ID,
			"source", t.Source,
			"target", t.Target,
			"duration", duration,
			"memory_delta", memDelta,
		)

		// Post-commit checks: budget, then the new state's entry invariant.
		if v := check.Budget(t, duration, memDelta); v != nil {
			return e.fail(run, violationError(v)), nil
		}
		if next, ok := e.machine.State(t.Target); ok {
			if v := check.Invariant(next, run.Vars); v != nil {
				return e.fail(run, violationError(v)), nil
			}
		}
	}

	if rerr := e.checkComplexity(); rerr != nil {
		return e.fail(run, rerr), nil
	}

	run.Status = StatusCompleted
	run.FinishedAt = time.Now()
	e.logger.Info("run completed",
		"run", run.Token,
		"final", run.Current,
		"transitions", len(run.Records),
	)
	return run, nil
}

// elect selects the single eligible transition for the current state.
func (e *Executor) elect(run *Run) (spec.Transition, *RuntimeError) {
	var eligible []spec.Transition
	for _, t := range e.machine.TransitionsFrom(run.Current) {
		if t.Guard != nil {
			holds, err := t.Guard.EvalBool(run.Vars)
			if err != nil {
				return spec.Transition{}, &RuntimeError{
					Code:         CodeGuardError,
					TransitionID: t.ID,
					StateID:      run.Current,
					Message:      fmt.Sprintf("guard %q: %v", t.Guard.Source(), err),
					Err:          err,
				}
			}
			if !holds {
				continue
			}
		}
		eligible = append(eligible, t)
	}

	switch len(eligible) {
	case 0:
		return spec.Transition{}, &RuntimeError{
			Code:    CodeNoEligibleTransition,
			StateID: run.Current,
			Message: fmt.Sprintf("no eligible transition out of non-terminal state %q", run.Current),
		}
	case 1:
		return eligible[0], nil
	default:
		ids := make([]string, len(eligible))
		for i, t := range eligible {
			ids[i] = t.ID
		}
		// Validator should have excluded this; fatal internal defect.
		return spec.Transition{}, &RuntimeError{
			Code:    CodeAmbiguousTransition,
			StateID: run.Current,
			Message: fmt.Sprintf("transitions %v are simultaneously eligible; executor/validator mismatch", ids),
		}
	}
}

// perform executes one transition against the driver and returns the
// observed value, duration, and memory delta.
func (e *Executor) perform(ctx context.Context, run *Run, t spec.Transition) (spec.Value, time.Duration, int64, *RuntimeError) {
	switch t.Mode {
	case spec.ModeWait:
		return e.performWait(ctx, run, t)
	default:
		return e.performTrigger(ctx, run, t)
	}
}

func (e *Executor) performTrigger(ctx context.Context, run *Run, t spec.Transition) (spec.Value, time.Duration, int64, *RuntimeError) {
	start := time.Now()
	res, err := e.driver.Invoke(ctx, t.Entry, t.Args)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, 0, &RuntimeError{
				Code:         CodeRunTimeout,
				TransitionID: t.ID,
				Message:      "run deadline exceeded during invoke",
				Limit:        e.runTimeout,
				Actual:       elapsed,
				Err:          err,
			}
		}
		return nil, 0, 0, &RuntimeError{
			Code:         CodeDriverError,
			TransitionID: t.ID,
			Message:      fmt.Sprintf("invoke %q: %v", t.Entry, err),
			Err:          err,
		}
	}

	duration := res.Duration
	if duration == 0 {
		duration = elapsed
	}

	if t.Expect != nil && !spec.Equal(res.Value, t.Expect) {
		return nil, 0, 0, &RuntimeError{
			Code:         CodeReturnMismatch,
			TransitionID: t.ID,
			Message:      fmt.Sprintf("invoke %q returned %v, want %v", t.Entry, res.Value, t.Expect),
		}
	}

	return res.Value, duration, res.MemoryDelta, nil
}

// performWait polls the entry point at the declared interval until the
// condition holds or the transition's timeout elapses. The poll loop
// suspends cooperatively; independent runs are never blocked.
func (e *Executor) performWait(ctx context.Context, run *Run, t spec.Transition) (spec.Value, time.Duration, int64, *RuntimeError) {
	interval := t.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		v, err := e.driver.Poll(ctx, t.Entry, t.Args)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, 0, &RuntimeError{
					Code:         CodeRunTimeout,
					TransitionID: t.ID,
					Message:      "run deadline exceeded during poll",
					Limit:        e.runTimeout,
					Actual:       time.Since(start),
					Err:          err,
				}
			}
			if e.pollPolicy == PollFailFast {
				return nil, 0, 0, &RuntimeError{
					Code:         CodeDriverError,
					TransitionID: t.ID,
					Message:      fmt.Sprintf("poll %q: %v", t.Entry, err),
					Err:          err,
				}
			}
			e.logger.Debug("poll failed, retrying until timeout",
				"run", run.Token,
				"transition", t.ID,
				"error", err,
			)
		} else if waitSatisfied(t, v) {
			return v, time.Since(start), 0, nil
		}

		if time.Now().After(deadline) {
			return nil, 0, 0, &RuntimeError{
				Code:         CodeTransitionTimeout,
				TransitionID: t.ID,
				Message:      fmt.Sprintf("wait %q did not hold within %v", t.Entry, timeout),
				Limit:        timeout,
				Actual:       time.Since(start),
			}
		}

		select {
		case <-ctx.Done():
			return nil, 0, 0, &RuntimeError{
				Code:         CodeRunTimeout,
				TransitionID: t.ID,
				Message:      "run deadline exceeded during wait",
				Limit:        e.runTimeout,
				Actual:       time.Since(start),
				Err:          ctx.Err(),
			}
		case <-time.After(interval):
		}
	}
}

// waitSatisfied decides whether a polled value completes the wait: an
// explicit expectation compares by value, otherwise truthiness.
func waitSatisfied(t spec.Transition, v spec.Value) bool {
	if t.Expect != nil {
		return spec.Equal(v, t.Expect)
	}
	return spec.Truthy(v)
}

// checkComplexity verifies declared growth classes against supplied
// samples once the run has otherwise succeeded.
func (e *Executor) checkComplexity() *RuntimeError {
	if e.samples == nil {
		return nil
	}
	for _, t := range e.machine.Defs() {
		if t.Budget.Complexity == "" {
			continue
		}
		set, ok := e.samples[t.ID]
		if !ok {
			continue
		}
		result, err := e.analyzer.Check(set, t.Budget.Complexity)
		if err != nil {
			return &RuntimeError{
				Code:         CodeDriverError,
				TransitionID: t.ID,
				Message:      fmt.Sprintf("complexity analysis: %v", err),
				Err:          err,
			}
		}
		if !result.Matches {
			return &RuntimeError{
				Code:         CodeComplexityMismatch,
				TransitionID: t.ID,
				Message:      result.String(),
				Complexity:   result,
			}
		}
	}
	return nil
}

// fail freezes the run with a structured failure. The committed state
// and partial record log are preserved as diagnostic output.
func (e *Executor) fail(run *Run, rerr *RuntimeError) *Run {
	run.Status = StatusFailed
	run.Failure = rerr
	run.FinishedAt = time.Now()
	e.logger.Error("run failed",
		"run", run.Token,
		"code", string(rerr.Code),
		"state", run.Current,
		"error", rerr.Message,
	)
	return run
}
