package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterhq/specter/internal/complexity"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/testutil"
)

// pipelineMachine is the canonical end-to-end machine: a six-state
// processing pipeline with a forbidden shortcut into the error state.
func pipelineMachine() *spec.Machine {
	states := []spec.State{
		{ID: "uninitialized"},
		{ID: "loading"},
		{ID: "ready", Invariant: spec.MustParseExpr("load_result == true")},
		{ID: "processing"},
		{ID: "completed", Terminal: true},
		{ID: "error", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "load", Sources: []string{"uninitialized"}, Target: "loading", Mode: spec.ModeTrigger, Entry: "load", Expect: spec.Bool(true), Capture: "load_result"},
		{ID: "warm", Sources: []string{"loading"}, Target: "ready", Mode: spec.ModeWait, Entry: "warm", Interval: time.Millisecond, Timeout: time.Second},
		{ID: "process", Sources: []string{"ready"}, Target: "processing", Mode: spec.ModeTrigger, Entry: "process"},
		{ID: "finish", Sources: []string{"processing"}, Target: "completed", Mode: spec.ModeTrigger, Entry: "finish"},
	}
	forbidden := []spec.ForbiddenEdge{
		{Source: "ready", Target: "error", Reason: "ready work must not be dropped"},
	}
	return spec.New("pipeline", "uninitialized", states, defs, forbidden)
}

func pipelineDriver() *ScriptDriver {
	d := NewScriptDriver()
	d.Script("load", ScriptStep{Value: spec.Bool(true)})
	d.Script("warm", ScriptStep{Value: spec.Bool(false)}, ScriptStep{Value: spec.Bool(true)})
	d.Script("process", ScriptStep{Value: spec.Int(42)})
	d.Script("finish", ScriptStep{Value: spec.Bool(true)})
	return d
}

func newTestExecutor(t *testing.T, m *spec.Machine, d Driver, opts ...Option) *Executor {
	t.Helper()
	opts = append([]Option{
		WithLogger(testutil.QuietLogger()),
		WithTokenGenerator(NewFixedGenerator("run-1", "run-2", "run-3")),
	}, opts...)
	e, err := NewExecutor(m, d, opts...)
	require.NoError(t, err)
	return e
}

func TestExecute_EndToEndPipeline(t *testing.T) {
	e := newTestExecutor(t, pipelineMachine(), pipelineDriver())

	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Nil(t, run.Failure)
	assert.Equal(t, "completed", run.Current)
	assert.Equal(t, []string{"uninitialized", "loading", "ready", "processing", "completed"}, run.Path)
	require.Len(t, run.Records, 4)

	// Records are seq-stamped in order.
	for i, rec := range run.Records {
		assert.Equal(t, int64(i+1), rec.Seq)
	}

	// The captured variable survives to the end of the run.
	assert.Equal(t, spec.Bool(true), run.Vars["load_result"])
}

func TestExecute_RepeatedRunsShareToken(t *testing.T) {
	m := pipelineMachine()
	gen := testutil.NewRepeatingTokenGenerator("replay")

	for i := 0; i < 3; i++ {
		e, err := NewExecutor(m, pipelineDriver(),
			WithLogger(testutil.QuietLogger()),
			WithTokenGenerator(gen))
		require.NoError(t, err)

		run, err := e.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "replay", run.Token)
		assert.Equal(t, StatusCompleted, run.Status)
	}
}

func TestExecute_ForbiddenEdgeNeverCommits(t *testing.T) {
	states := []spec.State{
		{ID: "ready"},
		{ID: "error", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "drop", Sources: []string{"ready"}, Target: "error", Mode: spec.ModeTrigger, Entry: "drop"},
	}
	forbidden := []spec.ForbiddenEdge{{Source: "ready", Target: "error", Reason: "no dropping"}}
	m := spec.New("m", "ready", states, defs, forbidden)

	d := NewScriptDriver()
	d.Script("drop", ScriptStep{Value: spec.Bool(true)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeForbiddenTransition, run.Failure.Code)
	// The forbidden transition must never be committed.
	assert.Equal(t, "ready", run.Current)
	assert.Empty(t, run.Records)
	assert.Contains(t, run.Failure.Message, "no dropping")
}

func TestExecute_TimeBudgetExceeded(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "slow", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeTrigger, Entry: "slow",
			Budget: spec.Budget{MaxTime: time.Millisecond},
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("slow", ScriptStep{Value: spec.Bool(true), Duration: 50 * time.Millisecond})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeTimeBudgetExceeded, run.Failure.Code)
	require.NotNil(t, run.Failure.Violation)
	assert.Equal(t, time.Millisecond, run.Failure.Violation.Limit)
	assert.Equal(t, 50*time.Millisecond, run.Failure.Violation.Actual)
	// Budget violations are detected after commit; the transition is
	// part of the log.
	assert.Equal(t, "b", run.Current)
	assert.Len(t, run.Records, 1)
}

func TestExecute_MemoryBudgetExceeded(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "hungry", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeTrigger, Entry: "hungry",
			Budget: spec.Budget{MaxMemory: 1024},
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("hungry", ScriptStep{Value: spec.Bool(true), MemoryDelta: 1 << 20})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeMemoryBudgetExceeded, run.Failure.Code)
}

func TestExecute_WaitPollsUntilConditionHolds(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "settle", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeWait, Entry: "probe",
			Interval: time.Millisecond, Timeout: time.Second,
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("probe",
		ScriptStep{Value: spec.Bool(false)},
		ScriptStep{Value: spec.Bool(false)},
		ScriptStep{Value: spec.Bool(true)},
	)

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 3, d.Calls("probe"))
}

func TestExecute_WaitTimeoutIsDistinctFailure(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "never", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeWait, Entry: "probe",
			Interval: time.Millisecond, Timeout: 10 * time.Millisecond,
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("probe", ScriptStep{Value: spec.Bool(false)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeTransitionTimeout, run.Failure.Code)
	assert.Equal(t, 10*time.Millisecond, run.Failure.Limit)
	assert.GreaterOrEqual(t, run.Failure.Actual, 10*time.Millisecond)
	assert.Equal(t, "a", run.Current, "timed-out wait must not advance state")
	assert.True(t, IsTimeout(run.Failure))
}

func TestExecute_PollErrorFailsFastByDefault(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "flaky", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeWait, Entry: "probe",
			Interval: time.Millisecond, Timeout: time.Second,
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("probe", ScriptStep{Err: errors.New("probe exploded")})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeDriverError, run.Failure.Code)
}

func TestExecute_PollErrorRetriesUnderPolicy(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "flaky", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeWait, Entry: "probe",
			Interval: time.Millisecond, Timeout: time.Second,
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("probe",
		ScriptStep{Err: errors.New("transient")},
		ScriptStep{Value: spec.Bool(true)},
	)

	e := newTestExecutor(t, m, d, WithPollErrorPolicy(PollRetryUntilTimeout))
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
}

func TestExecute_ReturnMismatch(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "go", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeTrigger, Entry: "go", Expect: spec.Bool(true),
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("go", ScriptStep{Value: spec.Bool(false)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeReturnMismatch, run.Failure.Code)
	assert.Equal(t, "a", run.Current)
}

func TestExecute_InvariantViolationOnEntry(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Invariant: spec.MustParseExpr("count > 10")},
		{ID: "c", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "go", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "go", Capture: "count"},
		{ID: "on", Sources: []string{"b"}, Target: "c", Mode: spec.ModeTrigger, Entry: "on"},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("go", ScriptStep{Value: spec.Int(3)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeInvariantViolation, run.Failure.Code)
	require.NotNil(t, run.Failure.Violation)
	assert.Equal(t, "b", run.Failure.Violation.StateID)
	assert.Equal(t, "count > 10", run.Failure.Violation.Expression)
}

func TestExecute_GuardsSelectTransition(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "big", Terminal: true},
		{ID: "small", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "to_big", Sources: []string{"a"}, Target: "big", Mode: spec.ModeTrigger, Entry: "classify_big", Guard: spec.MustParseExpr("size > 100")},
		{ID: "to_small", Sources: []string{"a"}, Target: "small", Mode: spec.ModeTrigger, Entry: "classify_small", Guard: spec.MustParseExpr("size <= 100")},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("classify_small", ScriptStep{Value: spec.Bool(true)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), spec.Env{"size": spec.Int(7)})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, "small", run.Current)
	assert.Zero(t, d.Calls("classify_big"))
}

func TestExecute_AmbiguousTransitionIsInternalDefect(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "x", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "x"},
		{ID: "y", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "y"},
	}
	m := spec.New("m", "a", states, defs, nil)

	e := newTestExecutor(t, m, NewScriptDriver())
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeAmbiguousTransition, run.Failure.Code)
	assert.True(t, IsInternalDefect(run.Failure))
}

func TestExecute_StuckRunFails(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "go", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "go", Guard: spec.MustParseExpr("false")},
	}
	m := spec.New("m", "a", states, defs, nil)

	e := newTestExecutor(t, m, NewScriptDriver())
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeNoEligibleTransition, run.Failure.Code)
}

func TestExecute_MaxStepsQuota(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b"},
		{ID: "end", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "ab", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "ab"},
		{ID: "ba", Sources: []string{"b"}, Target: "a", Mode: spec.ModeTrigger, Entry: "ba"},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("ab", ScriptStep{Value: spec.Bool(true)})
	d.Script("ba", ScriptStep{Value: spec.Bool(true)})

	e := newTestExecutor(t, m, d, WithMaxSteps(10))
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeMaxStepsExceeded, run.Failure.Code)
	assert.Len(t, run.Records, 10)
}

func TestExecute_RunTimeoutCancelsOnlyThisRun(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "hang", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeWait, Entry: "probe",
			Interval: time.Millisecond, Timeout: time.Hour,
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("probe", ScriptStep{Value: spec.Bool(false)})

	e := newTestExecutor(t, m, d, WithRunTimeout(20*time.Millisecond))
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeRunTimeout, run.Failure.Code)

	// A sibling run with its own executor is unaffected.
	d2 := NewScriptDriver()
	d2.Script("probe", ScriptStep{Value: spec.Bool(true)})
	e2 := newTestExecutor(t, m, d2)
	run2, err := e2.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run2.Status)
}

func TestExecute_ComplexityMismatchFailsRun(t *testing.T) {
	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{
			ID: "work", Sources: []string{"a"}, Target: "b",
			Mode: spec.ModeTrigger, Entry: "work",
			Budget: spec.Budget{Complexity: spec.ON},
		},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("work", ScriptStep{Value: spec.Bool(true)})

	// Quadratic samples against a declared O(n).
	set := spec.SampleSet{TransitionID: "work"}
	for _, n := range []int{10, 20, 50, 100, 200, 500} {
		set.Samples = append(set.Samples, spec.Sample{Size: n, Duration: time.Duration(n * n)})
	}

	e := newTestExecutor(t, m, d,
		WithComplexitySamples(complexity.Analyzer{}, map[string]spec.SampleSet{"work": set}))
	run, err := e.Execute(context.Background(), nil)
	require.NoError(t, err)

	require.NotNil(t, run.Failure)
	assert.Equal(t, CodeComplexityMismatch, run.Failure.Code)
	require.NotNil(t, run.Failure.Complexity)
	assert.Equal(t, spec.ON, run.Failure.Complexity.Declared)
	assert.Equal(t, spec.ON2, run.Failure.Complexity.Observed)
}

func TestNewExecutor_RequiresMachineAndDriver(t *testing.T) {
	_, err := NewExecutor(nil, NewScriptDriver())
	assert.Error(t, err)

	_, err = NewExecutor(pipelineMachine(), nil)
	assert.Error(t, err)
}

func TestExecute_InitialEnvIsNotMutated(t *testing.T) {
	initial := spec.Env{"size": spec.Int(7)}

	states := []spec.State{
		{ID: "a"},
		{ID: "b", Terminal: true},
	}
	defs := []spec.TransitionDef{
		{ID: "go", Sources: []string{"a"}, Target: "b", Mode: spec.ModeTrigger, Entry: "go", Capture: "size"},
	}
	m := spec.New("m", "a", states, defs, nil)

	d := NewScriptDriver()
	d.Script("go", ScriptStep{Value: spec.Int(99)})

	e := newTestExecutor(t, m, d)
	run, err := e.Execute(context.Background(), initial)
	require.NoError(t, err)

	assert.Equal(t, spec.Int(99), run.Vars["size"])
	assert.Equal(t, spec.Int(7), initial["size"])
}
