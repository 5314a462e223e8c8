package compile

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

func compileString(t *testing.T, src, path string) (*spec.Machine, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileMachine(v.LookupPath(cue.ParsePath(path)))
}

const pipelineCUE = `
machine: pipeline: {
	initial: "start"
	state: {
		start: {}
		loading: {description: "entry point invoked, result pending"}
		ready: {invariant: "load_result == true"}
		completed: {terminal: true}
	}
	transition: {
		load: {
			from:    "start"
			to:      "loading"
			entry:   "load"
			expect:  true
			capture: "load_result"
			args: {retries: 3, verbose: false}
			budget: {max_time: "100ms", max_memory: "64MB", complexity: "O(n)"}
		}
		warm: {
			from:     "loading"
			to:       "ready"
			mode:     "wait"
			entry:    "warm"
			interval: "10ms"
			timeout:  "5s"
		}
		finish: {
			from:  "ready"
			to:    "completed"
			entry: "finish"
			guard: "load_result == true"
		}
	}
	forbidden: [{from: "ready", to: "start", reason: "no restarts once ready"}]
}
`

func TestCompileMachine_FullDefinition(t *testing.T) {
	m, err := compileString(t, pipelineCUE, "machine.pipeline")
	require.NoError(t, err)

	assert.Equal(t, "pipeline", m.ID())
	assert.Equal(t, "start", m.Initial())
	assert.Len(t, m.States(), 4)
	assert.Len(t, m.Defs(), 3)

	// The compiled machine passes static validation as-is.
	assert.Empty(t, validate.Machine(m))

	ready, ok := m.State("ready")
	require.True(t, ok)
	require.NotNil(t, ready.Invariant)
	assert.Equal(t, "load_result == true", ready.Invariant.Source())

	completed, ok := m.State("completed")
	require.True(t, ok)
	assert.True(t, completed.Terminal)

	defs := m.Defs()
	load := defs[0]
	assert.Equal(t, "load", load.ID)
	assert.Equal(t, []string{"start"}, load.Sources)
	assert.Equal(t, spec.ModeTrigger, load.Mode)
	assert.Equal(t, spec.Bool(true), load.Expect)
	assert.Equal(t, "load_result", load.Capture)
	assert.Equal(t, spec.Int(3), load.Args["retries"])
	assert.Equal(t, spec.Bool(false), load.Args["verbose"])
	assert.Equal(t, 100*time.Millisecond, load.Budget.MaxTime)
	assert.Equal(t, int64(64<<20), load.Budget.MaxMemory)
	assert.Equal(t, spec.ON, load.Budget.Complexity)

	warm := defs[1]
	assert.Equal(t, spec.ModeWait, warm.Mode)
	assert.Equal(t, 10*time.Millisecond, warm.Interval)
	assert.Equal(t, 5*time.Second, warm.Timeout)

	finish := defs[2]
	require.NotNil(t, finish.Guard)
	assert.Equal(t, "load_result == true", finish.Guard.Source())

	edge, forbidden := m.IsForbidden("ready", "start")
	assert.True(t, forbidden)
	assert.Equal(t, "no restarts once ready", edge.Reason)
}

func TestCompileMachine_WildcardAndListSources(t *testing.T) {
	src := `
machine: m: {
	initial: "a"
	state: {a: {}, b: {}, done: {terminal: true}}
	transition: {
		reset: {from: "*", to: "a", entry: "reset"}
		pair:  {from: ["a", "b"], to: "done", entry: "finish"}
	}
}
`
	m, err := compileString(t, src, "machine.m")
	require.NoError(t, err)

	defs := m.Defs()
	require.Len(t, defs, 2)
	assert.Equal(t, []string{spec.Wildcard}, defs[0].Sources)
	assert.Equal(t, []string{"a", "b"}, defs[1].Sources)
	// Wildcard expands over the non-terminal states.
	assert.Len(t, m.TransitionsFrom("a"), 2)
	assert.Len(t, m.TransitionsFrom("done"), 0)
}

func TestCompileMachine_FieldErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing initial",
			src:   `machine: m: {state: {a: {}}}`,
			field: "initial",
		},
		{
			name:  "no states",
			src:   `machine: m: {initial: "a"}`,
			field: "state",
		},
		{
			name:  "missing from",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {to: "a", entry: "t"}}}`,
			field: "transition.t.from",
		},
		{
			name:  "missing to",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", entry: "t"}}}`,
			field: "transition.t.to",
		},
		{
			name:  "missing entry",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a"}}}`,
			field: "transition.t.entry",
		},
		{
			name:  "unknown mode",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", mode: "push"}}}`,
			field: "transition.t.mode",
		},
		{
			name:  "bad duration",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", interval: "fast"}}}`,
			field: "transition.t.interval",
		},
		{
			name:  "negative duration",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", timeout: "-1s"}}}`,
			field: "transition.t.timeout",
		},
		{
			name:  "bad memory limit",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", budget: {max_memory: "lots"}}}}`,
			field: "transition.t.budget.max_memory",
		},
		{
			name:  "unknown complexity class",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", budget: {complexity: "O(n!)"}}}}`,
			field: "transition.t.budget.complexity",
		},
		{
			name:  "bad guard expression",
			src:   `machine: m: {initial: "a", state: {a: {}}, transition: {t: {from: "a", to: "a", entry: "t", guard: "x >"}}}`,
			field: "transition.t.guard",
		},
		{
			name:  "bad invariant expression",
			src:   `machine: m: {initial: "a", state: {a: {invariant: "(("}}}`,
			field: "state.a.invariant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileString(t, tt.src, "machine.m")
			require.Error(t, err)

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestParseMemory_Suffixes(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{`{v: 4096}`, 4096},
		{`{v: "512B"}`, 512},
		{`{v: "4KB"}`, 4 << 10},
		{`{v: "64MB"}`, 64 << 20},
		{`{v: "2GB"}`, 2 << 30},
		{`{v: "64mb"}`, 64 << 20},
	}

	ctx := cuecontext.New()
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v := ctx.CompileString(tt.src).LookupPath(cue.ParsePath("v"))
			got, err := parseMemory(v, "v")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
