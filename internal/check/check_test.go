package check

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specterhq/specter/internal/spec"
)

func TestInvariant_AbsentIsTrue(t *testing.T) {
	assert.Nil(t, Invariant(spec.State{ID: "s"}, nil))
}

func TestInvariant_Holds(t *testing.T) {
	state := spec.State{ID: "ready", Invariant: spec.MustParseExpr("stock >= 0")}

	assert.Nil(t, Invariant(state, spec.Env{"stock": spec.Int(4)}))
}

func TestInvariant_Violated(t *testing.T) {
	state := spec.State{ID: "ready", Invariant: spec.MustParseExpr("stock >= 0")}

	v := Invariant(state, spec.Env{"stock": spec.Int(-1)})
	require.NotNil(t, v)
	assert.Equal(t, KindInvariant, v.Kind)
	assert.Equal(t, "ready", v.StateID)
	assert.Equal(t, "stock >= 0", v.Expression)
}

func TestInvariant_EvaluationErrorIsViolation(t *testing.T) {
	state := spec.State{ID: "ready", Invariant: spec.MustParseExpr("missing > 0")}

	v := Invariant(state, spec.Env{})
	require.NotNil(t, v)
	assert.Equal(t, KindInvariant, v.Kind)
	assert.Contains(t, v.Detail, "missing")
}

func TestBudget_NoConstraint(t *testing.T) {
	tr := spec.Transition{ID: "t"}

	assert.Nil(t, Budget(tr, time.Hour, 1<<40))
}

func TestBudget_TimeExceeded(t *testing.T) {
	tr := spec.Transition{ID: "t", Budget: spec.Budget{MaxTime: time.Millisecond}}

	v := Budget(tr, 50*time.Millisecond, 0)
	require.NotNil(t, v)
	assert.Equal(t, KindTimeBudget, v.Kind)
	assert.Equal(t, time.Millisecond, v.Limit)
	assert.Equal(t, 50*time.Millisecond, v.Actual)
	assert.Equal(t, "t", v.TransitionID)
}

func TestBudget_MemoryExceeded(t *testing.T) {
	tr := spec.Transition{ID: "t", Budget: spec.Budget{MaxMemory: 1024}}

	v := Budget(tr, 0, 4096)
	require.NotNil(t, v)
	assert.Equal(t, KindMemoryBudget, v.Kind)
	assert.Equal(t, int64(1024), v.LimitBytes)
	assert.Equal(t, int64(4096), v.ActualBytes)
}

func TestBudget_TimeCheckedBeforeMemory(t *testing.T) {
	tr := spec.Transition{ID: "t", Budget: spec.Budget{MaxTime: time.Millisecond, MaxMemory: 1}}

	v := Budget(tr, time.Second, 100)
	require.NotNil(t, v)
	assert.Equal(t, KindTimeBudget, v.Kind)
}

func TestBudget_WithinLimits(t *testing.T) {
	tr := spec.Transition{ID: "t", Budget: spec.Budget{MaxTime: time.Second, MaxMemory: 1 << 20}}

	assert.Nil(t, Budget(tr, time.Millisecond, 512))
}
