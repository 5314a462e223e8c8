package spec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStates() []State {
	return []State{
		{ID: "idle", Description: "waiting for work"},
		{ID: "busy", Description: "processing"},
		{ID: "done", Description: "finished", Terminal: true},
	}
}

func TestNew_ExpandsWildcardOverNonTerminalStates(t *testing.T) {
	defs := []TransitionDef{
		{
			ID:      "reset",
			Sources: []string{Wildcard},
			Target:  "idle",
			Mode:    ModeTrigger,
			Entry:   "reset",
		},
	}

	m := New("m", "idle", testStates(), defs, nil)

	ts := m.Transitions()
	require.Len(t, ts, 2, "wildcard expands to non-terminal states only")
	assert.Equal(t, "reset@idle", ts[0].ID)
	assert.Equal(t, "idle", ts[0].Source)
	assert.Equal(t, "reset@busy", ts[1].ID)
	assert.Equal(t, "busy", ts[1].Source)
	for _, tr := range ts {
		assert.Equal(t, "reset", tr.DefID)
		assert.Equal(t, "idle", tr.Target)
	}
}

func TestNew_SingleSourceKeepsDeclaredID(t *testing.T) {
	defs := []TransitionDef{
		{ID: "start", Sources: []string{"idle"}, Target: "busy", Mode: ModeTrigger, Entry: "start"},
	}

	m := New("m", "idle", testStates(), defs, nil)

	ts := m.Transitions()
	require.Len(t, ts, 1)
	assert.Equal(t, "start", ts[0].ID)
	assert.Equal(t, "start", ts[0].DefID)
}

func TestNew_MultiSourceSuffixesIDs(t *testing.T) {
	defs := []TransitionDef{
		{ID: "fail", Sources: []string{"idle", "busy"}, Target: "done", Mode: ModeTrigger, Entry: "fail"},
	}

	m := New("m", "idle", testStates(), defs, nil)

	ts := m.Transitions()
	require.Len(t, ts, 2)
	assert.Equal(t, "fail@idle", ts[0].ID)
	assert.Equal(t, "fail@busy", ts[1].ID)
}

func TestMachine_TransitionsFrom(t *testing.T) {
	defs := []TransitionDef{
		{ID: "start", Sources: []string{"idle"}, Target: "busy", Mode: ModeTrigger, Entry: "start"},
		{ID: "finish", Sources: []string{"busy"}, Target: "done", Mode: ModeTrigger, Entry: "finish"},
	}

	m := New("m", "idle", testStates(), defs, nil)

	from := m.TransitionsFrom("idle")
	require.Len(t, from, 1)
	assert.Equal(t, "start", from[0].ID)

	assert.Empty(t, m.TransitionsFrom("done"))
	assert.Empty(t, m.TransitionsFrom("nonexistent"))
}

func TestMachine_IsForbidden(t *testing.T) {
	forbidden := []ForbiddenEdge{
		{Source: "busy", Target: "idle", Reason: "work must not be abandoned"},
	}

	m := New("m", "idle", testStates(), nil, forbidden)

	edge, ok := m.IsForbidden("busy", "idle")
	require.True(t, ok)
	assert.Equal(t, "work must not be abandoned", edge.Reason)

	_, ok = m.IsForbidden("idle", "busy")
	assert.False(t, ok)
}

func TestMachine_AccessorsReturnCopies(t *testing.T) {
	defs := []TransitionDef{
		{ID: "start", Sources: []string{"idle"}, Target: "busy", Mode: ModeTrigger, Entry: "start"},
	}
	m := New("m", "idle", testStates(), defs, []ForbiddenEdge{{Source: "a", Target: "b"}})

	m.States()[0].ID = "mutated"
	m.Transitions()[0].Target = "mutated"
	m.Defs()[0].ID = "mutated"
	m.Forbidden()[0].Source = "mutated"

	st, ok := m.State("idle")
	require.True(t, ok)
	assert.Equal(t, "idle", st.ID)
	assert.Equal(t, "busy", m.Transitions()[0].Target)
	assert.Equal(t, "start", m.Defs()[0].ID)
	assert.Equal(t, "a", m.Forbidden()[0].Source)
}

func TestNew_ToleratesBrokenReferences(t *testing.T) {
	// Structural validation is the validator's job; construction must
	// accept broken machines so mutations can build them.
	defs := []TransitionDef{
		{ID: "ghost", Sources: []string{"idle"}, Target: "nowhere", Mode: ModeTrigger, Entry: "x"},
	}

	m := New("m", "idle", testStates(), defs, nil)

	require.Len(t, m.Transitions(), 1)
	assert.Equal(t, "nowhere", m.Transitions()[0].Target)
}

func TestComplexityClass_Cheaper(t *testing.T) {
	c, ok := ON.Cheaper()
	require.True(t, ok)
	assert.Equal(t, OLogN, c)

	_, ok = O1.Cheaper()
	assert.False(t, ok)

	_, ok = ComplexityClass("O(3^n)").Cheaper()
	assert.False(t, ok)
}

func TestBudget_IsZero(t *testing.T) {
	assert.True(t, Budget{}.IsZero())
	assert.False(t, Budget{MaxTime: time.Millisecond}.IsZero())
	assert.False(t, Budget{MaxMemory: 1}.IsZero())
	assert.False(t, Budget{Complexity: ON}.IsZero())
}

func TestEnv_Clone(t *testing.T) {
	env := Env{"a": Int(1)}
	clone := env.Clone()
	clone["a"] = Int(2)

	assert.Equal(t, Int(1), env["a"])
	assert.Nil(t, Env(nil).Clone())
}
