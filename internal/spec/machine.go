package spec

import "time"

// Wildcard is the transition-source marker meaning "any non-terminal state".
const Wildcard = "*"

// ActivationMode selects how a transition drives the target.
type ActivationMode string

const (
	// ModeTrigger fires an entry point once and checks its return.
	ModeTrigger ActivationMode = "trigger"

	// ModeWait polls an entry point at a fixed interval until the
	// condition holds or the transition's timeout elapses.
	ModeWait ActivationMode = "wait"
)

// ComplexityClass is an asymptotic growth category for a transition's
// measured timing behavior.
type ComplexityClass string

const (
	O1     ComplexityClass = "O(1)"
	OLogN  ComplexityClass = "O(log n)"
	ON     ComplexityClass = "O(n)"
	ONLogN ComplexityClass = "O(n log n)"
	ON2    ComplexityClass = "O(n^2)"
)

// ComplexityClasses lists all classes in increasing growth order.
var ComplexityClasses = []ComplexityClass{O1, OLogN, ON, ONLogN, ON2}

// Valid reports whether c is one of the known classes.
func (c ComplexityClass) Valid() bool {
	for _, k := range ComplexityClasses {
		if c == k {
			return true
		}
	}
	return false
}

// Cheaper returns the next cheaper class, if any. Used by the
// complexity-degradation mutation to declare a class the measured
// samples cannot satisfy.
func (c ComplexityClass) Cheaper() (ComplexityClass, bool) {
	for i, k := range ComplexityClasses {
		if c == k && i > 0 {
			return ComplexityClasses[i-1], true
		}
	}
	return "", false
}

// Budget is the declared performance contract for one transition.
// Zero fields mean "no constraint".
type Budget struct {
	MaxTime    time.Duration   // max wall-clock duration
	MaxMemory  int64           // max memory delta in bytes
	Complexity ComplexityClass // declared growth class, "" if undeclared
}

// IsZero reports whether the budget carries no constraint at all.
func (b Budget) IsZero() bool {
	return b.MaxTime == 0 && b.MaxMemory == 0 && b.Complexity == ""
}

// State is one node of the machine.
type State struct {
	ID          string
	Description string
	Terminal    bool  // no outgoing transitions permitted
	Invariant   *Expr // nil means no constraint
}

// TransitionDef is a transition as declared: one or more source states
// (or the wildcard), one target, an activation mode, and a budget.
type TransitionDef struct {
	ID       string
	Sources  []string
	Target   string
	Mode     ActivationMode
	Entry    string        // driver entry point name
	Args     Env           // arguments passed to the entry point
	Expect   Value         // expected return; nil accepts any value
	Interval time.Duration // wait mode: poll interval
	Timeout  time.Duration // wait mode: poll deadline
	Guard    *Expr         // nil means always eligible
	Budget   Budget
	Capture  string // variable name for the returned value, "" to discard
}

// Transition is the materialized single-source form produced by
// wildcard expansion at machine construction time. The validator and
// executor only ever see this form.
type Transition struct {
	ID       string // unique within the machine; "def@source" when expanded
	DefID    string // the declared transition identifier
	Source   string
	Target   string
	Mode     ActivationMode
	Entry    string
	Args     Env
	Expect   Value
	Interval time.Duration
	Timeout  time.Duration
	Guard    *Expr
	Budget   Budget
	Capture  string
}

// ForbiddenEdge is an explicit negative assertion: the (source, target)
// pair must never be taken, whether or not a transition declares it.
type ForbiddenEdge struct {
	Source string
	Target string
	Reason string
}

// Machine is the formally specified state/transition graph under
// verification. Immutable after construction; mutations build new
// values via New.
type Machine struct {
	id          string
	initial     string
	states      []State
	defs        []TransitionDef
	transitions []Transition // expanded
	forbidden   []ForbiddenEdge

	stateIdx map[string]int   // first declaration wins; duplicates kept in states
	bySource map[string][]int // indices into transitions
}

// New constructs a Machine from declared parts.
//
// Wildcard sources are expanded here: one concrete transition per
// non-terminal declared state. New performs no structural validation;
// dangling references, duplicates and unreachable states are the
// validator's job, and falsification mutations rely on being able to
// build deliberately broken machines.
func New(id, initial string, states []State, defs []TransitionDef, forbidden []ForbiddenEdge) *Machine {
	m := &Machine{
		id:        id,
		initial:   initial,
		states:    append([]State(nil), states...),
		defs:      append([]TransitionDef(nil), defs...),
		forbidden: append([]ForbiddenEdge(nil), forbidden...),
		stateIdx:  make(map[string]int, len(states)),
		bySource:  make(map[string][]int),
	}

	for i, s := range m.states {
		if _, seen := m.stateIdx[s.ID]; !seen {
			m.stateIdx[s.ID] = i
		}
	}

	for _, def := range m.defs {
		m.expand(def)
	}

	for i, t := range m.transitions {
		m.bySource[t.Source] = append(m.bySource[t.Source], i)
	}

	return m
}

// expand materializes one declared transition into concrete
// single-source transitions.
func (m *Machine) expand(def TransitionDef) {
	var sources []string
	for _, src := range def.Sources {
		if src == Wildcard {
			for _, s := range m.states {
				if !s.Terminal {
					sources = append(sources, s.ID)
				}
			}
			continue
		}
		sources = append(sources, src)
	}

	multi := len(sources) > 1
	for _, src := range sources {
		id := def.ID
		if multi {
			id = def.ID + "@" + src
		}
		m.transitions = append(m.transitions, Transition{
			ID:       id,
			DefID:    def.ID,
			Source:   src,
			Target:   def.Target,
			Mode:     def.Mode,
			Entry:    def.Entry,
			Args:     def.Args.Clone(),
			Expect:   def.Expect,
			Interval: def.Interval,
			Timeout:  def.Timeout,
			Guard:    def.Guard,
			Budget:   def.Budget,
			Capture:  def.Capture,
		})
	}
}

// ID returns the machine identifier.
func (m *Machine) ID() string { return m.id }

// Initial returns the initial state identifier.
func (m *Machine) Initial() string { return m.initial }

// States returns a copy of the declared state list.
func (m *Machine) States() []State {
	return append([]State(nil), m.states...)
}

// State looks up a state by identifier.
func (m *Machine) State(id string) (State, bool) {
	i, ok := m.stateIdx[id]
	if !ok {
		return State{}, false
	}
	return m.states[i], true
}

// Defs returns a copy of the declared (pre-expansion) transitions.
// Falsification mutations operate on this form and rebuild via New.
func (m *Machine) Defs() []TransitionDef {
	return append([]TransitionDef(nil), m.defs...)
}

// Transitions returns a copy of the expanded transition list.
func (m *Machine) Transitions() []Transition {
	return append([]Transition(nil), m.transitions...)
}

// TransitionsFrom returns the expanded transitions whose source is the
// given state, in declaration order.
func (m *Machine) TransitionsFrom(state string) []Transition {
	idx := m.bySource[state]
	out := make([]Transition, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.transitions[i])
	}
	return out
}

// Forbidden returns a copy of the forbidden-edge set.
func (m *Machine) Forbidden() []ForbiddenEdge {
	return append([]ForbiddenEdge(nil), m.forbidden...)
}

// IsForbidden reports whether the (source, target) pair is explicitly
// disallowed, returning the matching edge for its reason string.
func (m *Machine) IsForbidden(source, target string) (ForbiddenEdge, bool) {
	for _, e := range m.forbidden {
		if e.Source == source && e.Target == target {
			return e, true
		}
	}
	return ForbiddenEdge{}, false
}
