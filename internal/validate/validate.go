// Package validate proves structural soundness of a machine before any
// execution is attempted.
//
// Validation is pure and total: it terminates on any finite machine,
// never calls out to the target system, and returns all defects found
// (no fail-fast). A machine with zero defects is the only kind the
// executor is permitted to run.
package validate

import (
	"fmt"

	"github.com/specterhq/specter/internal/spec"
)

// DefectKind categorizes a structural defect.
type DefectKind string

const (
	// DefectUnreachableState flags a state no transition path reaches
	// from the initial state.
	DefectUnreachableState DefectKind = "UNREACHABLE_STATE"

	// DefectNonDeterministicTransition flags two transitions sharing a
	// (source, activation signature) pair.
	DefectNonDeterministicTransition DefectKind = "NON_DETERMINISTIC_TRANSITION"

	// DefectDanglingReference flags a transition or forbidden edge
	// naming an undeclared state.
	DefectDanglingReference DefectKind = "DANGLING_REFERENCE"

	// DefectOutgoingFromTerminal flags a transition leaving a terminal state.
	DefectOutgoingFromTerminal DefectKind = "OUTGOING_FROM_TERMINAL"

	// DefectDuplicateIdentifier flags a duplicate state or transition id.
	DefectDuplicateIdentifier DefectKind = "DUPLICATE_IDENTIFIER"

	// DefectInvalidInitialState flags an initial state missing from the
	// state set.
	DefectInvalidInitialState DefectKind = "INVALID_INITIAL_STATE"
)

// Defect is one structural problem, tagged with its kind and the
// offending identifier.
type Defect struct {
	Kind    DefectKind `json:"kind"`
	Ref     string     `json:"ref"` // offending state/transition/edge identifier
	Message string     `json:"message"`
}

// Error renders the defect for diagnostics. Defect is not an error
// value; the validator reports lists, never fails.
func (d Defect) String() string {
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Ref, d.Message)
}

// Machine checks a machine for structural defects. The returned list is
// empty exactly when the machine is sound. The same immutable machine
// always yields the same defect list.
func Machine(m *spec.Machine) []Defect {
	var defects []Defect

	defects = append(defects, checkDuplicates(m)...)
	defects = append(defects, checkInitial(m)...)
	defects = append(defects, checkReferences(m)...)
	defects = append(defects, checkTerminals(m)...)
	defects = append(defects, checkDeterminism(m)...)
	defects = append(defects, checkReachability(m)...)

	return defects
}

// HasKind reports whether the defect list contains a defect of the
// given kind. Used by the falsification harness to match signatures.
func HasKind(defects []Defect, kind DefectKind) bool {
	for _, d := range defects {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func checkDuplicates(m *spec.Machine) []Defect {
	var defects []Defect

	seenStates := make(map[string]bool)
	for _, s := range m.States() {
		if seenStates[s.ID] {
			defects = append(defects, Defect{
				Kind:    DefectDuplicateIdentifier,
				Ref:     s.ID,
				Message: fmt.Sprintf("state %q declared more than once", s.ID),
			})
		}
		seenStates[s.ID] = true
	}

	seenTransitions := make(map[string]bool)
	for _, t := range m.Transitions() {
		if seenTransitions[t.ID] {
			defects = append(defects, Defect{
				Kind:    DefectDuplicateIdentifier,
				Ref:     t.ID,
				Message: fmt.Sprintf("transition %q declared more than once", t.ID),
			})
		}
		seenTransitions[t.ID] = true
	}

	return defects
}

func checkInitial(m *spec.Machine) []Defect {
	if _, ok := m.State(m.Initial()); !ok {
		return []Defect{{
			Kind:    DefectInvalidInitialState,
			Ref:     m.Initial(),
			Message: fmt.Sprintf("initial state %q is not in the state set", m.Initial()),
		}}
	}
	return nil
}

func checkReferences(m *spec.Machine) []Defect {
	var defects []Defect

	for _, t := range m.Transitions() {
		if _, ok := m.State(t.Source); !ok {
			defects = append(defects, Defect{
				Kind:    DefectDanglingReference,
				Ref:     t.ID,
				Message: fmt.Sprintf("transition %q has undeclared source state %q", t.ID, t.Source),
			})
		}
		if _, ok := m.State(t.Target); !ok {
			defects = append(defects, Defect{
				Kind:    DefectDanglingReference,
				Ref:     t.ID,
				Message: fmt.Sprintf("transition %q has undeclared target state %q", t.ID, t.Target),
			})
		}
	}

	for _, e := range m.Forbidden() {
		ref := e.Source + "->" + e.Target
		if _, ok := m.State(e.Source); !ok {
			defects = append(defects, Defect{
				Kind:    DefectDanglingReference,
				Ref:     ref,
				Message: fmt.Sprintf("forbidden edge references undeclared state %q", e.Source),
			})
		}
		if _, ok := m.State(e.Target); !ok {
			defects = append(defects, Defect{
				Kind:    DefectDanglingReference,
				Ref:     ref,
				Message: fmt.Sprintf("forbidden edge references undeclared state %q", e.Target),
			})
		}
	}

	return defects
}

func checkTerminals(m *spec.Machine) []Defect {
	var defects []Defect

	for _, t := range m.Transitions() {
		src, ok := m.State(t.Source)
		if ok && src.Terminal {
			defects = append(defects, Defect{
				Kind:    DefectOutgoingFromTerminal,
				Ref:     t.ID,
				Message: fmt.Sprintf("transition %q leaves terminal state %q", t.ID, t.Source),
			})
		}
	}

	return defects
}

// checkDeterminism groups transitions by (source, activation signature)
// and flags any group with more than one member. The activation
// signature is the mode plus the entry point: two transitions that
// would issue the same call from the same state are indistinguishable
// at runtime.
func checkDeterminism(m *spec.Machine) []Defect {
	var defects []Defect

	groups := make(map[string][]string)
	for _, t := range m.Transitions() {
		key := t.Source + "\x00" + string(t.Mode) + "\x00" + t.Entry
		groups[key] = append(groups[key], t.ID)
	}

	for _, t := range m.Transitions() {
		key := t.Source + "\x00" + string(t.Mode) + "\x00" + t.Entry
		group := groups[key]
		if len(group) > 1 && group[0] == t.ID {
			defects = append(defects, Defect{
				Kind:    DefectNonDeterministicTransition,
				Ref:     t.ID,
				Message: fmt.Sprintf("transitions %v share source %q and activation %s:%s", group, t.Source, t.Mode, t.Entry),
			})
		}
	}

	return defects
}

// checkReachability runs breadth-first search over the directed graph
// implied by transitions and flags any state the initial state cannot
// reach.
func checkReachability(m *spec.Machine) []Defect {
	if _, ok := m.State(m.Initial()); !ok {
		// Without a valid root every state would be flagged; the
		// InvalidInitialState defect already covers this machine.
		return nil
	}

	reached := map[string]bool{m.Initial(): true}
	queue := []string{m.Initial()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range m.TransitionsFrom(cur) {
			if !reached[t.Target] {
				reached[t.Target] = true
				queue = append(queue, t.Target)
			}
		}
	}

	var defects []Defect
	for _, s := range m.States() {
		if !reached[s.ID] {
			defects = append(defects, Defect{
				Kind:    DefectUnreachableState,
				Ref:     s.ID,
				Message: fmt.Sprintf("state %q is not reachable from initial state %q", s.ID, m.Initial()),
			})
		}
	}

	return defects
}
