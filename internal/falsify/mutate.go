package falsify

import (
	"fmt"
	"time"

	"github.com/specterhq/specter/internal/spec"
)

// UndeclaredState is the target used by the dangling-target mutation
// when the descriptor does not name one.
const UndeclaredState = "__undeclared__"

// Apply transforms a machine according to a mutation descriptor.
// The input machine is never touched; the result is a fresh Machine
// built from mutated copies of its declared parts.
func Apply(m *spec.Machine, mut spec.Mutation) (*spec.Machine, error) {
	states := m.States()
	defs := m.Defs()
	forbidden := m.Forbidden()

	switch mut.Kind {
	case spec.MutationRemoveState:
		idx := stateIndex(states, mut.StateID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: state %q not found", mut.Kind, mut.StateID)
		}
		states = append(states[:idx], states[idx+1:]...)

	case spec.MutationRemoveTransition:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		defs = append(defs[:idx], defs[idx+1:]...)

	case spec.MutationDuplicateTransition:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		defs = append(defs, defs[idx])

	case spec.MutationDanglingTarget:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		target := mut.Target
		if target == "" {
			target = UndeclaredState
		}
		defs[idx].Target = target

	case spec.MutationNegateInvariant:
		idx := stateIndex(states, mut.StateID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: state %q not found", mut.Kind, mut.StateID)
		}
		if states[idx].Invariant == nil {
			return nil, fmt.Errorf("mutation %s: state %q has no invariant", mut.Kind, mut.StateID)
		}
		states[idx].Invariant = states[idx].Invariant.Negate()

	case spec.MutationTightenTimeBudget:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		defs[idx].Budget.MaxTime = time.Nanosecond

	case spec.MutationTightenMemoryBudget:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		defs[idx].Budget.MaxMemory = 1

	case spec.MutationDegradeComplexity:
		idx := defIndex(defs, mut.TransitionID)
		if idx < 0 {
			return nil, fmt.Errorf("mutation %s: transition %q not found", mut.Kind, mut.TransitionID)
		}
		declared := defs[idx].Budget.Complexity
		if declared == "" {
			return nil, fmt.Errorf("mutation %s: transition %q declares no complexity class", mut.Kind, mut.TransitionID)
		}
		cheaper, ok := declared.Cheaper()
		if !ok {
			return nil, fmt.Errorf("mutation %s: %s has no cheaper class", mut.Kind, declared)
		}
		defs[idx].Budget.Complexity = cheaper

	case spec.MutationForceForbiddenEdge:
		source, target := mut.Source, mut.Target
		if source == "" || target == "" {
			idx := defIndex(defs, mut.TransitionID)
			if idx < 0 {
				return nil, fmt.Errorf("mutation %s: needs source/target or a transition id", mut.Kind)
			}
			if len(defs[idx].Sources) == 0 || defs[idx].Sources[0] == spec.Wildcard {
				return nil, fmt.Errorf("mutation %s: transition %q has no concrete source", mut.Kind, mut.TransitionID)
			}
			source, target = defs[idx].Sources[0], defs[idx].Target
		}
		forbidden = append(forbidden, spec.ForbiddenEdge{
			Source: source,
			Target: target,
			Reason: "injected by falsification harness",
		})

	default:
		return nil, fmt.Errorf("unknown mutation kind %q", mut.Kind)
	}

	return spec.New(m.ID(), m.Initial(), states, defs, forbidden), nil
}

func stateIndex(states []spec.State, id string) int {
	for i, s := range states {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func defIndex(defs []spec.TransitionDef, id string) int {
	for i, d := range defs {
		if d.ID == id {
			return i
		}
	}
	return -1
}
