// Package check evaluates per-state invariants and per-transition
// performance budgets.
//
// The checker is independent of the executor: both functions are pure
// over their inputs, so the package can be unit-tested with synthetic
// event streams and reused by the falsification harness. Violations are
// structured values matchable by kind, never by string content.
package check

import (
	"fmt"
	"time"

	"github.com/specterhq/specter/internal/spec"
)

// ViolationKind categorizes a runtime contract violation.
type ViolationKind string

const (
	// KindInvariant flags a state invariant evaluating to false (or
	// failing to evaluate) on entry or exit.
	KindInvariant ViolationKind = "INVARIANT_VIOLATION"

	// KindTimeBudget flags a transition exceeding its wall-clock budget.
	KindTimeBudget ViolationKind = "TIME_BUDGET_EXCEEDED"

	// KindMemoryBudget flags a transition exceeding its memory-delta budget.
	KindMemoryBudget ViolationKind = "MEMORY_BUDGET_EXCEEDED"
)

// Violation is one contract violation with the offending identifier and
// the measured-versus-declared quantities attached.
type Violation struct {
	Kind         ViolationKind `json:"kind"`
	StateID      string        `json:"state_id,omitempty"`
	TransitionID string        `json:"transition_id,omitempty"`
	Expression   string        `json:"expression,omitempty"` // invariant source text

	Limit  time.Duration `json:"limit,omitempty"`  // time budget
	Actual time.Duration `json:"actual,omitempty"` // measured duration

	LimitBytes  int64 `json:"limit_bytes,omitempty"`  // memory budget
	ActualBytes int64 `json:"actual_bytes,omitempty"` // measured delta

	Detail string `json:"detail,omitempty"`
}

func (v *Violation) String() string {
	switch v.Kind {
	case KindInvariant:
		return fmt.Sprintf("[%s] state %q: invariant %q does not hold", v.Kind, v.StateID, v.Expression)
	case KindTimeBudget:
		return fmt.Sprintf("[%s] transition %q: %v exceeds budget %v", v.Kind, v.TransitionID, v.Actual, v.Limit)
	case KindMemoryBudget:
		return fmt.Sprintf("[%s] transition %q: %d bytes exceeds budget %d", v.Kind, v.TransitionID, v.ActualBytes, v.LimitBytes)
	default:
		return fmt.Sprintf("[%s] %s", v.Kind, v.Detail)
	}
}

// Invariant evaluates a state's invariant against a snapshot of the
// captured variables. An absent invariant is treated as true. An
// invariant that cannot be evaluated (unknown variable, type error) is
// a violation, not a silent pass: the contract is unverifiable.
func Invariant(state spec.State, vars spec.Env) *Violation {
	if state.Invariant == nil {
		return nil
	}

	holds, err := state.Invariant.EvalBool(vars)
	if err != nil {
		return &Violation{
			Kind:       KindInvariant,
			StateID:    state.ID,
			Expression: state.Invariant.Source(),
			Detail:     err.Error(),
		}
	}
	if !holds {
		return &Violation{
			Kind:       KindInvariant,
			StateID:    state.ID,
			Expression: state.Invariant.Source(),
		}
	}
	return nil
}

// Budget compares a transition's measured duration and memory delta
// against its declared budget. Returns the first violation found, time
// before memory. Zero budget fields impose no constraint.
func Budget(t spec.Transition, elapsed time.Duration, memDelta int64) *Violation {
	if t.Budget.MaxTime > 0 && elapsed > t.Budget.MaxTime {
		return &Violation{
			Kind:         KindTimeBudget,
			TransitionID: t.ID,
			Limit:        t.Budget.MaxTime,
			Actual:       elapsed,
		}
	}
	if t.Budget.MaxMemory > 0 && memDelta > t.Budget.MaxMemory {
		return &Violation{
			Kind:         KindMemoryBudget,
			TransitionID: t.ID,
			LimitBytes:   t.Budget.MaxMemory,
			ActualBytes:  memDelta,
		}
	}
	return nil
}
