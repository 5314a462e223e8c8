package spec

// MutationKind identifies one class of deliberate machine corruption.
// The falsification harness pairs each kind with the failure signal the
// engine is expected to raise.
type MutationKind string

const (
	// MutationRemoveState deletes a state, leaving its transitions dangling.
	MutationRemoveState MutationKind = "remove_state"

	// MutationRemoveTransition deletes a declared transition.
	MutationRemoveTransition MutationKind = "remove_transition"

	// MutationDuplicateTransition re-declares an existing transition
	// under the same identifier.
	MutationDuplicateTransition MutationKind = "duplicate_transition"

	// MutationDanglingTarget retargets a transition at an undeclared state.
	MutationDanglingTarget MutationKind = "dangling_target"

	// MutationNegateInvariant replaces a state's invariant with its negation.
	MutationNegateInvariant MutationKind = "negate_invariant"

	// MutationTightenTimeBudget shrinks a transition's time budget below
	// anything the target can meet.
	MutationTightenTimeBudget MutationKind = "tighten_time_budget"

	// MutationTightenMemoryBudget shrinks a transition's memory budget.
	MutationTightenMemoryBudget MutationKind = "tighten_memory_budget"

	// MutationDegradeComplexity declares a cheaper complexity class than
	// the measured samples exhibit.
	MutationDegradeComplexity MutationKind = "degrade_complexity"

	// MutationForceForbiddenEdge adds a forbidden edge over a pair the
	// machine legitimately traverses.
	MutationForceForbiddenEdge MutationKind = "force_forbidden_edge"
)

// Mutation is a serializable transformation descriptor: kind plus
// parameters. Applying a mutation never touches a Machine in place; it
// produces a new Machine value (see the falsify package).
type Mutation struct {
	Kind MutationKind `json:"kind" yaml:"kind"`

	// StateID names the state operated on (remove_state, negate_invariant).
	StateID string `json:"state_id,omitempty" yaml:"state_id,omitempty"`

	// TransitionID names the declared transition operated on.
	TransitionID string `json:"transition_id,omitempty" yaml:"transition_id,omitempty"`

	// Source and Target parameterize force_forbidden_edge and
	// dangling_target.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}
