package falsify

import (
	"fmt"

	"github.com/specterhq/specter/internal/engine"
	"github.com/specterhq/specter/internal/spec"
	"github.com/specterhq/specter/internal/validate"
)

// Stage identifies which protective layer is expected to catch a
// mutation.
type Stage string

const (
	// StageValidator means the mutant must be rejected statically; the
	// executor is never invoked on it.
	StageValidator Stage = "validator"

	// StageRuntime means the mutant validates but its run must fail
	// with the expected violation kind.
	StageRuntime Stage = "runtime"

	// StageComplexity means the mutant's run must fail the complexity
	// analysis.
	StageComplexity Stage = "complexity"
)

// Signature is the expected (or observed) failure signal: the stage
// that raised it and the defect/violation kind. Kinds use the
// validator's, executor's, and analyzer's own vocabularies so matching
// is structural, never on message content.
type Signature struct {
	Stage Stage  `json:"stage"`
	Kind  string `json:"kind"`
}

// IsZero reports whether no failure was observed.
func (s Signature) IsZero() bool { return s.Stage == "" && s.Kind == "" }

func (s Signature) String() string {
	if s.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s/%s", s.Stage, s.Kind)
}

// Entry is one catalog item: a named mutation descriptor plus the
// failure signature it must provoke.
type Entry struct {
	Name     string        `json:"name"`
	Mutation spec.Mutation `json:"mutation"`
	Expect   Signature     `json:"expect"`
}

// DefaultCatalog derives a catalog from the baseline machine's own
// shape: mutations target states and transitions picked so the
// expected signal is structurally guaranteed (a removed state leaves a
// dangling reference, a removed bridge transition strands its target,
// and so on). Entries whose preconditions the machine cannot meet (no
// invariant to negate, no declared complexity to degrade) are simply
// absent.
func DefaultCatalog(m *spec.Machine) []Entry {
	var entries []Entry

	defs := m.Defs()

	if id, ok := referencedNonInitialState(m); ok {
		entries = append(entries, Entry{
			Name:     "remove-state-" + id,
			Mutation: spec.Mutation{Kind: spec.MutationRemoveState, StateID: id},
			Expect:   Signature{Stage: StageValidator, Kind: string(validate.DefectDanglingReference)},
		})
	}

	if id, ok := bridgeTransition(m); ok {
		entries = append(entries, Entry{
			Name:     "remove-transition-" + id,
			Mutation: spec.Mutation{Kind: spec.MutationRemoveTransition, TransitionID: id},
			Expect:   Signature{Stage: StageValidator, Kind: string(validate.DefectUnreachableState)},
		})
	}

	if len(defs) > 0 {
		entries = append(entries,
			Entry{
				Name:     "duplicate-transition-" + defs[0].ID,
				Mutation: spec.Mutation{Kind: spec.MutationDuplicateTransition, TransitionID: defs[0].ID},
				Expect:   Signature{Stage: StageValidator, Kind: string(validate.DefectDuplicateIdentifier)},
			},
			Entry{
				Name:     "dangling-target-" + defs[0].ID,
				Mutation: spec.Mutation{Kind: spec.MutationDanglingTarget, TransitionID: defs[0].ID},
				Expect:   Signature{Stage: StageValidator, Kind: string(validate.DefectDanglingReference)},
			},
		)
	}

	if id, ok := stateWithInvariant(m); ok {
		entries = append(entries, Entry{
			Name:     "negate-invariant-" + id,
			Mutation: spec.Mutation{Kind: spec.MutationNegateInvariant, StateID: id},
			Expect:   Signature{Stage: StageRuntime, Kind: string(engine.CodeInvariantViolation)},
		})
	}

	if len(defs) > 0 {
		entries = append(entries, Entry{
			Name:     "tighten-time-budget-" + defs[0].ID,
			Mutation: spec.Mutation{Kind: spec.MutationTightenTimeBudget, TransitionID: defs[0].ID},
			Expect:   Signature{Stage: StageRuntime, Kind: string(engine.CodeTimeBudgetExceeded)},
		})
	}

	if id, ok := memoryReportingTransition(m); ok {
		entries = append(entries, Entry{
			Name:     "tighten-memory-budget-" + id,
			Mutation: spec.Mutation{Kind: spec.MutationTightenMemoryBudget, TransitionID: id},
			Expect:   Signature{Stage: StageRuntime, Kind: string(engine.CodeMemoryBudgetExceeded)},
		})
	}

	if id, ok := complexityTransition(m); ok {
		entries = append(entries, Entry{
			Name:     "degrade-complexity-" + id,
			Mutation: spec.Mutation{Kind: spec.MutationDegradeComplexity, TransitionID: id},
			Expect:   Signature{Stage: StageComplexity, Kind: string(engine.CodeComplexityMismatch)},
		})
	}

	if len(defs) > 0 {
		if id, src, tgt, ok := concreteEdge(defs); ok {
			entries = append(entries, Entry{
				Name:     "force-forbidden-edge-" + id,
				Mutation: spec.Mutation{Kind: spec.MutationForceForbiddenEdge, Source: src, Target: tgt},
				Expect:   Signature{Stage: StageRuntime, Kind: string(engine.CodeForbiddenTransition)},
			})
		}
	}

	return entries
}

// referencedNonInitialState finds a state whose removal leaves at
// least one transition reference dangling.
func referencedNonInitialState(m *spec.Machine) (string, bool) {
	for _, s := range m.States() {
		if s.ID == m.Initial() {
			continue
		}
		for _, t := range m.Transitions() {
			if t.Source == s.ID || t.Target == s.ID {
				return s.ID, true
			}
		}
	}
	return "", false
}

// bridgeTransition finds a transition that is the sole way into its
// target, so removing it makes the target unreachable.
func bridgeTransition(m *spec.Machine) (string, bool) {
	inDegree := make(map[string]int)
	byDef := make(map[string]string) // target -> sole def id
	for _, t := range m.Transitions() {
		inDegree[t.Target]++
		byDef[t.Target] = t.DefID
	}
	for target, deg := range inDegree {
		if deg == 1 && target != m.Initial() {
			return byDef[target], true
		}
	}
	return "", false
}

func stateWithInvariant(m *spec.Machine) (string, bool) {
	for _, s := range m.States() {
		if s.Invariant != nil {
			return s.ID, true
		}
	}
	return "", false
}

// memoryReportingTransition picks a transition that already carries a
// memory budget, implying its driver reports memory deltas worth
// checking.
func memoryReportingTransition(m *spec.Machine) (string, bool) {
	for _, d := range m.Defs() {
		if d.Budget.MaxMemory > 0 {
			return d.ID, true
		}
	}
	return "", false
}

func complexityTransition(m *spec.Machine) (string, bool) {
	for _, d := range m.Defs() {
		if d.Budget.Complexity == "" {
			continue
		}
		if _, ok := d.Budget.Complexity.Cheaper(); ok {
			return d.ID, true
		}
	}
	return "", false
}

func concreteEdge(defs []spec.TransitionDef) (id, src, tgt string, ok bool) {
	for _, d := range defs {
		if len(d.Sources) == 1 && d.Sources[0] != spec.Wildcard {
			return d.ID, d.Sources[0], d.Target, true
		}
	}
	return "", "", "", false
}
