package falsify

import (
	"fmt"
	"sort"

	"github.com/specterhq/specter/internal/spec"
)

// PropertyViolation is one failed structural property. These checks
// overlap the static validator on purpose: they recompute the graph
// facts from first principles, so a validator bug cannot silently
// vouch for itself.
type PropertyViolation struct {
	Property string `json:"property"`
	Ref      string `json:"ref"`
	Message  string `json:"message"`
}

func (p PropertyViolation) String() string {
	return fmt.Sprintf("%s: %s: %s", p.Property, p.Ref, p.Message)
}

const (
	// PropReachable: every declared state is reachable from the initial
	// state.
	PropReachable = "reachable"

	// PropDeterministic: at most one transition per (source, mode,
	// entry) signature.
	PropDeterministic = "deterministic"

	// PropTerminating: from every reachable state some terminal state
	// remains reachable, ignoring forbidden edges.
	PropTerminating = "terminating"
)

// CheckProperties recomputes the machine's structural properties
// directly from its transition graph.
func CheckProperties(m *spec.Machine) []PropertyViolation {
	var out []PropertyViolation
	out = append(out, checkReachable(m)...)
	out = append(out, checkDeterministic(m)...)
	out = append(out, checkTerminating(m)...)
	return out
}

func checkReachable(m *spec.Machine) []PropertyViolation {
	reached := forwardReachable(m)

	var out []PropertyViolation
	for _, s := range m.States() {
		if !reached[s.ID] {
			out = append(out, PropertyViolation{
				Property: PropReachable,
				Ref:      s.ID,
				Message:  "no path from the initial state",
			})
		}
	}
	return out
}

func checkDeterministic(m *spec.Machine) []PropertyViolation {
	groups := make(map[string][]string)
	for _, t := range m.Transitions() {
		key := t.Source + "\x00" + string(t.Mode) + "\x00" + t.Entry
		groups[key] = append(groups[key], t.ID)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []PropertyViolation
	for _, k := range keys {
		ids := groups[k]
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, PropertyViolation{
				Property: PropDeterministic,
				Ref:      ids[0],
				Message:  fmt.Sprintf("transitions %v share a source, mode, and entry point", ids),
			})
		}
	}
	return out
}

// checkTerminating flags reachable states from which no terminal state
// can be reached. Forbidden edges do not count as ways forward: a path
// that only exits through a forbidden edge is a trap.
func checkTerminating(m *spec.Machine) []PropertyViolation {
	reached := forwardReachable(m)

	// Reverse reachability from terminal states over permitted edges.
	reverse := make(map[string][]string)
	for _, t := range m.Transitions() {
		if _, forbidden := m.IsForbidden(t.Source, t.Target); forbidden {
			continue
		}
		reverse[t.Target] = append(reverse[t.Target], t.Source)
	}

	canFinish := make(map[string]bool)
	var queue []string
	for _, s := range m.States() {
		if s.Terminal {
			canFinish[s.ID] = true
			queue = append(queue, s.ID)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range reverse[cur] {
			if !canFinish[prev] {
				canFinish[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	var out []PropertyViolation
	for _, s := range m.States() {
		if reached[s.ID] && !canFinish[s.ID] {
			out = append(out, PropertyViolation{
				Property: PropTerminating,
				Ref:      s.ID,
				Message:  "no terminal state is reachable from here",
			})
		}
	}
	return out
}

func forwardReachable(m *spec.Machine) map[string]bool {
	adj := make(map[string][]string)
	for _, t := range m.Transitions() {
		adj[t.Source] = append(adj[t.Source], t.Target)
	}

	reached := map[string]bool{m.Initial(): true}
	queue := []string{m.Initial()}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reached
}
