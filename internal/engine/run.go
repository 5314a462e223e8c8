package engine

import (
	"time"

	"github.com/specterhq/specter/internal/spec"
)

// RunStatus is the terminal disposition of a Run.
type RunStatus string

const (
	// StatusCompleted means the run reached a terminal state with every
	// check passing.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means a contract violation, timeout, or internal
	// defect ended the run. The partial record log is preserved.
	StatusFailed RunStatus = "failed"
)

// TransitionRecord is one taken transition with its measurements and a
// snapshot of the captured variables after the transition committed.
type TransitionRecord struct {
	Seq          int64         `json:"seq"`
	TransitionID string        `json:"transition_id"`
	Source       string        `json:"source"`
	Target       string        `json:"target"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Duration     time.Duration `json:"duration"`
	MemoryDelta  int64         `json:"memory_delta"`
	Vars         spec.Env      `json:"vars,omitempty"`
}

// Run is the record of one drive through a machine. Created at run
// start, mutated only by the executor, and frozen once the run
// finishes.
type Run struct {
	Token     string
	MachineID string

	// Current is the committed state. A forbidden transition never
	// advances it.
	Current string

	// Path is the ordered list of visited states, initial state first.
	Path []string

	// Records is the ordered log of taken transitions.
	Records []TransitionRecord

	// Vars is the accumulated captured-variable environment.
	Vars spec.Env

	Status  RunStatus
	Failure *RuntimeError

	StartedAt  time.Time
	FinishedAt time.Time
}

// Completed reports whether the run reached a terminal state cleanly.
func (r *Run) Completed() bool {
	return r.Status == StatusCompleted
}

// FailureCode returns the failure code, or "" for a completed run.
func (r *Run) FailureCode() FailureCode {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Code
}
