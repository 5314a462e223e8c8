// Package engine drives a target through a validated machine.
//
// The executor is the only component that talks to the target. Per
// step it selects the eligible transition for the current state, issues
// the trigger or wait call through the Driver capability, measures
// elapsed time and memory delta, checks the elected edge against the
// forbidden-edge set before committing the state change, and then runs
// the invariant and budget checker against the new state.
//
// ARCHITECTURE:
//
// A single Run is strictly sequential: each transition's postcondition
// (new state, invariant check) gates the next transition's
// precondition, so no two transitions of the same Run are ever in
// flight concurrently. A wait transition's polling loop suspends the
// calling goroutine cooperatively (select on the poll interval and the
// context), never other Runs.
//
// Multiple Runs share no mutable state: machines are immutable values,
// and each Run owns its record log and variable environment. The
// falsification harness exploits this to execute many mutated variants
// in parallel.
//
// Cancellation is timeout-driven at two granularities: the per-wait
// transition timeout from the transition itself, and an optional total
// run timeout (WithRunTimeout). Exceeding either fails only the
// current Run.
//
// FAILURE MODEL:
//
// Contract failures (timeouts, budget violations, invariant failures,
// forbidden edges, return mismatches) are recorded on the Run, not
// returned as Go errors: a failed Run with its partial transition log
// is the diagnostic output. Execute returns a non-nil error only for
// engine misuse (nil machine or driver).
package engine
