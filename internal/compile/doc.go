// Package compile turns CUE machine definitions into spec.Machine
// values.
//
// A definition file declares machines under a top-level "machine"
// struct:
//
//	machine: order_pipeline: {
//		initial: "start"
//		state: {
//			start: {}
//			ready: {invariant: "load_result == true"}
//			completed: {terminal: true}
//		}
//		transition: {
//			load: {
//				from:    "start"
//				to:      "loading"
//				entry:   "load"
//				expect:  true
//				capture: "load_result"
//				budget: {max_time: "100ms", max_memory: "64MB", complexity: "O(n)"}
//			}
//		}
//		forbidden: [{from: "ready", to: "error", reason: "ready work must not be dropped"}]
//	}
//
// Durations are Go duration strings, memory limits are byte counts or
// suffixed strings (KB, MB, GB), and guard/invariant expressions use
// the spec package's expression grammar. The compiler normalizes and
// type-checks these surface forms; structural soundness of the
// resulting machine is the validator's job.
package compile
