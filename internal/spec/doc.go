// Package spec provides the canonical in-memory model for specter.
//
// This package contains type definitions and pure evaluation only. All
// other internal packages import spec; spec imports nothing internal.
// This keeps the model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Machines are immutable after construction. Every accessor returns
//     a copy; mutations build new Machine values.
//   - Wildcard transition sources are materialized at construction time
//     (one concrete transition per non-terminal state), so the validator
//     and executor never branch on source kind.
//   - Guard and invariant expressions use a small closed grammar
//     (comparisons, boolean connectives, variable lookups) evaluated by
//     a dedicated interpreter. Evaluation is total and side-effect-free.
//   - All duration and memory quantities are canonical units
//     (time.Duration, bytes). The model never parses textual literals.
package spec
