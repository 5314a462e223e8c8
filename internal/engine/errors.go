package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/specterhq/specter/internal/check"
	"github.com/specterhq/specter/internal/complexity"
)

// FailureCode categorizes why a Run failed. Codes for invariant and
// budget violations reuse the checker's kind strings so the
// falsification harness matches on one vocabulary.
type FailureCode string

const (
	// CodeTransitionTimeout indicates a wait transition's poll deadline
	// elapsed before the condition held. Distinct from a budget or
	// assertion failure so the two are never conflated.
	CodeTransitionTimeout FailureCode = "TRANSITION_TIMEOUT"

	// CodeForbiddenTransition indicates the elected edge is in the
	// machine's forbidden set. Raised before the state change commits.
	CodeForbiddenTransition FailureCode = "FORBIDDEN_TRANSITION"

	// CodeAmbiguousTransition indicates more than one transition was
	// eligible. This should be impossible on a validated machine and is
	// treated as an internal engine defect, not a spec-author error.
	CodeAmbiguousTransition FailureCode = "AMBIGUOUS_TRANSITION"

	// CodeReturnMismatch indicates a trigger returned a value other
	// than the transition's declared expectation.
	CodeReturnMismatch FailureCode = "RETURN_MISMATCH"

	// CodeDriverError indicates the target driver itself failed.
	CodeDriverError FailureCode = "DRIVER_ERROR"

	// CodeGuardError indicates a guard expression could not be evaluated.
	CodeGuardError FailureCode = "GUARD_ERROR"

	// CodeNoEligibleTransition indicates the run is stuck: the current
	// state is non-terminal and no transition's guard holds.
	CodeNoEligibleTransition FailureCode = "NO_ELIGIBLE_TRANSITION"

	// CodeRunTimeout indicates the total-run deadline elapsed.
	CodeRunTimeout FailureCode = "RUN_TIMEOUT"

	// CodeMaxStepsExceeded indicates the run exceeded its step quota, a
	// safeguard against non-terminating machines.
	CodeMaxStepsExceeded FailureCode = "MAX_STEPS_EXCEEDED"

	// Checker kinds, verbatim.
	CodeInvariantViolation   FailureCode = FailureCode(check.KindInvariant)
	CodeTimeBudgetExceeded   FailureCode = FailureCode(check.KindTimeBudget)
	CodeMemoryBudgetExceeded FailureCode = FailureCode(check.KindMemoryBudget)

	// CodeComplexityMismatch indicates a transition's measured growth
	// class differs from its declared class beyond tolerance.
	CodeComplexityMismatch FailureCode = FailureCode(complexity.KindMismatch)
)

// RuntimeError is a structured Run failure. Failures are surfaced
// verbatim with the offending identifier attached, never downgraded.
type RuntimeError struct {
	Code         FailureCode
	TransitionID string
	StateID      string
	Message      string

	// Limit and Actual carry timeout context for CodeTransitionTimeout
	// and CodeRunTimeout.
	Limit  time.Duration
	Actual time.Duration

	// Violation carries the checker's structured value for invariant
	// and budget codes.
	Violation *check.Violation

	// Complexity carries the analyzer's result for CodeComplexityMismatch.
	Complexity *complexity.Result

	Err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	ref := e.TransitionID
	if ref == "" {
		ref = e.StateID
	}
	if ref != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, ref)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying driver error, if any.
func (e *RuntimeError) Unwrap() error { return e.Err }

// IsTimeout reports whether the error is a transition or run timeout.
// Uses errors.As to handle wrapped errors.
func IsTimeout(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == CodeTransitionTimeout || re.Code == CodeRunTimeout
	}
	return false
}

// IsInternalDefect reports whether the failure indicates an
// executor/validator mismatch rather than a contract violation.
func IsInternalDefect(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == CodeAmbiguousTransition
	}
	return false
}

// violationError lifts a checker violation into a RuntimeError,
// preserving its kind as the failure code.
func violationError(v *check.Violation) *RuntimeError {
	return &RuntimeError{
		Code:         FailureCode(v.Kind),
		TransitionID: v.TransitionID,
		StateID:      v.StateID,
		Message:      v.String(),
		Limit:        v.Limit,
		Actual:       v.Actual,
		Violation:    v,
	}
}
