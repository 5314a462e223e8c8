// Package complexity fits observed timing samples to asymptotic growth
// models and classifies the measured complexity class.
//
// The analyzer is read-only over its sample set and holds no mutable
// state between calls, so a single instance is safe to reuse across
// transitions and across concurrent falsification runs.
package complexity

import (
	"fmt"
	"math"

	"github.com/specterhq/specter/internal/spec"
)

// KindMismatch is the failure kind raised when the observed growth
// class differs from the declared class beyond tolerance. Matches the
// falsification harness's signature vocabulary.
const KindMismatch = "COMPLEXITY_MISMATCH"

// DefaultTolerance is the allowed relative RMS error gap between the
// declared model and the best-fitting model before a mismatch is
// reported.
const DefaultTolerance = 0.20

// Analyzer classifies sample sets against declared complexity classes.
// The zero value uses DefaultTolerance.
type Analyzer struct {
	// Tolerance widens the declared-versus-best fit comparison. A
	// declared model whose relative RMS error exceeds the best model's
	// by no more than this much is still considered a match.
	Tolerance float64
}

// Fit is the per-class goodness of fit for one sample set.
type Fit struct {
	// Scores maps each candidate class to its coefficient of
	// determination against the samples. Higher is better; the constant
	// model scores zero by construction unless the data is flat.
	Scores map[spec.ComplexityClass]float64

	// Best is the class with the highest score. Ties resolve to the
	// cheaper class.
	Best spec.ComplexityClass
}

// Result is the outcome of checking samples against a declared class.
type Result struct {
	Matches  bool                 `json:"matches"`
	Declared spec.ComplexityClass `json:"declared"`
	Observed spec.ComplexityClass `json:"observed"`

	// Gap is the relative RMS error of the declared model minus that
	// of the observed model. Zero when they coincide.
	Gap float64 `json:"gap"`
}

func (r *Result) String() string {
	if r.Matches {
		return fmt.Sprintf("complexity matches %s (observed %s)", r.Declared, r.Observed)
	}
	return fmt.Sprintf("[%s] declared %s, observed %s (gap %.3f)", KindMismatch, r.Declared, r.Observed, r.Gap)
}

func (a Analyzer) tolerance() float64 {
	if a.Tolerance <= 0 {
		return DefaultTolerance
	}
	return a.Tolerance
}

// Fit performs least-squares regression of the samples against each
// candidate growth model on the appropriately transformed input size.
// Requires at least three samples over at least two distinct sizes.
func (a Analyzer) Fit(set spec.SampleSet) (Fit, error) {
	if len(set.Samples) < 3 {
		return Fit{}, fmt.Errorf("sample set for %q: need at least 3 samples, have %d", set.TransitionID, len(set.Samples))
	}

	n := len(set.Samples)
	ys := make([]float64, n)
	sizes := make([]float64, n)
	distinct := make(map[int]bool, n)
	for i, s := range set.Samples {
		if s.Size <= 0 {
			return Fit{}, fmt.Errorf("sample set for %q: non-positive input size %d", set.TransitionID, s.Size)
		}
		ys[i] = float64(s.Duration)
		sizes[i] = float64(s.Size)
		distinct[s.Size] = true
	}
	if len(distinct) < 2 {
		return Fit{}, fmt.Errorf("sample set for %q: need at least 2 distinct sizes", set.TransitionID)
	}

	mean := 0.0
	for _, y := range ys {
		mean += y
	}
	mean /= float64(n)

	ssTot := 0.0
	for _, y := range ys {
		ssTot += (y - mean) * (y - mean)
	}

	fit := Fit{Scores: make(map[spec.ComplexityClass]float64, len(spec.ComplexityClasses))}

	// Flat data is O(1) by definition; every growth model would fit a
	// horizontal line equally well, so short-circuit before dividing by
	// a vanishing total sum of squares.
	if ssTot <= 1e-9*mean*mean*float64(n) {
		for _, c := range spec.ComplexityClasses {
			fit.Scores[c] = 0
		}
		fit.Scores[spec.O1] = 1
		fit.Best = spec.O1
		return fit, nil
	}

	fit.Best = spec.O1
	best := 0.0
	fit.Scores[spec.O1] = 0 // the constant model is the R² baseline

	for _, class := range spec.ComplexityClasses[1:] {
		xs := transform(class, sizes)
		score := rSquared(xs, ys, mean, ssTot)
		fit.Scores[class] = score
		if score > best {
			best = score
			fit.Best = class
		}
	}

	return fit, nil
}

// Check fits the samples and compares the best-fitting class against
// the declared one. Fit quality is compared on the relative RMS error
// sqrt(1-R²), the share of the data's spread a model leaves
// unexplained. A declared model within tolerance of the best model on
// that metric still matches.
func (a Analyzer) Check(set spec.SampleSet, declared spec.ComplexityClass) (*Result, error) {
	if !declared.Valid() {
		return nil, fmt.Errorf("declared complexity %q is not a known class", declared)
	}

	fit, err := a.Fit(set)
	if err != nil {
		return nil, err
	}

	result := &Result{Declared: declared, Observed: fit.Best}
	if fit.Best == declared {
		result.Matches = true
		return result, nil
	}

	result.Gap = relError(fit.Scores[declared]) - relError(fit.Scores[fit.Best])
	result.Matches = result.Gap <= a.tolerance()
	return result, nil
}

// relError converts a coefficient of determination into the relative
// RMS error of the fit, the residual standard deviation as a fraction
// of the data's standard deviation.
func relError(score float64) float64 {
	if score >= 1 {
		return 0
	}
	return math.Sqrt(1 - score)
}

// transform maps input sizes through the growth model so the fit
// reduces to simple linear regression.
func transform(class spec.ComplexityClass, sizes []float64) []float64 {
	out := make([]float64, len(sizes))
	for i, n := range sizes {
		switch class {
		case spec.OLogN:
			out[i] = math.Log2(n)
		case spec.ON:
			out[i] = n
		case spec.ONLogN:
			out[i] = n * math.Log2(n)
		case spec.ON2:
			out[i] = n * n
		default:
			out[i] = 0
		}
	}
	return out
}

// rSquared fits y = a + b·x by ordinary least squares and returns the
// coefficient of determination.
func rSquared(xs, ys []float64, yMean, ssTot float64) float64 {
	n := float64(len(xs))

	xMean := 0.0
	for _, x := range xs {
		xMean += x
	}
	xMean /= n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - xMean
		sxx += dx * dx
		sxy += dx * (ys[i] - yMean)
	}
	if sxx == 0 {
		// Transformed sizes are all identical; the model explains nothing.
		return 0
	}

	b := sxy / sxx
	a := yMean - b*xMean

	ssRes := 0.0
	for i := range xs {
		r := ys[i] - (a + b*xs[i])
		ssRes += r * r
	}

	return 1 - ssRes/ssTot
}
