package spec

import "time"

// Sample is one (input size, measured duration) observation.
type Sample struct {
	Size     int
	Duration time.Duration
}

// SampleSet is the ordered timing record for one transition, collected
// across a declared list of input sizes. Never mutated after
// collection; consumed only by the complexity analyzer.
type SampleSet struct {
	TransitionID string
	Samples      []Sample
}

// Sizes returns the input sizes in collection order.
func (s SampleSet) Sizes() []int {
	out := make([]int, len(s.Samples))
	for i, sm := range s.Samples {
		out[i] = sm.Size
	}
	return out
}
