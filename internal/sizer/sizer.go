// Package sizer implements the adaptive chunk-sizing heuristic: expand on
// empty ranges, collapse on hits. It reacts to nothing but hit count —
// latency and errors are LogFetcher's axis, not this one.
package sizer

// Sizer holds the [Min, Max] clamp for next chunk widths.
type Sizer struct {
	Min uint64
	Max uint64
}

// New builds a Sizer, defaulting Min to 10 and Max to 1000 when left zero,
// matching the mainnet-suggested defaults.
func New(min, max uint64) Sizer {
	if min == 0 {
		min = 10
	}
	if max == 0 {
		max = 1000
	}
	return Sizer{Min: min, Max: max}
}

// Next computes the width of the following chunk: a collapse to Min if the
// previous chunk hit anything (dense region, keep batches small), otherwise
// a doubling, always clamped to [Min, Max].
func (s Sizer) Next(current uint64, hitCount int) uint64 {
	var next uint64
	if hitCount > 0 {
		next = s.Min
	} else {
		next = current * 2
	}
	if next < s.Min {
		next = s.Min
	}
	if next > s.Max {
		next = s.Max
	}
	return next
}
