package aggregate

import (
	"math"
	"sort"
)

// percentile computes the nearest-rank percentile of samples. The slice is
// sorted in place. Returns nil for an empty sample set: no data is not the
// same as zero latency.
func percentile(samples []float64, p float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sort.Float64s(samples)
	rank := int(math.Ceil(float64(len(samples)) * p / 100.0))
	if rank < 1 {
		rank = 1
	}
	if rank > len(samples) {
		rank = len(samples)
	}
	v := samples[rank-1]
	return &v
}
