package pipeline

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before retry attempt n (1-based): exponential
// from base, capped, with jitter in the upper half to de-synchronize lanes
// hammering a recovering sink.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if cap <= 0 {
		cap = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
