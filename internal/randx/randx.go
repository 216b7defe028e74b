// Package randx supplies the small amount of randomness the engine needs:
// initial sequence numbers for synthesised TCP flows, plus a Jitter helper
// for randomising durations.
package randx

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Uint32 returns a pseudo-random 32-bit value, suitable as a local ISN.
func Uint32() uint32 {
	mu.Lock()
	v := rng.Uint32()
	mu.Unlock()
	return v
}

// Int63n returns a pseudo-random number in [0, n).
func Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	mu.Lock()
	v := rng.Int63n(n)
	mu.Unlock()
	return v
}

// Jitter nudges d by a uniformly random amount in [-jitter, +jitter].
func Jitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	j := time.Duration(Int63n(int64(2*jitter)+1) - int64(jitter))
	if d+j < 0 {
		return d
	}
	return d + j
}
