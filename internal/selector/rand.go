package selector

import (
	"hash/fnv"
	"time"
)

// Rand is a linear congruential generator used for every pseudo-random
// choice in the selection path. Seeding it from a string makes a whole
// selection walk reproducible, which is what matters here; it is not
// for cryptographic use.
type Rand struct {
	state uint32
}

// NewRand seeds the generator from the FNV-1a hash of seed.
func NewRand(seed string) *Rand {
	h := fnv.New32a()
	h.Write([]byte(seed))
	return &Rand{state: h.Sum32()}
}

// NewTimeRand seeds the generator from the current time, for callers
// that did not supply a deterministic seed.
func NewTimeRand() *Rand {
	return &Rand{state: uint32(time.Now().UnixNano())}
}

// Next advances the generator. Numerical Recipes constants.
func (r *Rand) Next() uint32 {
	r.state = r.state*1664525 + 1013904223
	return r.state
}

// Intn returns a value in [0, n). n must be positive.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Next() % uint32(n))
}

// Shuffle permutes n elements via the swap callback (Fisher-Yates).
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		swap(i, j)
	}
}
