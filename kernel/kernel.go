// Package kernel holds the local half of the sampling-reduction kernel:
// partitioning, per-rank seeding and sequential accumulation.
package kernel

import (
	"math/rand"

	"mc-integrate/integrand"
)

// SeedOffset is added to a worker's rank to form its generator seed.
const SeedOffset = 12345

// Partial is one worker's contribution before the reduction.
type Partial struct {
	Owner    int     `json:"owner"`
	Samples  int64   `json:"samples"`
	LocalSum float64 `json:"local_sum"`
}

// LocalCount is the number of samples every worker draws. The remainder
// n mod size is dropped.
func LocalCount(n int64, size int) int64 {
	if size <= 0 {
		return 0
	}
	return n / int64(size)
}

// Seed returns the fixed seed for the given rank.
func Seed(rank int) int64 {
	return int64(rank) + SeedOffset
}

// NewSource returns a generator owned by a single worker.
func NewSource(rank int) *rand.Rand {
	return rand.New(rand.NewSource(Seed(rank)))
}

// PartialSum draws count values uniformly from [0,1) and sums f over them.
func PartialSum(f integrand.Func, count int64, rng *rand.Rand) float64 {
	sum := 0.0
	for i := int64(0); i < count; i++ {
		sum += f(rng.Float64())
	}
	return sum
}

// Local runs the per-worker procedure for rank out of size workers.
func Local(sel integrand.Selector, n int64, rank, size int) Partial {
	count := LocalCount(n, size)
	return Partial{
		Owner:    rank,
		Samples:  count,
		LocalSum: PartialSum(sel.Func(), count, NewSource(rank)),
	}
}

// Estimate divides the global sum by the requested sample count n, not by
// the number of samples actually drawn.
func Estimate(globalSum float64, n int64) float64 {
	return globalSum / float64(n)
}

// Integrate is the single-process path: one stream, n samples, no reduction.
func Integrate(sel integrand.Selector, n int64) float64 {
	p := Local(sel, n, 0, 1)
	return Estimate(p.LocalSum, n)
}
