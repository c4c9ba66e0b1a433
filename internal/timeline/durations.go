package timeline

import (
	"math"
	"math/rand"

	"github.com/ivlev/reelforge/internal/errs"
)

// Variation bounds how much a clip's length may differ from its predecessor.
const Variation = 0.15

// DistributeDurations splits a target canvas length across n clips so that
// Σd − (n−1)τ == total. The first clip deviates from the even share by at most
// ±Variation, each later clip from the previous one by the same amount, and
// no clip is shorter than 1.1τ before the final rescale.
func DistributeDurations(total float64, n int, tau float64, rng *rand.Rand) ([]float64, error) {
	if n <= 0 {
		return nil, errs.Configf("clips", "empty layer list")
	}
	if math.IsNaN(total) || total <= 0 {
		return nil, errs.Configf("duration", "target must be positive, got %v", total)
	}
	if math.IsNaN(tau) || tau < 0 {
		return nil, errs.Configf("transition", "must be a non-negative duration, got %v", tau)
	}

	transitions := float64(n - 1)
	clipsTotal := total + transitions*tau
	base := clipsTotal / float64(n)
	if n > 1 && base <= tau {
		return nil, errs.Configf("transition", "%.3fs leaves no room for %d clips in %.3fs", tau, n, total)
	}

	durations := make([]float64, n)
	durations[0] = base * (1 + jitter(rng))
	for i := 1; i < n; i++ {
		durations[i] = durations[i-1] * (1 + jitter(rng))
		if durations[i] < tau*1.1 {
			durations[i] = tau * 1.1
		}
	}

	sum := 0.0
	for _, d := range durations {
		sum += d
	}
	scale := clipsTotal / sum
	for i := range durations {
		durations[i] *= scale
	}

	if n > 1 {
		shortest := math.Inf(1)
		for _, d := range durations {
			shortest = math.Min(shortest, d)
		}
		if tau >= shortest {
			return nil, errs.Configf("transition", "degenerate overlap: %.3fs is not shorter than the shortest distributed clip (%.3fs)", tau, shortest)
		}
	}
	return durations, nil
}

func jitter(rng *rand.Rand) float64 {
	return rng.Float64()*2*Variation - Variation
}
