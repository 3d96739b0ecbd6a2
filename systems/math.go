package systems

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"
)

// unit returns v scaled to length 1, or the zero vector when v has no length.
func unit(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n == 0 {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}

// withLength returns v rescaled to length l. A zero vector stays zero.
func withLength(v r2.Vec, l float64) r2.Vec {
	return r2.Scale(l, unit(v))
}

// clampLength clamps the magnitude of v into [lo, hi]. A zero vector is left alone.
func clampLength(v r2.Vec, lo, hi float64) r2.Vec {
	n := r2.Norm(v)
	switch {
	case n == 0:
		return v
	case n > hi:
		return r2.Scale(hi/n, v)
	case n < lo:
		return r2.Scale(lo/n, v)
	}
	return v
}

// rotate turns v by angle radians around the origin.
func rotate(v r2.Vec, angle float64) r2.Vec {
	return r2.Rotate(v, angle, r2.Vec{})
}

// randomHeading returns a uniformly random direction with the given length.
func randomHeading(rng *rand.Rand, length float64) r2.Vec {
	theta := rng.Float64() * 2 * math.Pi
	return r2.Vec{X: math.Cos(theta) * length, Y: math.Sin(theta) * length}
}

// uniform draws from U(lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// bernoulli returns true with probability p.
func bernoulli(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}
