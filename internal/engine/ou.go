package engine

import (
	"math"
	"math/rand"

	"github.com/go-faster/city"

	"github.com/pv/wtp-simulator/pkg/config"
)

// OUChannel implements the Euler-Maruyama update for a mean-reverting
// Ornstein-Uhlenbeck process (spec §3/§4.2). Grounded on the general
// "small mutable struct advanced once per tick" shape of the teacher's
// internal/replay/replay.go:sensorState; the stochastic step itself is
// new, since the teacher's state is a passive last-value cache.
type OUChannel struct {
	params config.ChannelParams
	value  float64
	rng    *rand.Rand
}

// NewOUChannel seeds a channel deterministically from (seed, channelID),
// reusing the teacher's CityHash64 choice (pkg/config/sensor_key.go)
// for turning a name into a numeric seed component.
func NewOUChannel(params config.ChannelParams, seed int64, channelID string) *OUChannel {
	mixedSeed := seed ^ int64(city.Hash64([]byte(channelID)))
	return &OUChannel{
		params: params,
		value:  params.Mean,
		rng:    rand.New(rand.NewSource(mixedSeed)),
	}
}

// Step advances the channel by dt seconds and returns the new value.
// Large dt (after a pause or speed change) is subdivided into
// substeps of at most 1/(10*theta) to preserve distributional
// correctness, per spec §4.2.
func (c *OUChannel) Step(dt float64) float64 {
	if dt <= 0 {
		return c.value
	}
	maxSubstep := math.Inf(1)
	if c.params.Theta > 0 {
		maxSubstep = 1 / (10 * c.params.Theta)
	}
	if dt <= maxSubstep {
		c.stepOnce(dt)
		return c.value
	}

	remaining := dt
	steps := 0
	for remaining > 0 {
		step := math.Min(maxSubstep, remaining)
		c.stepOnce(step)
		remaining -= step
		steps++
	}
	logDebugf("ou: subdivided dt=%.3fs into %d substeps (theta=%.4f)", dt, steps, c.params.Theta)
	return c.value
}

func (c *OUChannel) stepOnce(dt float64) {
	drift := c.params.Theta * (c.params.Mean - c.value) * dt
	diffusion := c.params.Sigma * math.Sqrt(dt) * c.rng.NormFloat64()
	next := c.value + drift + diffusion
	clamped := clamp(next, c.params.ClampLo, c.params.ClampHi)
	if clamped != next {
		logDebugf("ou: clamp saturated value=%.4f range=[%.4f,%.4f]", next, c.params.ClampLo, c.params.ClampHi)
	}
	c.value = clamped
}

// Value returns the channel's current value without advancing it.
func (c *OUChannel) Value() float64 { return c.value }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
