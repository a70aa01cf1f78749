package engine

import (
	"math"

	"github.com/pv/wtp-simulator/pkg/config"
)

// DoseGenerator produces the free-chlorine sawtooth: a snap back to
// peak every period, decaying exponentially in between, with decay
// accelerated while rain is diluting the reservoir (spec §3/step 5 of
// §4.4). Grounded on the same stepped-struct shape as OUChannel; this
// generator has no stochastic term, only deterministic timers.
type DoseGenerator struct {
	params      config.DoseParams
	value       float64
	nextSnapSim float64
}

// NewDoseGenerator starts the sawtooth at its peak, with the first
// snap scheduled one full period after simStart.
func NewDoseGenerator(params config.DoseParams, simStart float64) *DoseGenerator {
	return &DoseGenerator{
		params:      params,
		value:       params.Peak,
		nextSnapSim: simStart + params.Period,
	}
}

// Step advances the generator to simNow and returns the current
// chlorine concentration in mg/L. raining accelerates the decay rate
// by RainDecayFactor, modelling dilution/consumption during a storm.
func (d *DoseGenerator) Step(simNow, dt float64, raining bool) float64 {
	if dt <= 0 {
		return d.value
	}
	rate := d.params.DecayRate
	if raining {
		rate *= d.params.RainDecayFactor
	}
	d.value *= math.Exp(-rate * dt)

	for simNow >= d.nextSnapSim {
		d.value = d.params.Peak
		d.nextSnapSim += d.params.Period
	}
	return d.value
}

// Value returns the current chlorine concentration without advancing.
func (d *DoseGenerator) Value() float64 { return d.value }

// decayOnly applies the exponential decay term without ever snapping
// back to peak, used while the dose-enable coil is off (spec §4.4
// step 5: "if dose-enabled coil is off, no pulses occur and existing
// residual decays").
func (d *DoseGenerator) decayOnly(dt float64, raining bool) float64 {
	if dt <= 0 {
		return d.value
	}
	rate := d.params.DecayRate
	if raining {
		rate *= d.params.RainDecayFactor
	}
	d.value *= math.Exp(-rate * dt)
	return d.value
}
