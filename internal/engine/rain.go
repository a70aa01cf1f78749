package engine

import (
	"math"
	"math/rand"

	"github.com/pv/wtp-simulator/pkg/config"
)

// rainEvent is a single disturbance active over a simulated time
// window (spec §3). Multiple events may overlap; RainSource sums
// turbidity contributions and takes the max-magnitude contribution for
// pH, flow and temperature.
type rainEvent struct {
	startSim      float64
	duration      float64
	peakNTU       float64
	phDrop        float64
	flowBoostFrac float64
	tempDrop      float64
}

func (e rainEvent) active(simNow float64) bool {
	return simNow >= e.startSim && simNow < e.startSim+e.duration
}

// shapeFrac returns the 0..1 envelope shape at simNow: a linear ramp
// over the first 10% of duration, then exponential decay with
// time-constant 0.35*duration, per spec §4.3.
func (e rainEvent) shapeFrac(simNow float64) float64 {
	elapsed := simNow - e.startSim
	rampEnd := 0.1 * e.duration
	if elapsed <= rampEnd {
		if rampEnd <= 0 {
			return 1
		}
		return elapsed / rampEnd
	}
	tau := 0.35 * e.duration
	if tau <= 0 {
		return 0
	}
	return math.Exp(-(elapsed - rampEnd) / tau)
}

// RainSource schedules rain events via a Poisson process and exposes
// their summed/peak contributions per tick. Grounded on the teacher's
// internal/replay/replay.go event-window bookkeeping (tracking a
// handful of active time-bounded records), generalized with the
// specific envelope shape and disposal rule spec.md §4.3 requires.
type RainSource struct {
	params     config.RainParams
	rng        *rand.Rand
	events     []rainEvent
	nextArrive float64
	autoEvents bool
}

// NewRainSource seeds the Poisson arrival process from simStart.
func NewRainSource(params config.RainParams, seed int64, simStart float64, autoEvents bool) *RainSource {
	r := &RainSource{
		params:     params,
		rng:        rand.New(rand.NewSource(seed)),
		autoEvents: autoEvents,
	}
	r.nextArrive = simStart + r.drawInterArrival()
	return r
}

func (r *RainSource) drawInterArrival() float64 {
	minS := r.params.MinIntervalHours * 3600
	maxS := r.params.MaxIntervalHours * 3600
	mean := (minS + maxS) / 2
	if mean <= 0 {
		mean = minS
	}
	// exponential inter-arrival with the configured mean, per the Poisson
	// scheduling spec.md §4.3 names.
	return -mean * math.Log(1-r.rng.Float64())
}

func (r *RainSource) newEventDefault(simNow float64) rainEvent {
	peak := r.params.MinPeakNTU + r.rng.Float64()*(r.params.MaxPeakNTU-r.params.MinPeakNTU)
	duration := (r.params.MinDurationHours + r.rng.Float64()*(r.params.MaxDurationHours-r.params.MinDurationHours)) * 3600
	return r.shapeEvent(simNow, peak, duration)
}

func (r *RainSource) shapeEvent(simNow, peak, duration float64) rainEvent {
	phDrop := (0.2 + r.rng.Float64()*0.6) * (peak / 800)
	flowBoost := 0.10 + r.rng.Float64()*0.10
	tempDrop := 1 + r.rng.Float64()*1
	return rainEvent{
		startSim:      simNow,
		duration:      duration,
		peakNTU:       peak,
		phDrop:        phDrop,
		flowBoostFrac: flowBoost,
		tempDrop:      tempDrop,
	}
}

// Inject synthesises an event with default shape at simNow, scaled to
// the requested peak_ntu; used by the Command Intake's "rain" command.
func (r *RainSource) Inject(simNow, peakNTU float64) {
	duration := (r.params.MinDurationHours + r.rng.Float64()*(r.params.MaxDurationHours-r.params.MinDurationHours)) * 3600
	r.events = append(r.events, r.shapeEvent(simNow, peakNTU, duration))
}

// Tick advances the Poisson scheduler, spawning new events when
// auto_events is enabled and the arrival clock elapses, and prunes
// expired events.
func (r *RainSource) Tick(simNow float64) {
	if r.autoEvents {
		for simNow >= r.nextArrive {
			r.events = append(r.events, r.newEventDefault(r.nextArrive))
			r.nextArrive += r.drawInterArrival()
		}
	}
	live := r.events[:0]
	for _, e := range r.events {
		if e.active(simNow) {
			live = append(live, e)
		}
	}
	r.events = live
}

// RainContribution is the combined effect of all active events at a
// given simulated instant.
type RainContribution struct {
	DeltaTurb     float64
	DeltaPH       float64
	DeltaFlowFrac float64
	DeltaTemp     float64
}

// ActiveContributions sums turbidity contributions and takes the
// max-magnitude contribution for pH, flow and temperature, per spec §3.
func (r *RainSource) ActiveContributions(simNow float64) RainContribution {
	var out RainContribution
	for _, e := range r.events {
		if !e.active(simNow) {
			continue
		}
		frac := e.shapeFrac(simNow)
		out.DeltaTurb += e.peakNTU * frac

		if ph := e.phDrop * frac; ph > out.DeltaPH {
			out.DeltaPH = ph
		}
		if flow := e.flowBoostFrac * frac; flow > out.DeltaFlowFrac {
			out.DeltaFlowFrac = flow
		}
		if temp := e.tempDrop * frac; temp > out.DeltaTemp {
			out.DeltaTemp = temp
		}
	}
	return out
}

// Raining reports whether any event is currently contributing
// turbidity, used by the Process Model to accelerate chlorine decay.
func (r *RainSource) Raining(simNow float64) bool {
	for _, e := range r.events {
		if e.active(simNow) {
			return true
		}
	}
	return false
}
