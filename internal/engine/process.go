package engine

import (
	"math"
	"math/rand"

	"github.com/pv/wtp-simulator/pkg/config"
)

// SensorFault is a Command Intake injection applied to one base
// channel: a forced stuck-at value, a hold-last override, or a
// bounded-duration noise burst (spec §4.4 step 8).
type SensorFault struct {
	Forced     bool
	ForcedVal  float64
	HoldLast   bool
	GlitchEnd  float64 // sim time at which a glitch burst stops; 0 = inactive
	GlitchAmpl float64
}

func (f SensorFault) glitching(simNow float64) bool {
	return f.GlitchEnd > 0 && simNow < f.GlitchEnd
}

// ProcessModel advances the correlated physical channels described in
// spec §4.4: three Ornstein-Uhlenbeck base sensors, a diurnal flow
// curve, rain-sourced disturbances, filtration, dosing, filter
// differential pressure, and the plant's running totals. Grounded on
// internal/replay/replay.go's per-tick sensorState advance loop,
// generalized from a single passive value into the full DAG of
// derived quantities spec.md names, per the no-back-references design
// note.
type ProcessModel struct {
	cfg *config.Config

	turbRaw     *OUChannel
	ph          *OUChannel
	temperature *OUChannel
	rain        *RainSource
	dose        *DoseGenerator

	lastHoldValue [channelCount]float64
	faults        map[Channel]*SensorFault
	glitchRng     *rand.Rand

	filterDP         float64
	totaliserML      float64
	runtimeHours     float64
	backwashCount    int64
	lastTurbFiltered float64
}

// NewProcessModel wires up the stochastic primitives from cfg, seeded
// deterministically from seed.
func NewProcessModel(cfg *config.Config, seed int64, simStart float64, autoRain bool) *ProcessModel {
	return &ProcessModel{
		cfg:         cfg,
		turbRaw:     NewOUChannel(cfg.Channels["turb_raw"], seed, "turb_raw"),
		ph:          NewOUChannel(cfg.Channels["ph"], seed, "ph"),
		temperature: NewOUChannel(cfg.Channels["temperature"], seed, "temperature"),
		rain:        NewRainSource(cfg.Rain, seed, simStart, autoRain),
		dose:        NewDoseGenerator(cfg.Dose, simStart),
		faults:      make(map[Channel]*SensorFault),
		glitchRng:   rand.New(rand.NewSource(seed ^ 0x676c697463683031)),
	}
}

// RainSource exposes the rain scheduler so the Command Intake can
// inject events and the orchestrator can report auto-scheduling state.
func (p *ProcessModel) RainSource() *RainSource { return p.rain }

// Fault forces a channel to a stuck value (or, if zero is passed with
// holdLast, to whatever value it last held).
func (p *ProcessModel) Fault(c Channel, forced bool, value float64, holdLast bool) {
	p.faults[c] = &SensorFault{Forced: forced, ForcedVal: value, HoldLast: holdLast}
}

// ClearFault removes any forced/hold-last override on a channel.
func (p *ProcessModel) ClearFault(c Channel) {
	delete(p.faults, c)
}

// Glitch applies a bounded noise burst across all base sensors for
// durationSim simulated seconds, per the "glitch" command in §4.9.
func (p *ProcessModel) Glitch(simNow, durationSim, amplitude float64) {
	for _, c := range []Channel{ChanTurbRaw, ChanPH, ChanTemperature, ChanFlowRaw} {
		f := p.faults[c]
		if f == nil {
			f = &SensorFault{}
			p.faults[c] = f
		}
		f.GlitchEnd = simNow + durationSim
		f.GlitchAmpl = amplitude
	}
}

// diurnalFlow computes the baseline demand curve (spec §4.4 step 2):
// an overnight floor plus two Gaussian bumps at the morning and
// afternoon peak hours.
func diurnalFlow(d config.DiurnalParams, simNow float64) float64 {
	hourOfDay := math.Mod(simNow/3600, 24)
	morning := gaussianBump(hourOfDay, d.MorningPeakHour, d.SigmaHours)
	afternoon := gaussianBump(hourOfDay, d.AfternoonPeakHour, d.SigmaHours)
	return d.BaseFlow + d.BumpAmplitude*(morning+afternoon)
}

func gaussianBump(hour, peakHour, sigmaHours float64) float64 {
	diff := hour - peakHour
	// wrap-around distance on a 24h clock
	if diff > 12 {
		diff -= 24
	} else if diff < -12 {
		diff += 24
	}
	return math.Exp(-(diff * diff) / (2 * sigmaHours * sigmaHours))
}

// Tick runs one Process Model step and returns the resulting snapshot,
// per the eight-step recipe in spec §4.4. running/backwashing reflect
// the plant state machine's previous-tick state, since the DAG has no
// back-reference into the state machine itself.
func (p *ProcessModel) Tick(ctx TickContext, running, backwashing bool) ProcessSnapshot {
	dt := ctx.DeltaSim
	simNow := ctx.SimNow

	p.rain.Tick(simNow)
	contrib := p.rain.ActiveContributions(simNow)
	raining := p.rain.Raining(simNow)

	turbRaw := p.turbRaw.Step(dt) + contrib.DeltaTurb
	ph := p.ph.Step(dt) - contrib.DeltaPH
	temperature := p.temperature.Step(dt) - contrib.DeltaTemp

	flowRaw := diurnalFlow(p.cfg.Diurnal, simNow) * (1 + contrib.DeltaFlowFrac)

	turbRaw = p.applyFault(ChanTurbRaw, turbRaw, simNow)
	ph = p.applyFault(ChanPH, ph, simNow)
	temperature = p.applyFault(ChanTemperature, temperature, simNow)
	flowRaw = p.applyFault(ChanFlowRaw, flowRaw, simNow)

	var turbFiltered float64
	if running || backwashing {
		turbFiltered = math.Max(0.02, turbRaw*0.02)
	} else {
		// no treatment: drift toward raw turbidity at a modest rate
		turbFiltered = p.driftTowardRaw(turbRaw, dt)
	}
	p.lastTurbFiltered = turbFiltered

	doseEnabled := ctx.Coils.Get(CoilChlorine)
	var chlorine float64
	if doseEnabled {
		chlorine = p.dose.Step(simNow, dt, raining)
	} else {
		chlorine = p.dose.decayOnly(dt, raining)
	}
	chlorine = p.applyFault(ChanChlorine, chlorine, simNow)

	flowTreated := flowRaw
	if !running {
		flowTreated = 0
	}

	if running {
		p.filterDP += p.cfg.Plant.FilterDPGainK * flowRaw * turbRaw * dt
	}
	if backwashing {
		p.filterDP = p.cfg.Plant.FilterDPBackwashLow
	}

	if running {
		p.totaliserML += flowTreated * dt / 1e6 // L -> ML
		p.runtimeHours += dt / 3600
	}

	var snap ProcessSnapshot
	snap.Set(ChanTurbRaw, turbRaw)
	snap.Set(ChanTurbFiltered, turbFiltered)
	snap.Set(ChanPH, ph)
	snap.Set(ChanChlorine, chlorine)
	snap.Set(ChanFlowRaw, flowRaw)
	snap.Set(ChanFlowTreated, flowTreated)
	snap.Set(ChanTemperature, temperature)
	snap.Set(ChanAlumDose, p.alumDose(ctx))
	snap.Set(ChanFilterDP, p.filterDP)
	snap.Set(ChanDamRelease, 0)
	snap.Set(ChanBackwashCount, float64(p.backwashCount))
	snap.Set(ChanTotaliserML, p.totaliserML)
	snap.Set(ChanRuntimeHours, p.runtimeHours)
	return snap
}

// NoteBackwashCompleted increments the backwash counter and resets
// filter_dp; called by the state machine on Backwash -> Running.
func (p *ProcessModel) NoteBackwashCompleted() {
	p.backwashCount++
	p.filterDP = p.cfg.Plant.FilterDPBackwashLow
}

func (p *ProcessModel) alumDose(ctx TickContext) float64 {
	if ctx.Coils.Get(CoilAlum) {
		return p.cfg.Dose.Peak * 0.6
	}
	return 0
}

// driftTowardRaw relaxes the last filtered reading toward raw
// turbidity at a modest rate, modelling a filter bed with no active
// backwash/run cycle passing water through unchanged over time.
func (p *ProcessModel) driftTowardRaw(turbRaw, dt float64) float64 {
	const rate = 0.05
	decay := math.Exp(-rate * dt)
	return turbRaw + (p.lastTurbFiltered-turbRaw)*decay
}

// applyFault overrides value per any SensorFault registered on c: a
// forced stuck-at value, a hold-last override, or (while glitching) a
// large noise burst added on top of the underlying process value.
func (p *ProcessModel) applyFault(c Channel, value, simNow float64) float64 {
	f, ok := p.faults[c]
	if !ok {
		p.lastHoldValue[c] = value
		return value
	}
	if f.Forced {
		return f.ForcedVal
	}
	if f.HoldLast {
		return p.lastHoldValue[c]
	}
	if f.glitching(simNow) {
		burst := value + f.GlitchAmpl*(2*p.glitchRng.Float64()-1)
		p.lastHoldValue[c] = value
		return burst
	}
	p.lastHoldValue[c] = value
	return value
}
