package engine

import "github.com/pv/wtp-simulator/pkg/config"

// StateMachine evaluates the plant's six-state transition table each
// tick, first-match-wins, and derives the discrete inputs and
// reservoir level from the current state (spec §4.5). Grounded on the
// teacher's internal/replay/control.go command-to-state dispatch
// (a small ordered if/else ladder over a previous state), generalized
// to the plant's own states and guard conditions.
type StateMachine struct {
	cfg      *config.Config
	status   PlantStatus
	levelPct float64
}

// NewStateMachine starts the plant Offline with a full reservoir.
func NewStateMachine(cfg *config.Config) *StateMachine {
	return &StateMachine{
		cfg:      cfg,
		status:   PlantStatus{State: Offline},
		levelPct: 100,
	}
}

// Status returns the machine's current persistent bookkeeping.
func (m *StateMachine) Status() PlantStatus { return m.status }

// Tick evaluates the transition table against the latest process
// snapshot and coil set, updates internal bookkeeping, and returns the
// resulting discrete inputs. The caller also receives the new state,
// from which it derives Running/Backwash, since the Process Model's filtration step
// needs that for its own tick (no back-reference; the orchestrator
// threads the previous tick's decision forward).
func (m *StateMachine) Tick(ctx TickContext, snap ProcessSnapshot, pm *ProcessModel) (DiscreteSet, PlantState) {
	prev := m.status.State
	turbRaw := snap.Get(ChanTurbRaw)
	filterDP := snap.Get(ChanFilterDP)

	next := m.nextState(ctx, turbRaw, filterDP, prev)

	if next != prev {
		if prev == Backwash && next == Running {
			pm.NoteBackwashCompleted()
		}
		m.status.State = next
		m.status.EnteredAtSim = ctx.SimNow
	}

	switch next {
	case Running:
		m.status.RuntimeAccum += ctx.DeltaSim
		inflow := snap.Get(ChanFlowRaw)
		demand := snap.Get(ChanFlowTreated)
		// (L/s) / (reservoir volume in L) * 100 = %/s
		pctPerSec := (inflow - demand) / (m.cfg.Plant.ReservoirVolumeM3 * 10)
		m.levelPct += pctPerSec * ctx.DeltaSim
	case Backwash:
		// level holds steady during a backwash cycle
	default:
		drainPerSec := m.cfg.Plant.LevelDrainPctPerHr / 3600
		m.levelPct -= drainPerSec * ctx.DeltaSim
	}
	m.levelPct = clamp(m.levelPct, 0, 100)

	var d DiscreteSet
	d.Set(DIPumpRunning, next == Running || next == Backwash)
	d.Set(DIValveOpen, ctx.Coils.Get(CoilIntake) && (next == Running || next == Starting))
	d.Set(DIBackwashActive, next == Backwash)
	d.Set(DIIntakeOpen, ctx.Coils.Get(CoilIntake))
	d.Set(DIAlumFeeding, ctx.Coils.Get(CoilAlum) && next == Running)
	d.Set(DIChlorineFeeding, ctx.Coils.Get(CoilChlorine) && next == Running)
	d.Set(DIEStopActive, ctx.Coils.Get(CoilEStop))
	d.Set(DIFaultActive, next == Fault)
	d.Set(DIAckPending, next == Shutdown && !ctx.Coils.Get(CoilAck))
	d.Set(DITurbShutdownLatched, next == Shutdown && turbRaw > m.cfg.Plant.TurbShutdownNTU)

	return d, next
}

// LevelPct returns the reservoir level, integrated by the state
// machine per spec §4.5 (the Process Model has no back-reference into
// plant state, so level lives here rather than in ProcessSnapshot's
// source computation).
func (m *StateMachine) LevelPct() float64 { return m.levelPct }

func (m *StateMachine) nextState(ctx TickContext, turbRaw, filterDP float64, prev PlantState) PlantState {
	coils := ctx.Coils
	plant := m.cfg.Plant

	if coils.Get(CoilEStop) {
		return Fault
	}
	if prev == Fault {
		// stays in Fault until estop cleared, then falls through to Offline
		return Offline
	}

	if turbRaw > plant.TurbShutdownNTU {
		return Shutdown
	}

	switch prev {
	case Offline:
		if coils.Get(CoilAuto) && coils.Get(CoilIntake) && turbRaw <= plant.TurbShutdownNTU {
			return Starting
		}
		return Offline

	case Starting:
		if ctx.SimNow-m.status.EnteredAtSim >= plant.StartingDurationSec {
			return Running
		}
		return Starting

	case Running:
		if coils.Get(CoilBackwash) || filterDP >= plant.FilterDPTripKPa {
			return Backwash
		}
		return Running

	case Backwash:
		if ctx.SimNow-m.status.EnteredAtSim >= plant.BackwashDurationSec {
			return Running
		}
		return Backwash

	case Shutdown:
		if turbRaw < plant.TurbRestartNTU && !coils.Get(CoilIntake) {
			return Offline
		}
		return Shutdown
	}
	return prev
}

// DiscreteSet is the mapping from discrete-input id to boolean,
// mirroring CoilSet but for the read-only side of §4.7.
type DiscreteSet struct {
	Values [discreteCount]bool
}

func (d DiscreteSet) Get(id DiscreteID) bool     { return d.Values[id] }
func (d *DiscreteSet) Set(id DiscreteID, v bool) { d.Values[id] = v }
