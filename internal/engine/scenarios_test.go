package engine

import (
	"testing"
	"time"

	"github.com/pv/wtp-simulator/pkg/config"
)

// These tests exercise the end-to-end scenarios against the
// orchestrator directly (runTick called by hand instead of through a
// real time.Ticker), so each one advances many simulated seconds per
// call via a high speed factor rather than looping thousands of times.

func advanceTicks(o *Orchestrator, wall time.Time, n int, step time.Duration) time.Time {
	prev := o.sm.Status().State
	for i := 0; i < n; i++ {
		wall = wall.Add(step)
		o.runTick(wall, prev)
		prev = o.sm.Status().State
	}
	return wall
}

func TestScenarioColdStartAutoModeReachesRunning(t *testing.T) {
	cfg := config.Default()
	o := NewOrchestrator(cfg, 42, 60, false, time.Unix(0, 0))

	var coils CoilSet
	coils.Set(CoilAuto, true)
	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)

	wall := time.Unix(0, 0)
	wall = advanceTicks(o, wall, 1, time.Second)
	snap := o.bank.ReadSnapshot()
	if snap.Input[IRPlantStatus] != uint16(Starting) {
		t.Fatalf("expected Offline->Starting on first tick with auto+intake, got %v", PlantState(snap.Input[IRPlantStatus]))
	}

	// StartingDurationSec=60 at speed=60 means ~1 further wall-second tick
	// covers the dwell; give it a couple of ticks of margin.
	advanceTicks(o, wall, 3, time.Second)
	snap = o.bank.ReadSnapshot()
	if snap.Input[IRPlantStatus] != uint16(Running) {
		t.Fatalf("expected Starting->Running after dwell, got %v", PlantState(snap.Input[IRPlantStatus]))
	}
	if snap.Holding[HRLevelPct] == 0 {
		t.Fatalf("expected level_pct to be tracked once running")
	}
}

func TestScenarioTurbidityShutdownAndRecovery(t *testing.T) {
	cfg := config.Default()
	o := NewOrchestrator(cfg, 42, 60, false, time.Unix(0, 0))

	var coils CoilSet
	coils.Set(CoilAuto, true)
	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)

	wall := advanceTicks(o, time.Unix(0, 0), 4, time.Second)
	if PlantState(o.bank.ReadSnapshot().Input[IRPlantStatus]) != Running {
		t.Fatalf("expected Running before injecting rain")
	}

	o.pm.RainSource().Inject(o.clock.SimNow(), 700)

	// 40 ticks at speed=60 covers 2400 simulated seconds. Even at the
	// longest drawable event duration (8h, whose 10%-ramp window is
	// 2880s) the ramp reaches 700*2400/2880 ≈ 583 NTU by then, past the
	// 500 NTU trip.
	wall = advanceTicks(o, wall, 40, time.Second)
	snap := o.bank.ReadSnapshot()
	if PlantState(snap.Input[IRPlantStatus]) != Shutdown {
		t.Fatalf("expected Running->Shutdown once turbidity trips, got %v (turb_raw=%d)",
			PlantState(snap.Input[IRPlantStatus]), snap.Holding[HRTurbRaw])
	}

	// operator clears intake, waits for turbidity to fall, then re-asserts it
	coils = o.bank.Coils()
	coils.Set(CoilIntake, false)
	o.bank.SetCoils(coils)

	wall = advanceTicks(o, wall, 300, time.Second)
	snap = o.bank.ReadSnapshot()
	if DecodeFixedPoint(snap.Holding[HRTurbRaw], holdingScale[HRTurbRaw]) >= cfg.Plant.TurbRestartNTU {
		t.Skip("turbidity has not decayed below the restart threshold within this simulated window")
	}
	if PlantState(snap.Input[IRPlantStatus]) != Offline {
		t.Fatalf("expected Shutdown->Offline once turbidity clears and intake is de-asserted, got %v",
			PlantState(snap.Input[IRPlantStatus]))
	}

	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)
	advanceTicks(o, wall, 1, time.Second)
	if PlantState(o.bank.ReadSnapshot().Input[IRPlantStatus]) != Starting {
		t.Fatalf("expected Offline->Starting once intake is re-asserted")
	}
}

func TestScenarioBackwashTripAndReturn(t *testing.T) {
	cfg := config.Default()
	o := NewOrchestrator(cfg, 42, 60, false, time.Unix(0, 0))

	var coils CoilSet
	coils.Set(CoilAuto, true)
	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)

	wall := advanceTicks(o, time.Unix(0, 0), 4, time.Second)
	if PlantState(o.bank.ReadSnapshot().Input[IRPlantStatus]) != Running {
		t.Fatalf("expected Running before triggering backwash")
	}
	before := o.bank.ReadSnapshot().Holding[HRBackwashCount]

	coils = o.bank.Coils()
	coils.Set(CoilBackwash, true)
	o.bank.SetCoils(coils)

	wall = advanceTicks(o, wall, 1, time.Second)
	snap := o.bank.ReadSnapshot()
	if PlantState(snap.Input[IRPlantStatus]) != Backwash {
		t.Fatalf("expected Running->Backwash once commanded, got %v", PlantState(snap.Input[IRPlantStatus]))
	}

	coils = o.bank.Coils()
	coils.Set(CoilBackwash, false)
	o.bank.SetCoils(coils)

	// BackwashDurationSec=1200 at speed=60 needs ~20 further ticks to
	// clear the dwell.
	advanceTicks(o, wall, 22, time.Second)
	snap = o.bank.ReadSnapshot()
	if PlantState(snap.Input[IRPlantStatus]) != Running {
		t.Fatalf("expected Backwash->Running after the dwell, got %v", PlantState(snap.Input[IRPlantStatus]))
	}
	if snap.Holding[HRBackwashCount] != before+1 {
		t.Fatalf("expected backwash count to increment by 1, got %d -> %d", before, snap.Holding[HRBackwashCount])
	}
	if DecodeFixedPoint(snap.Holding[HRFilterDP], holdingScale[HRFilterDP]) > 20 {
		t.Fatalf("expected filter_dp reset to <=20kPa after backwash, got %v",
			DecodeFixedPoint(snap.Holding[HRFilterDP], holdingScale[HRFilterDP]))
	}
}

func TestScenarioDoseOffDecaysChlorine(t *testing.T) {
	cfg := config.Default()
	o := NewOrchestrator(cfg, 42, 60, false, time.Unix(0, 0))

	var coils CoilSet
	coils.Set(CoilAuto, true)
	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)

	if res := o.in.Dispatch(Command{Verb: "dose", Args: []string{"on"}}, o.clock.SimNow()); !res.OK {
		t.Fatalf("expected ok for dose on, got %+v", res)
	}

	wall := advanceTicks(o, time.Unix(0, 0), 4, time.Second)
	baseline := DecodeFixedPoint(o.bank.ReadSnapshot().Holding[HRChlorine], holdingScale[HRChlorine])

	// drive "dose off" through the documented command path rather than
	// poking the Chlorine coil directly.
	res := o.in.Dispatch(Command{Verb: "dose", Args: []string{"off"}}, o.clock.SimNow())
	if !res.OK {
		t.Fatalf("expected ok for dose off, got %+v", res)
	}
	if o.bank.Coils().Get(CoilChlorine) {
		t.Fatalf("expected dose off command to clear the Chlorine coil")
	}

	advanceTicks(o, wall, 6, time.Second)
	after := DecodeFixedPoint(o.bank.ReadSnapshot().Holding[HRChlorine], holdingScale[HRChlorine])
	if after >= baseline {
		t.Fatalf("expected chlorine to decay monotonically once dosing stops: before=%v after=%v", baseline, after)
	}
}

// TestScenarioDeterministicReplay covers spec scenario 6: two
// orchestrators built from the same seed, speed and command timeline
// must produce identical register traces tick for tick.
func TestScenarioDeterministicReplay(t *testing.T) {
	cfg := config.Default()
	const seed, speed = int64(42), 60.0

	run := func() []Snapshot {
		o := NewOrchestrator(cfg, seed, speed, false, time.Unix(0, 0))

		var coils CoilSet
		coils.Set(CoilAuto, true)
		coils.Set(CoilIntake, true)
		o.bank.SetCoils(coils)

		wall := time.Unix(0, 0)
		snaps := make([]Snapshot, 0, 600)
		prev := o.sm.Status().State
		for i := 0; i < 600; i++ {
			switch i {
			case 10:
				o.in.Dispatch(Command{Verb: "dose", Args: []string{"on"}}, o.clock.SimNow())
			case 50:
				o.in.Dispatch(Command{Verb: "rain", Args: []string{"400"}}, o.clock.SimNow())
			case 120:
				o.in.Dispatch(Command{Verb: "dose", Args: []string{"off"}}, o.clock.SimNow())
			case 200:
				o.in.Dispatch(Command{Verb: "fault", Args: []string{"turbidity"}}, o.clock.SimNow())
			case 260:
				o.in.Dispatch(Command{Verb: "clear", Args: []string{"turbidity"}}, o.clock.SimNow())
			}
			wall = wall.Add(time.Second)
			o.runTick(wall, prev)
			prev = o.sm.Status().State
			snaps = append(snaps, o.bank.ReadSnapshot())
		}
		return snaps
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("trace length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Holding != b[i].Holding || a[i].Input != b[i].Input ||
			a[i].Coils != b[i].Coils || a[i].Discs != b[i].Discs {
			t.Fatalf("tick %d diverged between identically-seeded runs:\n  a=%+v\n  b=%+v", i, a[i], b[i])
		}
	}
}

func TestScenarioEStopForcesFaultThenClears(t *testing.T) {
	cfg := config.Default()
	o := NewOrchestrator(cfg, 42, 60, false, time.Unix(0, 0))

	var coils CoilSet
	coils.Set(CoilAuto, true)
	coils.Set(CoilIntake, true)
	o.bank.SetCoils(coils)

	wall := advanceTicks(o, time.Unix(0, 0), 4, time.Second)
	if PlantState(o.bank.ReadSnapshot().Input[IRPlantStatus]) != Running {
		t.Fatalf("expected Running before E-Stop")
	}

	coils = o.bank.Coils()
	coils.Set(CoilEStop, true)
	o.bank.SetCoils(coils)

	wall = advanceTicks(o, wall, 1, time.Second)
	snap := o.bank.ReadSnapshot()
	if PlantState(snap.Input[IRPlantStatus]) != Fault {
		t.Fatalf("expected immediate transition to Fault on E-Stop, got %v", PlantState(snap.Input[IRPlantStatus]))
	}
	for _, id := range []DiscreteID{DIPumpRunning, DIValveOpen, DIBackwashActive} {
		if snap.Discs.Get(id) {
			t.Fatalf("expected discrete %d de-asserted while Fault", id)
		}
	}

	coils.Set(CoilEStop, false)
	o.bank.SetCoils(coils)
	advanceTicks(o, wall, 1, time.Second)
	if PlantState(o.bank.ReadSnapshot().Input[IRPlantStatus]) != Offline {
		t.Fatalf("expected Fault->Offline once E-Stop is released")
	}
}
