package engine

import (
	"testing"
	"time"

	"github.com/pv/wtp-simulator/pkg/config"
)

func testTickCtx(simNow, dt float64, coils CoilSet) TickContext {
	return TickContext{SimNow: simNow, DeltaSim: dt, WallNow: time.Unix(0, 0), Coils: coils}
}

func TestProcessModelFiltersTurbidityWhileRunning(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)

	var coils CoilSet
	snap := pm.Tick(testTickCtx(0, 1, coils), true, false)

	raw := snap.Get(ChanTurbRaw)
	filt := snap.Get(ChanTurbFiltered)
	if filt > raw*0.02+1e-9 && filt != 0.02 {
		t.Fatalf("expected filtered turbidity near 2%% of raw or floor, raw=%v filt=%v", raw, filt)
	}
}

func TestProcessModelNoTreatmentWhenOffline(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)
	var coils CoilSet

	for i := 0; i < 5; i++ {
		pm.Tick(testTickCtx(float64(i), 1, coils), false, false)
	}
	snap := pm.Tick(testTickCtx(5, 1, coils), false, false)
	if snap.Get(ChanFlowTreated) != 0 {
		t.Fatalf("expected zero treated flow while not running, got %v", snap.Get(ChanFlowTreated))
	}
}

func TestProcessModelTotaliserAccumulatesWhileRunning(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)
	var coils CoilSet

	var last float64
	for i := 0; i < 10; i++ {
		snap := pm.Tick(testTickCtx(float64(i), 1, coils), true, false)
		if snap.Get(ChanTotaliserML) < last {
			t.Fatalf("totaliser should be non-decreasing while running")
		}
		last = snap.Get(ChanTotaliserML)
	}
	if last <= 0 {
		t.Fatalf("expected totaliser to accumulate, got %v", last)
	}
}

func TestProcessModelForcedFaultSticksValue(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)
	pm.Fault(ChanTurbRaw, true, 999, false)

	var coils CoilSet
	snap := pm.Tick(testTickCtx(0, 1, coils), true, false)
	if snap.Get(ChanTurbRaw) != 999 {
		t.Fatalf("expected forced turbidity value 999, got %v", snap.Get(ChanTurbRaw))
	}

	pm.ClearFault(ChanTurbRaw)
	snap2 := pm.Tick(testTickCtx(1, 1, coils), true, false)
	if snap2.Get(ChanTurbRaw) == 999 {
		t.Fatalf("expected fault clear to release forced value")
	}
}

func TestProcessModelGlitchAddsNoiseThenExpires(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)
	ref := NewProcessModel(cfg, 1, 0, false) // same seed, never glitched
	var coils CoilSet

	pm.Glitch(0, 30, 1000)
	glitchSnap := pm.Tick(testTickCtx(0, 1, coils), true, false)
	refGlitch := ref.Tick(testTickCtx(0, 1, coils), true, false)
	if glitchSnap.Get(ChanTurbRaw) == refGlitch.Get(ChanTurbRaw) {
		t.Fatalf("expected glitch burst to perturb turbidity, got %v", glitchSnap.Get(ChanTurbRaw))
	}

	// sim time 40 is past the 30s burst window
	afterSnap := pm.Tick(testTickCtx(40, 1, coils), true, false)
	refAfter := ref.Tick(testTickCtx(40, 1, coils), true, false)
	if afterSnap.Get(ChanTurbRaw) != refAfter.Get(ChanTurbRaw) {
		t.Fatalf("expected glitch to expire: got %v, unglitched %v", afterSnap.Get(ChanTurbRaw), refAfter.Get(ChanTurbRaw))
	}
}

func TestProcessModelDoseDisabledDecaysOnly(t *testing.T) {
	cfg := config.Default()
	pm := NewProcessModel(cfg, 1, 0, false)

	var coilsOn CoilSet
	coilsOn.Set(CoilChlorine, true)
	snapOn := pm.Tick(testTickCtx(0, 100, coilsOn), true, false)

	pm2 := NewProcessModel(cfg, 1, 0, false)
	var coilsOff CoilSet
	snapOff := pm2.Tick(testTickCtx(0, 100, coilsOff), true, false)

	if snapOff.Get(ChanChlorine) >= cfg.Dose.Peak {
		t.Fatalf("expected decay even with dosing disabled, got %v", snapOff.Get(ChanChlorine))
	}
	_ = snapOn
}
