package engine

import "testing"

func TestEvaluateAlarmsTurbidityBitMatchesThreshold(t *testing.T) {
	var snap ProcessSnapshot
	snap.Set(ChanTurbRaw, 200.01)
	word := EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitTurbRawHigh) == 0 {
		t.Fatalf("expected turbidity bit set just above threshold")
	}

	snap.Set(ChanTurbRaw, 200)
	word = EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitTurbRawHigh) != 0 {
		t.Fatalf("expected turbidity bit clear at exactly threshold (strict >)")
	}
}

func TestEvaluateAlarmsNoLatching(t *testing.T) {
	var snap ProcessSnapshot
	snap.Set(ChanChlorine, 0.05)
	word := EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitChlorineLow) == 0 {
		t.Fatalf("expected chlorine-low bit set")
	}

	snap.Set(ChanChlorine, 1.0)
	word = EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitChlorineLow) != 0 {
		t.Fatalf("expected chlorine-low bit to clear immediately once condition resolves (no latching)")
	}
}

func TestEvaluateAlarmsPHHighAndLowMutuallyExclusive(t *testing.T) {
	var snap ProcessSnapshot
	snap.Set(ChanPH, 9.0)
	word := EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitPHHigh) == 0 || word&(1<<AlarmBitPHLow) != 0 {
		t.Fatalf("expected only pH-high bit set for pH=9.0")
	}

	snap.Set(ChanPH, 6.0)
	word = EvaluateAlarms(snap, Running, AlarmInputs{})
	if word&(1<<AlarmBitPHLow) == 0 || word&(1<<AlarmBitPHHigh) != 0 {
		t.Fatalf("expected only pH-low bit set for pH=6.0")
	}
}

func TestEvaluateAlarmsCommFaultBit(t *testing.T) {
	var snap ProcessSnapshot
	word := EvaluateAlarms(snap, Running, AlarmInputs{CommFault: true})
	if word&(1<<AlarmBitCommFault) == 0 {
		t.Fatalf("expected comm fault bit set")
	}
}

func TestEvaluateAlarmsValveFaultOnMismatch(t *testing.T) {
	var snap ProcessSnapshot
	var coils CoilSet
	coils.Set(CoilBackwash, true)
	var discretes DiscreteSet // backwash not active -> mismatch

	word := EvaluateAlarms(snap, Backwash, AlarmInputs{Coils: coils, Discretes: discretes})
	if word&(1<<AlarmBitValveFault) == 0 {
		t.Fatalf("expected valve fault bit set on commanded/actual mismatch")
	}
}
