package engine

import (
	"testing"
	"time"
)

func TestClockAdvanceAppliesSpeed(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(60, start)

	delta := c.Advance(start.Add(time.Second))
	if delta != 60 {
		t.Fatalf("expected 60 simulated seconds for 1 wall second at speed 60, got %v", delta)
	}
	if c.SimNow() != 60 {
		t.Fatalf("expected SimNow()=60, got %v", c.SimNow())
	}

	delta2 := c.Advance(start.Add(2 * time.Second))
	if delta2 != 60 {
		t.Fatalf("expected another 60 simulated seconds, got %v", delta2)
	}
	if c.SimNow() != 120 {
		t.Fatalf("expected SimNow()=120, got %v", c.SimNow())
	}
}

func TestClockNeverGoesBackwards(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(1, start)
	c.Advance(start.Add(time.Second))
	delta := c.Advance(start.Add(500 * time.Millisecond))
	if delta != 0 {
		t.Fatalf("expected zero delta on wall-clock regression, got %v", delta)
	}
	if c.SimNow() != 1 {
		t.Fatalf("expected SimNow() unchanged at 1, got %v", c.SimNow())
	}
}

func TestClockDefaultsSpeedToOne(t *testing.T) {
	c := NewClock(0, time.Now())
	if c.Speed() != 1 {
		t.Fatalf("expected default speed 1, got %v", c.Speed())
	}
}
