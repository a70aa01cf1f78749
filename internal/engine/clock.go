package engine

import "time"

// Clock maps wall time to simulated time with a compression factor
// (spec §3/§4.1). Grounded on the speed-scaled duration arithmetic in
// the teacher's internal/replay/replay.go:waitNextStep, generalized
// into a persistent object with the non-decreasing invariant spec.md
// requires.
type Clock struct {
	speed       float64
	startedWall time.Time
	lastWall    time.Time
	accumSim    float64
}

// NewClock creates a clock with the given speed, anchored at now.
func NewClock(speed float64, now time.Time) *Clock {
	if speed <= 0 {
		speed = 1
	}
	return &Clock{
		speed:       speed,
		startedWall: now,
		lastWall:    now,
	}
}

// Advance computes the simulated-time delta since the last call (or
// since construction), using wallNow as the current wall-clock
// reading. If wallNow has regressed (NTP step, VM pause), delta is
// zero rather than negative, per spec §4.1.
func (c *Clock) Advance(wallNow time.Time) (deltaSim float64) {
	elapsed := wallNow.Sub(c.lastWall)
	if elapsed < 0 {
		logWarnf("clock: wall time regressed by %s, clamping delta to 0", -elapsed)
		elapsed = 0
	}
	c.lastWall = wallNow
	deltaSim = elapsed.Seconds() * c.speed
	c.accumSim += deltaSim
	return deltaSim
}

// SimNow returns the total simulated time elapsed since construction.
func (c *Clock) SimNow() float64 { return c.accumSim }

// Speed returns the compression factor.
func (c *Clock) Speed() float64 { return c.speed }
