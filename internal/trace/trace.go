// Package trace records the register bank at every scan-orchestrator
// tick so that two runs started with the same --seed and command
// timeline can be diffed for the determinism property (spec scenario 6).
package trace

import (
	"context"
	"time"
)

// TickRecord is one committed scan-orchestrator tick, taken after the
// register bank projection and before the next sleep.
type TickRecord struct {
	Seq        int64
	SimSeconds float64
	WallTime   time.Time
	Holding    [15]uint16
	Input      [3]uint16
	Coils      [8]bool
	Discretes  [10]bool
}

// CommandAudit is one accepted or rejected Command Intake invocation,
// appended independently of the tick trace so that a command landing
// between two ticks, or rejected outright, is never lost.
type CommandAudit struct {
	Seq    int64
	AtSim  float64
	AtWall time.Time
	Cmd    string
	Args   string
	Result string
}

// Recorder persists tick traces and command audit records to a backend
// (memory, sqlite, postgres).
type Recorder interface {
	// Record appends one tick. Implementations must not block the
	// orchestrator for longer than a best-effort write; callers treat
	// a Record error as a logged SimulationWarn, never fatal.
	Record(ctx context.Context, rec TickRecord) error
	// RecordCommand appends one Command Intake invocation, accepted or
	// rejected, independently of the tick cadence.
	RecordCommand(ctx context.Context, rec CommandAudit) error
	// Range returns the sequence numbers of the oldest and newest
	// recorded tick, and how many ticks are retained.
	Range(ctx context.Context) (first, last, count int64, err error)
	// At returns the recorded tick at the given sequence number, if
	// still retained.
	At(ctx context.Context, seq int64) (TickRecord, bool, error)
	Close() error
}
