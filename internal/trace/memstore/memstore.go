// Package memstore is the default, zero-configuration trace recorder:
// an in-memory ring buffer. Grounded on the teacher's
// internal/storage/memstore.NewExampleStore (a deterministic in-memory
// generator with no external dependency).
package memstore

import (
	"context"
	"sync"

	"github.com/pv/wtp-simulator/internal/trace"
)

// Recorder keeps the last Capacity ticks (and command audit records) in
// memory.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	ring     []trace.TickRecord
	first    int64
	cmdRing  []trace.CommandAudit
}

// New creates a ring-buffer recorder holding up to capacity ticks.
func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 3600
	}
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Record(_ context.Context, rec trace.TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ring = append(r.ring, rec)
	if len(r.ring) > r.capacity {
		drop := len(r.ring) - r.capacity
		r.ring = r.ring[drop:]
		r.first += int64(drop)
	}
	return nil
}

func (r *Recorder) RecordCommand(_ context.Context, rec trace.CommandAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmdRing = append(r.cmdRing, rec)
	if len(r.cmdRing) > r.capacity {
		r.cmdRing = r.cmdRing[len(r.cmdRing)-r.capacity:]
	}
	return nil
}

// Commands returns every retained command audit record, oldest first.
// Not part of the Recorder interface; exposed for tests and debug tools
// that need to inspect the in-memory backend directly.
func (r *Recorder) Commands() []trace.CommandAudit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]trace.CommandAudit, len(r.cmdRing))
	copy(out, r.cmdRing)
	return out
}

func (r *Recorder) Range(_ context.Context) (first, last, count int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == 0 {
		return 0, 0, 0, nil
	}
	return r.ring[0].Seq, r.ring[len(r.ring)-1].Seq, int64(len(r.ring)), nil
}

func (r *Recorder) At(_ context.Context, seq int64) (trace.TickRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) == 0 {
		return trace.TickRecord{}, false, nil
	}
	idx := seq - r.ring[0].Seq
	if idx < 0 || idx >= int64(len(r.ring)) {
		return trace.TickRecord{}, false, nil
	}
	return r.ring[idx], true, nil
}

func (r *Recorder) Close() error { return nil }
