package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pv/wtp-simulator/internal/trace"
	"github.com/pv/wtp-simulator/pkg/config"
)

const (
	tickCadence   = 1 * time.Second
	drainCadence  = 500 * time.Millisecond
	pushCadence   = 1 * time.Second
	shutdownGrace = 2 * time.Second
)

// PushSnapshot is what the Push loop hands to the live-push feed once
// per second (spec §6 "Live-push feed").
type PushSnapshot struct {
	SimNow    float64
	State     PlantState
	Registers Snapshot
	AlarmWord uint16
}

// Orchestrator runs the four concurrent loops described in spec §4.8
// and owns the only substantial shared state, the RegisterBank.
// Grounded on the teacher's internal/replay/replay.go Service.run,
// which also drives a tick loop, a command channel, and a streaming
// fan-out from one Run call — generalized here into four independent
// tickers instead of one combined select loop, per spec.md's explicit
// four-loop design.
type Orchestrator struct {
	cfg   *config.Config
	clock *Clock
	pm    *ProcessModel
	sm    *StateMachine
	bank  *RegisterBank
	in    *Intake

	commandCh chan intakeRequest
	pushSubMu sync.Mutex
	pushSubs  map[uuid.UUID]chan PushSnapshot

	commFaultMu sync.RWMutex
	commFault   bool

	recorder trace.Recorder
	tickSeq  int64
	cmdSeq   int64
}

type intakeRequest struct {
	cmd    Command
	result chan CommandResult
}

// NewOrchestrator wires the full tick pipeline: clock, process model,
// state machine, register bank, and command intake, all seeded from a
// single deterministic seed per spec §8's determinism property.
func NewOrchestrator(cfg *config.Config, seed int64, speed float64, autoRain bool, now time.Time) *Orchestrator {
	pm := NewProcessModel(cfg, seed, 0, autoRain)
	sm := NewStateMachine(cfg)
	bank := NewRegisterBank()
	o := &Orchestrator{
		cfg:       cfg,
		clock:     NewClock(speed, now),
		pm:        pm,
		sm:        sm,
		bank:      bank,
		commandCh: make(chan intakeRequest),
		pushSubs:  make(map[uuid.UUID]chan PushSnapshot),
	}
	o.in = NewIntake(pm, bank, sm)
	return o
}

// Bank exposes the register bank for the Modbus bridge.
func (o *Orchestrator) Bank() *RegisterBank { return o.bank }

// SetRecorder attaches a tick-trace recorder; nil disables recording.
// Call before Run. The recorder is best-effort: a Record error is
// logged and otherwise ignored, per spec §7's no-fatal-side-effects
// rule for diagnostics.
func (o *Orchestrator) SetRecorder(r trace.Recorder) {
	o.recorder = r
}

// SetCommFault is called by the Modbus bridge when its listener goes
// down, feeding Alarm bit 7 (spec §4.6).
func (o *Orchestrator) SetCommFault(faulted bool) {
	o.commFaultMu.Lock()
	o.commFault = faulted
	o.commFaultMu.Unlock()
}

// SubmitCommand enqueues a Command Intake request and blocks for its
// result; used by both the scripted control surface and the
// live-push feed's inbound {cmd,args} messages.
func (o *Orchestrator) SubmitCommand(ctx context.Context, cmd Command) (CommandResult, error) {
	req := intakeRequest{cmd: cmd, result: make(chan CommandResult, 1)}
	select {
	case o.commandCh <- req:
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
	select {
	case res := <-req.result:
		o.recordCommand(cmd, res)
		return res, nil
	case <-ctx.Done():
		return CommandResult{}, ctx.Err()
	}
}

// recordCommand appends one accepted or rejected Command Intake
// invocation to the trace recorder, independently of the tick cadence
// so a rejected command, or several landing between two ticks, are
// never lost. Best-effort, like recordTick.
func (o *Orchestrator) recordCommand(cmd Command, res CommandResult) {
	if o.recorder == nil {
		return
	}
	result := "ok: " + res.Message
	if !res.OK {
		result = "error: " + res.Message
	}
	audit := trace.CommandAudit{
		Seq:    atomic.AddInt64(&o.cmdSeq, 1),
		AtSim:  o.clock.SimNow(),
		AtWall: time.Now(),
		Cmd:    cmd.Verb,
		Args:   strings.Join(cmd.Args, " "),
		Result: result,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := o.recorder.RecordCommand(ctx, audit); err != nil {
		logWarnf("orchestrator: command audit record failed: %v", err)
	}
}

// Subscribe registers a new live-push subscriber and returns its
// channel plus an unsubscribe func.
func (o *Orchestrator) Subscribe() (<-chan PushSnapshot, func()) {
	o.pushSubMu.Lock()
	id := uuid.New()
	ch := make(chan PushSnapshot, 1)
	o.pushSubs[id] = ch
	o.pushSubMu.Unlock()

	return ch, func() {
		o.pushSubMu.Lock()
		delete(o.pushSubs, id)
		o.pushSubMu.Unlock()
		close(ch)
	}
}

// Run starts the four loops and blocks until ctx is cancelled, then
// waits up to shutdownGrace for them to exit, per spec §5's
// cancellation policy.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() { defer wg.Done(); o.tickLoop(ctx) }()
	go func() { defer wg.Done(); o.drainLoop(ctx) }()
	go func() { defer wg.Done(); o.pushLoop(ctx) }()
	go func() { defer wg.Done(); o.intakeLoop(ctx) }()

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		logWarnf("orchestrator: shutdown grace period elapsed before all loops exited")
	}
}

// runningState reports whether a state counts as "Running" or
// "Backwash" for the Process Model's filtration step (spec §4.4 step
// 4), tracked from the previous tick since the DAG has no
// back-reference into the state machine.
func runningState(s PlantState) (running, backwashing bool) {
	return s == Running, s == Backwash
}

func (o *Orchestrator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickCadence)
	defer ticker.Stop()

	prevState := Offline
	for {
		select {
		case <-ctx.Done():
			return
		case wallNow := <-ticker.C:
			o.runTick(wallNow, prevState)
			prevState = o.sm.Status().State
		}
	}
}

func (o *Orchestrator) runTick(wallNow time.Time, prevState PlantState) {
	deltaSim := o.clock.Advance(wallNow)
	running, backwashing := runningState(prevState)

	coils := o.bank.Coils()
	tctx := TickContext{SimNow: o.clock.SimNow(), DeltaSim: deltaSim, WallNow: wallNow, Coils: coils}

	snap := o.pm.Tick(tctx, running, backwashing)
	discretes, newState := o.sm.Tick(tctx, snap, o.pm)
	snap.Set(ChanLevelPct, o.sm.LevelPct())
	snap.Set(ChanLevelCM, o.sm.LevelPct()/100*500) // nominal 500cm reservoir depth

	o.commFaultMu.RLock()
	commFault := o.commFault
	o.commFaultMu.RUnlock()

	alarmWord := EvaluateAlarms(snap, newState, AlarmInputs{CommFault: commFault, Coils: coils, Discretes: discretes})
	status := o.sm.Status()
	o.bank.CommitTick(snap, status, discretes, alarmWord)

	o.recordTick(wallNow)
}

// recordTick appends the just-committed bank state to the trace
// recorder, if one is attached. Best-effort: failures are logged, not
// propagated, since tracing must never stall the tick loop.
func (o *Orchestrator) recordTick(wallNow time.Time) {
	if o.recorder == nil {
		return
	}

	reg := o.bank.ReadSnapshot()
	seq := atomic.AddInt64(&o.tickSeq, 1)
	rec := trace.TickRecord{
		Seq:        seq,
		SimSeconds: o.clock.SimNow(),
		WallTime:   wallNow,
		Holding:    reg.Holding,
		Input:      reg.Input,
		Coils:      reg.Coils.Values,
		Discretes:  reg.Discs.Values,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := o.recorder.Record(ctx, rec); err != nil {
		logWarnf("orchestrator: trace record failed: %v", err)
	}
}

func (o *Orchestrator) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(drainCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writes := o.bank.DrainWrites()
			if len(writes) == 0 {
				continue
			}
			coils := o.bank.Coils()
			for _, w := range writes {
				if w.IsCoil {
					coils.Set(w.CoilID, w.CoilVal)
				}
			}
			o.bank.SetCoils(coils)
		}
	}
}

func (o *Orchestrator) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(pushCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := o.bank.ReadSnapshot()
			msg := PushSnapshot{
				SimNow:    o.clock.SimNow(),
				State:     PlantState(snap.Input[IRPlantStatus]),
				Registers: snap,
				AlarmWord: snap.Input[IRAlarmWord],
			}
			o.fanOutPush(msg)
		}
	}
}

func (o *Orchestrator) fanOutPush(msg PushSnapshot) {
	o.pushSubMu.Lock()
	defer o.pushSubMu.Unlock()
	for _, ch := range o.pushSubs {
		select {
		case ch <- msg:
		default:
			// slow subscriber: drop rather than block the push loop
		}
	}
}

func (o *Orchestrator) intakeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-o.commandCh:
			result := o.in.Dispatch(req.cmd, o.clock.SimNow())
			req.result <- result
		}
	}
}
