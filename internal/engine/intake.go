package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed scripted scenario injection from the external
// control surface (spec §4.9).
type Command struct {
	Verb string
	Args []string
}

// CommandResult mirrors spec §7's "one-line response... ok or
// error: <reason>" rule for interactive commands: a tagged
// {OK, ClientError} outcome that never unwinds the intake loop.
type CommandResult struct {
	OK      bool
	Message string
}

func ok(msg string) CommandResult        { return CommandResult{OK: true, Message: msg} }
func clientErr(msg string) CommandResult { return CommandResult{OK: false, Message: msg} }

func clientErrf(f string, a ...any) CommandResult {
	return CommandResult{OK: false, Message: fmt.Sprintf(f, a...)}
}

// ParseCommand splits a raw line into a Command, per the "rain <ntu>",
// "dose on|off", "fault <sensor>", "clear <sensor>", "glitch",
// "status" grammar in spec §4.9.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	return Command{Verb: strings.ToLower(fields[0]), Args: fields[1:]}, nil
}

var sensorChannels = map[string]Channel{
	"turbidity": ChanTurbRaw,
	"chlorine":  ChanChlorine,
	"flow":      ChanFlowRaw,
}

// Intake dispatches parsed commands against a ProcessModel (and, for
// "status", a read of the current register bank), reporting results
// through CommandResult rather than by returning an error up the
// stack — grounded on the teacher's internal/replay/control.go
// command-to-effect dispatch table, generalized to this plant's
// verbs.
type Intake struct {
	pm   *ProcessModel
	bank *RegisterBank
	sm   *StateMachine
}

// NewIntake wires the command dispatcher to the process model, bank
// and state machine it mutates or reads.
func NewIntake(pm *ProcessModel, bank *RegisterBank, sm *StateMachine) *Intake {
	return &Intake{pm: pm, bank: bank, sm: sm}
}

// Dispatch executes one parsed command and returns its result. simNow
// is required for commands (rain, glitch) that need the current
// simulated time.
func (in *Intake) Dispatch(cmd Command, simNow float64) CommandResult {
	switch cmd.Verb {
	case "rain":
		return in.doRain(cmd.Args, simNow)
	case "dose":
		return in.doDose(cmd.Args)
	case "fault":
		return in.doFault(cmd.Args)
	case "clear":
		return in.doClear(cmd.Args)
	case "glitch":
		return in.doGlitch(simNow)
	case "status":
		return in.doStatus()
	default:
		return clientErrf("unknown command %q", cmd.Verb)
	}
}

func (in *Intake) doRain(args []string, simNow float64) CommandResult {
	peak := 400.0
	if len(args) > 0 {
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return clientErrf("rain: invalid ntu %q: %v", args[0], err)
		}
		peak = v
	}
	in.pm.RainSource().Inject(simNow, peak)
	return ok(fmt.Sprintf("rain injected peak_ntu=%.1f", peak))
}

func (in *Intake) doDose(args []string) CommandResult {
	if len(args) != 1 {
		return clientErr("dose: expected on|off")
	}
	var enable bool
	switch args[0] {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return clientErrf("dose: invalid argument %q, expected on|off", args[0])
	}
	coils := in.bank.Coils()
	coils.Set(CoilChlorine, enable)
	in.bank.SetCoils(coils)
	return ok(fmt.Sprintf("dose %s", args[0]))
}

func (in *Intake) doFault(args []string) CommandResult {
	if len(args) != 1 {
		return clientErr("fault: expected a sensor name")
	}
	ch, found := sensorChannels[args[0]]
	if !found {
		return clientErrf("fault: unknown sensor %q", args[0])
	}
	in.pm.Fault(ch, false, 0, true) // deterministic stuck-at-last
	return ok(fmt.Sprintf("fault applied to %s (stuck-at-last)", args[0]))
}

func (in *Intake) doClear(args []string) CommandResult {
	if len(args) != 1 {
		return clientErr("clear: expected a sensor name")
	}
	ch, found := sensorChannels[args[0]]
	if !found {
		return clientErrf("clear: unknown sensor %q", args[0])
	}
	in.pm.ClearFault(ch)
	return ok(fmt.Sprintf("fault cleared on %s", args[0]))
}

func (in *Intake) doGlitch(simNow float64) CommandResult {
	const durationSim = 30
	const amplitude = 50
	in.pm.Glitch(simNow, durationSim, amplitude)
	return ok("glitch injected across all sensors for 30s simulated")
}

func (in *Intake) doStatus() CommandResult {
	snap := in.bank.ReadSnapshot()
	status := in.sm.Status()
	return ok(fmt.Sprintf(
		"state=%s turb_raw=%.2f ph=%.2f chlorine=%.2f level=%.1f%% alarm=0x%04x",
		status.State,
		DecodeFixedPoint(snap.Holding[HRTurbRaw], holdingScale[HRTurbRaw]),
		DecodeFixedPoint(snap.Holding[HRPH], holdingScale[HRPH]),
		DecodeFixedPoint(snap.Holding[HRChlorine], holdingScale[HRChlorine]),
		DecodeFixedPoint(snap.Holding[HRLevelPct], holdingScale[HRLevelPct]),
		snap.Input[IRAlarmWord],
	))
}
