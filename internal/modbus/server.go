// Package modbus bridges the simulation engine's RegisterBank to a
// real Modbus TCP listener via github.com/tbrandon/mbserver — the one
// off-the-shelf wire-framing library named by this project's network
// interface requirements, since no reference repository in this
// project's lineage carries a Modbus implementation of its own.
package modbus

import (
	"context"
	"time"

	"github.com/tbrandon/mbserver"

	"github.com/pv/wtp-simulator/internal/engine"
)

// pollCadence is how often the bridge syncs the mbserver data model
// against the engine's RegisterBank: outbound (bank -> mbserver) for
// holding/input/coil/discrete values it owns, inbound (mbserver -> bank)
// for coil writes a client has made. Holding-register writes are not
// carried inbound; the next outbound sync overwrites them.
const pollCadence = 200 * time.Millisecond

// Server owns an mbserver.Server bound to a single unit ID (spec §6:
// "single unit ID = 1") and keeps it in sync with an engine.Orchestrator's
// register bank.
type Server struct {
	bank *engine.RegisterBank
	orch Orchestrator
	srv  *mbserver.Server
	addr string
}

// Orchestrator is the subset of *engine.Orchestrator the bridge needs;
// declared as an interface so tests can supply a fake.
type Orchestrator interface {
	Bank() *engine.RegisterBank
	SetCommFault(bool)
}

// NewServer constructs the bridge. Listen starts the TCP listener.
func NewServer(orch Orchestrator, addr string) *Server {
	return &Server{
		bank: orch.Bank(),
		orch: orch,
		srv:  mbserver.NewServer(),
		addr: addr,
	}
}

// Listen binds the Modbus TCP port and runs the sync loop until ctx is
// cancelled. A bind failure is a NetworkError per spec §7, fatal at
// startup.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.srv.ListenTCP(s.addr); err != nil {
		s.orch.SetCommFault(true)
		return engine.NetworkError("modbus.Listen", err)
	}
	defer s.srv.Close()
	s.orch.SetCommFault(false)

	ticker := time.NewTicker(pollCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pushToClient()
			s.pullFromClient()
		}
	}
}

// pushToClient copies the bank's current snapshot into mbserver's data
// model so FC01/02/03/04 reads observe this tick's values.
func (s *Server) pushToClient() {
	snap := s.bank.ReadSnapshot()

	for i, v := range snap.Holding {
		s.setHolding(i, v)
	}
	for i, v := range snap.Input {
		s.setInput(i, v)
	}
	for i := 0; i < 8; i++ {
		s.setCoilBit(i, coilIDValue(snap.Coils, i))
	}
	for i := 0; i < 10; i++ {
		s.setDiscreteBit(i, discreteIDValue(snap.Discs, i))
	}
}

// pullFromClient detects coil values mbserver has accepted from a
// write request (FC05/15) that differ from the bank's coils
// and queues them onto the bank's pending-writes list, per spec §4.8's
// "writes land in a pending-commands queue drained by the
// orchestrator."
func (s *Server) pullFromClient() {
	for i := 0; i < 8; i++ {
		v := s.coilBit(i)
		if v != coilIDValue(s.bank.Coils(), i) {
			s.bank.QueueWrite(engine.PendingWrite{IsCoil: true, CoilID: engine.CoilID(i), CoilVal: v})
		}
	}
}

func coilIDValue(c engine.CoilSet, i int) bool         { return c.Get(engine.CoilID(i)) }
func discreteIDValue(d engine.DiscreteSet, i int) bool { return d.Get(engine.DiscreteID(i)) }

// The following helpers isolate the mbserver library's exported slice
// layout (HoldingRegisters, InputRegisters, Coils, DiscreteInputs as
// big-endian register words / bit-packed bytes) from the rest of the
// bridge.

func (s *Server) setHolding(addr int, v uint16) {
	if addr < len(s.srv.HoldingRegisters) {
		s.srv.HoldingRegisters[addr] = v
	}
}

func (s *Server) setInput(addr int, v uint16) {
	if addr < len(s.srv.InputRegisters) {
		s.srv.InputRegisters[addr] = v
	}
}

func (s *Server) setCoilBit(addr int, v bool) {
	setPackedBit(s.srv.Coils, addr, v)
}

func (s *Server) coilBit(addr int) bool {
	return readPackedBit(s.srv.Coils, addr)
}

func (s *Server) setDiscreteBit(addr int, v bool) {
	setPackedBit(s.srv.DiscreteInputs, addr, v)
}

func setPackedBit(buf []byte, bit int, v bool) {
	byteIdx, bitIdx := bit/8, uint(bit%8)
	if byteIdx >= len(buf) {
		return
	}
	if v {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
}

func readPackedBit(buf []byte, bit int) bool {
	byteIdx, bitIdx := bit/8, uint(bit%8)
	if byteIdx >= len(buf) {
		return false
	}
	return buf[byteIdx]&(1<<bitIdx) != 0
}
