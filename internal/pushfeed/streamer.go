// Package pushfeed implements the live-push feed named in spec §6: a
// hand-rolled WebSocket endpoint (no external WS library, matching the
// teacher's zero-dependency internal/api/state_streamer.go) emitting a
// JSON snapshot once per second and accepting inbound {cmd,args}
// control messages on the same connection.
package pushfeed

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pv/wtp-simulator/internal/engine"
)

// Orchestrator is the subset of *engine.Orchestrator the feed needs.
type Orchestrator interface {
	Subscribe() (<-chan engine.PushSnapshot, func())
	SubmitCommand(ctx context.Context, cmd engine.Command) (engine.CommandResult, error)
}

// outboundMessage is the JSON object pushed once per second, per
// spec §6's field list.
type outboundMessage struct {
	TSim        float64 `json:"t_sim"`
	State       string  `json:"state"`
	TurbRaw     float64 `json:"turb_raw"`
	TurbFilt    float64 `json:"turb_filt"`
	PH          float64 `json:"ph"`
	Chlorine    float64 `json:"chlorine"`
	FlowRaw     float64 `json:"flow_raw"`
	FlowTreated float64 `json:"flow_treated"`
	LevelPct    float64 `json:"level_pct"`
	Temperature float64 `json:"temperature"`
	FilterDP    float64 `json:"filter_dp"`
	AlarmWord   uint16  `json:"alarm_word"`
	Coils       []bool  `json:"coils"`
	Discretes   []bool  `json:"dinputs"`
}

// inboundMessage mirrors spec §4.9's command grammar, carried as JSON
// instead of a plain-text line since the transport is message-oriented.
type inboundMessage struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args"`
}

// ackMessage is the one-line response spec §7 requires for
// interactive commands ("ok" or "error: <reason>").
type ackMessage struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func toOutbound(msg engine.PushSnapshot) outboundMessage {
	reg := msg.Registers
	out := outboundMessage{
		TSim:        msg.SimNow,
		State:       msg.State.String(),
		TurbRaw:     engine.DecodeFixedPoint(reg.Holding[engine.HRTurbRaw], 10),
		TurbFilt:    engine.DecodeFixedPoint(reg.Holding[engine.HRTurbFiltered], 100),
		PH:          engine.DecodeFixedPoint(reg.Holding[engine.HRPH], 100),
		Chlorine:    engine.DecodeFixedPoint(reg.Holding[engine.HRChlorine], 100),
		FlowRaw:     engine.DecodeFixedPoint(reg.Holding[engine.HRFlowRaw], 10),
		FlowTreated: engine.DecodeFixedPoint(reg.Holding[engine.HRFlowTreated], 10),
		LevelPct:    engine.DecodeFixedPoint(reg.Holding[engine.HRLevelPct], 10),
		Temperature: engine.DecodeFixedPoint(reg.Holding[engine.HRTemperature], 10),
		FilterDP:    engine.DecodeFixedPoint(reg.Holding[engine.HRFilterDP], 10),
		AlarmWord:   msg.AlarmWord,
		Coils:       reg.Coils.Values[:],
		Discretes:   reg.Discs.Values[:],
	}
	return out
}

// Feed serves the WebSocket endpoint, one goroutine pair per
// connection: a write pump fanning out orchestrator push snapshots,
// and a read pump parsing inbound control frames.
type Feed struct {
	orch Orchestrator
}

// New wires the feed to an orchestrator.
func New(orch Orchestrator) *Feed {
	return &Feed{orch: orch}
}

// ServeWS upgrades an HTTP request to the raw WebSocket connection and
// starts the pumps; grounded on the teacher's state_streamer.go
// ServeWS/addClient/writePump shape.
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conn, rw, err := websocketUpgrade(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ch, unsubscribe := f.orch.Subscribe()
	client := &wsConn{conn: conn, rw: rw}

	go func() {
		defer unsubscribe()
		defer client.close()
		f.writePump(client, ch)
	}()
	go f.readPump(client)
}

func (f *Feed) writePump(c *wsConn, ch <-chan engine.PushSnapshot) {
	for msg := range ch {
		data, err := json.Marshal(toOutbound(msg))
		if err != nil {
			continue
		}
		if err := c.writeText(data); err != nil {
			return
		}
	}
}

func (f *Feed) readPump(c *wsConn) {
	defer c.close()
	for {
		payload, err := c.readTextFrame()
		if err != nil {
			return
		}
		f.handleInbound(c, payload)
	}
}

func (f *Feed) handleInbound(c *wsConn, payload []byte) {
	var in inboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		c.writeJSON(ackMessage{Type: "ack", OK: false, Message: fmt.Sprintf("malformed command: %v", err)})
		return
	}
	args := parseArgs(in.Args)
	cmd := engine.Command{Verb: strings.ToLower(in.Cmd), Args: args}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.orch.SubmitCommand(ctx, cmd)
	if err != nil {
		c.writeJSON(ackMessage{Type: "ack", OK: false, Message: err.Error()})
		return
	}
	c.writeJSON(ackMessage{Type: "ack", OK: res.OK, Message: res.Message})
}

// parseArgs flattens the inbound {args:{...}} object into the
// positional-arg slice Intake.Dispatch expects, using the "ntu"/
// "sensor"/"state" keys a control UI is expected to send.
func parseArgs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	var out []string
	for _, key := range []string{"ntu", "sensor", "state"} {
		if v, ok := obj[key]; ok {
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// --- minimal RFC 6455 framing, grounded on the teacher's
// internal/api/state_streamer.go websocketUpgrade/writeTextFrame ---

const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func websocketUpgrade(w http.ResponseWriter, r *http.Request) (net.Conn, *bufio.ReadWriter, error) {
	if !headerContains(r.Header, "Connection", "Upgrade") || !headerContains(r.Header, "Upgrade", "websocket") {
		return nil, nil, errors.New("upgrade request expected")
	}
	key := strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, nil, errors.New("missing Sec-WebSocket-Key")
	}
	accept := computeAcceptKey(key)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http hijacking not supported")
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		return nil, nil, err
	}
	if rw == nil {
		rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	}

	response := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := rw.WriteString(response); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := rw.Flush(); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, rw, nil
}

func computeAcceptKey(key string) string {
	h := sha1.Sum([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h[:])
}

func headerContains(h http.Header, name, value string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return true
			}
		}
	}
	return false
}

type wsConn struct {
	conn      net.Conn
	rw        *bufio.ReadWriter
	writeOnce sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) writeText(payload []byte) error {
	c.writeOnce.Lock()
	defer c.writeOnce.Unlock()
	return writeTextFrame(c.rw, payload)
}

func (c *wsConn) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.writeText(data)
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

func writeTextFrame(w *bufio.ReadWriter, payload []byte) error {
	var header [10]byte
	header[0] = 0x81 // FIN + text frame
	var headerLen int
	switch {
	case len(payload) < 126:
		header[1] = byte(len(payload))
		headerLen = 2
	case len(payload) <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(len(payload)))
		headerLen = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(len(payload)))
		headerLen = 10
	}
	if _, err := w.Write(header[:headerLen]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readTextFrame reads one client->server frame. Per RFC 6455, client
// frames are always masked; this accepts only single-frame text
// messages (no fragmentation, no extensions), which is sufficient for
// the short {cmd,args} control messages spec §6 describes.
func (c *wsConn) readTextFrame() ([]byte, error) {
	var header [2]byte
	if _, err := readFull(c.rw, header[:]); err != nil {
		return nil, err
	}
	opcode := header[0] & 0x0F
	masked := header[1]&0x80 != 0
	length := int64(header[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := readFull(c.rw, ext[:]); err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := readFull(c.rw, ext[:]); err != nil {
			return nil, err
		}
		length = int64(binary.BigEndian.Uint64(ext[:]))
	}

	var maskKey [4]byte
	if masked {
		if _, err := readFull(c.rw, maskKey[:]); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, length)
	if _, err := readFull(c.rw, payload); err != nil {
		return nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	switch opcode {
	case 0x8: // close
		return nil, errors.New("client closed connection")
	case 0x1: // text
		return payload, nil
	default:
		// ignore ping/pong/binary/continuation frames; keep reading
		return c.readTextFrame()
	}
}

func readFull(r *bufio.ReadWriter, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
