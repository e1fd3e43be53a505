// Package clientendpoint is the client's single owning task (spec §5):
// each tick it receives and reconciles, then samples input, predicts and
// sends, never suspending mid-tick. Remote entities are interpolated on
// demand via RemoteTransform.
package clientendpoint

import (
	"fmt"
	"net"
	"time"

	"ticknet/internal/aead"
	"ticknet/internal/clocksync"
	"ticknet/internal/config"
	"ticknet/internal/entitystate"
	"ticknet/internal/fsm"
	"ticknet/internal/interpolation"
	"ticknet/internal/metrics"
	"ticknet/internal/netlog"
	"ticknet/internal/prediction"
	"ticknet/internal/scriptrpc"
	"ticknet/internal/transport"
	"ticknet/internal/wire"
	"ticknet/pkg/sim"

	"github.com/prometheus/client_golang/prometheus"
)

var log = netlog.New("client")

// Client is the local player's single owning task: it predicts its own
// movement, reconciles against authoritative snapshots, and
// interpolates every other visible entity for rendering.
type Client struct {
	cfg  config.Config
	conn *net.UDPConn
	diag *metrics.Diagnostics

	peer  *transport.Peer
	clock *clocksync.Estimator
	fsm   *fsm.Machine

	predictor *prediction.Predictor
	remotes   map[entitystate.EntityID]*interpolation.Buffer

	nextInputSeq uint32
	localTick    entitystate.Tick
	assignedID   uint16

	lastPingSent time.Time
	aeadSession  *aead.Session

	// ScriptRPCHandler, if set, receives every var-sync envelope the
	// server relays back (design note 9); nil discards them.
	ScriptRPCHandler func(scriptrpc.Envelope)
}

// New dials serverAddr and constructs a client endpoint around the
// embedding game's deterministic step function (pkg/sim).
func New(cfg config.Config, serverAddr string, step sim.Step, local entitystate.EntityState, reg prometheus.Registerer) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("clientendpoint: resolve %q: %w", serverAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("clientendpoint: dial %q: %w", serverAddr, err)
	}
	return &Client{
		cfg:       cfg,
		conn:      conn,
		diag:      metrics.New(reg, "ticknet_client"),
		peer:      transport.NewPeer(time.Now()),
		clock:     clocksync.NewEstimator(),
		fsm:       fsm.New(fsm.Disconnected),
		predictor: prediction.New(step, local),
		remotes:   make(map[entitystate.EntityID]*interpolation.Buffer),
	}, nil
}

// Connect drives the FSM's Disconnected -> Connecting transition and
// sends the initial handshake reliably (spec §4.8).
func (c *Client) Connect() error {
	now := time.Now()
	if err := c.fsm.Fire(fsm.EventConnect, now); err != nil {
		return err
	}
	return c.sendReliable(wire.MsgHandshake, wire.Handshake{ClientVersion: wire.ProtocolVersion})
}

// Run drives one tick: poll the socket (reconciling against any
// snapshot received), flush the reliable lane, maybe send a clock ping,
// then, once connected, sample and predict the new input and send the
// input tail. Callers loop this on their own ticker at cfg.TickInterval().
func (c *Client) Run(now time.Time, move entitystate.Vec3, lookYaw, lookPitch float32, buttons uint32) error {
	c.drainSocket(now)
	c.flushReliable(now)
	c.maybeSendClockPing(now)

	if c.fsm.State() != fsm.Connected {
		c.checkFSMTimeouts(now)
		return nil
	}

	seq := c.nextInputSeq
	c.nextInputSeq++
	c.predictor.Sample(seq, move, lookYaw, lookPitch, buttons)
	c.predictor.Predict(c.cfg.TickInterval())
	c.localTick++

	return c.sendInputs()
}

// RemoteTransform returns the interpolated render-time transform for a
// non-local entity (spec §4.6), or the zero value if unseen.
func (c *Client) RemoteTransform(id entitystate.EntityID) entitystate.EntityState {
	buf, ok := c.remotes[id]
	if !ok {
		return entitystate.EntityState{}
	}
	interpTime := interpolation.InterpTime(c.clock.RemoteNow(time.Now()), c.cfg.InterpDelay())
	return buf.Sample(interpTime)
}

// LocalPredicted returns the client's current predicted local state.
func (c *Client) LocalPredicted() entitystate.EntityState { return c.predictor.PredictedState }

func (c *Client) sendInputs() error {
	tail := c.predictor.Input.Tail(c.cfg.InputRedundancy)
	return c.sendFrame(wire.MsgInputFrame, wire.InputFrameMsg{Tick: c.localTick, Frames: tail})
}

func (c *Client) drainSocket(now time.Time) {
	buf := make([]byte, wire.MaxDatagramSize+64)
	for {
		c.conn.SetReadDeadline(time.Now())
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		c.handleDatagram(now, append([]byte(nil), buf[:n]...))
	}
}

func (c *Client) handleDatagram(now time.Time, raw []byte) {
	dg, err := c.decodeInbound(raw)
	if err != nil {
		c.diag.DecodeErrors.Inc()
		if c.peer.NoteDecodeError(now) {
			c.diag.ProtocolErrors.Inc()
		}
		return
	}
	c.diag.PacketsRecv.Inc()
	c.peer.ApplyAcks(dg.Header.PeerAck, dg.Header.AckBits)
	result := c.peer.OnDatagram(now, dg)
	if result.Duplicate {
		c.diag.Duplicates.Inc()
		return
	}
	for _, f := range append(result.Unreliable, result.ReliableInOrder...) {
		c.dispatchFrame(now, f)
	}
}

// decodeInbound splits the header from the payload, decrypting the
// payload first when FlagEncrypted is set, before parsing frames — the
// stock wire.DecodeDatagram can't do this itself since it has no notion
// of a per-connection AEAD session.
func (c *Client) decodeInbound(raw []byte) (wire.Datagram, error) {
	h, rawPayload, err := wire.DecodeHeaderAndPayload(raw)
	if err != nil {
		return wire.Datagram{}, err
	}
	payload, err := c.maybeOpen(h, rawPayload)
	if err != nil {
		return wire.Datagram{}, err
	}
	frames, err := wire.DecodeFrames(payload)
	if err != nil {
		return wire.Datagram{}, err
	}
	return wire.Datagram{Header: h, Frames: frames}, nil
}

func (c *Client) maybeOpen(h wire.Header, payload []byte) ([]byte, error) {
	if h.Flags&wire.FlagEncrypted == 0 {
		return payload, nil
	}
	if c.aeadSession == nil {
		return nil, fmt.Errorf("clientendpoint: encrypted datagram with no session established")
	}
	return c.aeadSession.Open(nil, nil, payload, h.PeerSeq)
}

func (c *Client) maybeSeal(payload []byte, seq uint16) ([]byte, uint8) {
	if c.aeadSession == nil {
		return payload, 0
	}
	return c.aeadSession.Seal(nil, nil, payload, seq), wire.FlagEncrypted
}

func (c *Client) dispatchFrame(now time.Time, f wire.Frame) {
	cur := wire.NewCursor(f.Body)
	switch f.Type {
	case wire.MsgHandshakeAck:
		ack, err := wire.DecodeHandshakeAck(cur)
		if err != nil {
			return
		}
		c.assignedID = ack.AssignedClientID
		if c.fsm.Fire(fsm.EventHandshakeAck, now) == nil {
			c.sendReliable(wire.MsgAuth, wire.Auth{})
		}
	case wire.MsgAuthResult:
		res, err := wire.DecodeAuthResult(cur)
		if err != nil {
			return
		}
		if res.Accepted {
			if c.cfg.EncryptionEnabled {
				if sess, err := aead.NewSessionWithSalt(c.cfg.PresharedKey[:], res.Salt); err == nil {
					c.aeadSession = sess
				} else {
					log.Warn("aead session construction failed", "err", err)
				}
			}
			c.fsm.Fire(fsm.EventAuthAccept, now)
		} else {
			c.fsm.Fire(fsm.EventAuthReject, now)
		}
	case wire.MsgSnapshotFull, wire.MsgSnapshotDelta:
		msg, err := wire.DecodeSnapshotMsg(cur)
		if err != nil {
			return
		}
		c.applySnapshot(now, msg)
	case wire.MsgClockPong:
		pong, err := wire.DecodeClockPong(cur)
		if err != nil {
			return
		}
		// The pong carries 32-bit millisecond truncations; rebuild full
		// times from wrap-safe differences against the local clock.
		rtt := time.Duration(uint32(now.UnixMilli())-uint32(pong.TSend)) * time.Millisecond
		tSend := now.Add(-rtt)
		tRecv := tSend.Add(time.Duration(int32(uint32(pong.TRecv)-uint32(pong.TSend))) * time.Millisecond)
		if c.clock.OnPong(tSend, tRecv, now) {
			c.diag.RTT.Set(c.clock.RTT().Seconds())
		}
	case wire.MsgClockPing:
		ping, err := wire.DecodeClockPing(cur)
		if err == nil {
			c.sendFrame(wire.MsgClockPong, wire.ClockPong{TSend: ping.TSend, TRecv: int64(now.UnixMilli())})
		}
	case wire.MsgVarSync:
		env, err := scriptrpc.Decode(f.Body)
		if err != nil {
			return
		}
		if c.ScriptRPCHandler != nil {
			c.ScriptRPCHandler(env)
		}
	case wire.MsgDisconnect:
		c.fsm.Fire(fsm.EventPeerTimeout, now)
	}
}

// SendScriptRPC hands an opaque mod/script envelope to the server's
// reliable lane as a script-rpc message (spec's out-of-band mod bridge,
// design note 9). ticknet never interprets kind or payload.
func (c *Client) SendScriptRPC(kind string, payload []byte) error {
	body, err := scriptrpc.Encode(scriptrpc.Envelope{Kind: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("clientendpoint: encode script-rpc: %w", err)
	}
	c.peer.EnqueueReliable(uint8(wire.MsgScriptRPC), body)
	return c.flushReliable(time.Now())
}

// maybeSendClockPing issues a new clock-sync ping once NextInterval has
// elapsed since the last one, implementing the burst-then-steady cadence
// (spec §4.3) instead of a single one-off ping at connect time.
func (c *Client) maybeSendClockPing(now time.Time) {
	if c.fsm.State() == fsm.Disconnected {
		return
	}
	if !c.lastPingSent.IsZero() && now.Sub(c.lastPingSent) < c.clock.NextInterval() {
		return
	}
	c.lastPingSent = now
	c.clock.RecordPingSent()
	c.sendFrame(wire.MsgClockPing, wire.ClockPing{TSend: now.UnixMilli()})
}

func (c *Client) applySnapshot(now time.Time, msg wire.SnapshotMsg) {
	var lastProcessed uint32
	for _, ack := range msg.ClientAcks {
		if ack.ClientID == c.assignedID {
			lastProcessed = ack.LastProcessedInputSeq
		}
	}

	var localAuthoritative *entitystate.EntityState
	for _, d := range msg.Changed {
		if d.ID == entitystate.EntityID(c.assignedID)+1 {
			state := d.State
			localAuthoritative = &state
			continue
		}
		buf, ok := c.remotes[d.ID]
		if !ok {
			buf = interpolation.NewBuffer()
			c.remotes[d.ID] = buf
		}
		buf.Push(now, d.State)
	}
	for _, id := range msg.Removed {
		delete(c.remotes, id)
	}

	if localAuthoritative != nil {
		before := c.predictor.PredictedState
		c.predictor.Reconcile(msg.Tick, *localAuthoritative, lastProcessed, c.cfg.TickInterval())
		if !c.predictor.PredictedState.Equal(before) {
			c.diag.Corrections.Inc()
		}
	}
}

func (c *Client) checkFSMTimeouts(now time.Time) {
	if c.fsm.TimedOut(now) {
		switch c.fsm.State() {
		case fsm.Connecting:
			c.fsm.Fire(fsm.EventTimeout, now)
		case fsm.Disconnecting:
			c.fsm.Fire(fsm.EventDisconnectAckOrTimeout, now)
		}
	}
}

func (c *Client) sendFrame(t wire.MsgType, body interface{ Encode(w *wire.Writer) error }) error {
	bw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := body.Encode(bw); err != nil {
		return fmt.Errorf("clientendpoint: encode %s: %w", t, err)
	}
	payloadWriter := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := wire.EncodeFrame(payloadWriter, t, bw.Bytes()); err != nil {
		return fmt.Errorf("clientendpoint: frame %s: %w", t, err)
	}
	peerAck, ackBits := c.peer.BuildHeader()
	seq := c.peer.NextOutSeq()
	sealed, flags := c.maybeSeal(payloadWriter.Bytes(), seq)
	h := wire.Header{PeerSeq: seq, PeerAck: peerAck, AckBits: ackBits, Flags: flags}
	dg, err := wire.EncodeDatagram(make([]byte, 0, wire.MaxDatagramSize+wire.HeaderSize), h, sealed)
	if err != nil {
		return fmt.Errorf("clientendpoint: datagram %s: %w", t, err)
	}
	if _, err := c.conn.Write(dg); err != nil {
		return fmt.Errorf("clientendpoint: send %s: %w", t, err)
	}
	c.diag.PacketsSent.Inc()
	return nil
}

// sendReliable enqueues body on the at-least-once reliable lane (spec
// §4.2, §4.8 "send ... reliable") and immediately attempts delivery.
func (c *Client) sendReliable(t wire.MsgType, body interface{ Encode(w *wire.Writer) error }) error {
	bw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := body.Encode(bw); err != nil {
		return fmt.Errorf("clientendpoint: encode reliable %s: %w", t, err)
	}
	c.peer.EnqueueReliable(uint8(t), bw.Bytes())
	return c.flushReliable(time.Now())
}

// flushReliable sends one datagram carrying every reliable message that
// is newly enqueued or past its retransmit_timeout (spec §4.2). It is a
// no-op when nothing is due, so calling it every tick is cheap.
func (c *Client) flushReliable(now time.Time) error {
	seq := c.peer.NextOutSeq()
	due := c.peer.DueForSend(now, c.clock.RTT(), seq)
	if len(due) == 0 {
		return nil
	}
	payloadWriter := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	for _, rm := range due {
		rw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
		if err := rm.Encode(rw); err != nil {
			return fmt.Errorf("clientendpoint: encode reliable-msg: %w", err)
		}
		if err := wire.EncodeFrame(payloadWriter, wire.MsgReliable, rw.Bytes()); err != nil {
			return fmt.Errorf("clientendpoint: frame reliable-msg: %w", err)
		}
	}
	peerAck, ackBits := c.peer.BuildHeader()
	sealed, flags := c.maybeSeal(payloadWriter.Bytes(), seq)
	h := wire.Header{PeerSeq: seq, PeerAck: peerAck, AckBits: ackBits, Flags: flags}
	dg, err := wire.EncodeDatagram(make([]byte, 0, wire.MaxDatagramSize+wire.HeaderSize), h, sealed)
	if err != nil {
		return fmt.Errorf("clientendpoint: datagram reliable: %w", err)
	}
	if _, err := c.conn.Write(dg); err != nil {
		return fmt.Errorf("clientendpoint: send reliable: %w", err)
	}
	c.diag.PacketsSent.Inc()
	return nil
}

// Close sends a reliable disconnect notice if currently connected, then
// releases the socket.
func (c *Client) Close() error {
	if c.fsm.State() == fsm.Connected {
		now := time.Now()
		c.fsm.Fire(fsm.EventLocalDisconnect, now)
		c.sendReliable(wire.MsgDisconnect, wire.Disconnect{Reason: "ClientClosed"})
	}
	return c.conn.Close()
}
