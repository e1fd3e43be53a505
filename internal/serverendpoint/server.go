// Package serverendpoint is the server's single owning task (spec §5):
// it drives the authoritative tick loop, gluing transport, clock sync,
// simulation and the connection FSM together behind one non-suspending
// per-tick loop.
package serverendpoint

import (
	"fmt"
	"net"
	"sort"
	"time"

	"ticknet/internal/aead"
	"ticknet/internal/clocksync"
	"ticknet/internal/config"
	"ticknet/internal/entitystate"
	"ticknet/internal/fsm"
	"ticknet/internal/metrics"
	"ticknet/internal/netlog"
	"ticknet/internal/scriptrpc"
	"ticknet/internal/session"
	"ticknet/internal/simulation"
	"ticknet/internal/statestore"
	"ticknet/internal/transport"
	"ticknet/internal/wire"
	"ticknet/pkg/sim"

	"github.com/prometheus/client_golang/prometheus"
)

var log = netlog.New("server")

// client is everything the server keeps about one connected peer (spec
// §3's ClientRecord).
type client struct {
	addr      *net.UDPAddr
	id        uint16
	sessionID session.ClientID
	entity    entitystate.EntityID
	peer      *transport.Peer
	fsm       *fsm.Machine
	clock     *clocksync.Estimator
	input     *simulation.ClientInputQueue
	limiter   *simulation.InputLimiter

	lastPingSent time.Time
	aeadSession  *aead.Session
}

// pendingShot is a hitscan resolution deferred until after Advance so it
// can rewind against this tick's just-recorded history entry (spec
// §4.7 lag compensation).
type pendingShot struct {
	client *client
	input  entitystate.InputFrame
}

// Server is the authoritative game server's single owning task.
type Server struct {
	cfg   config.Config
	conn  *net.UDPConn
	diag  *metrics.Diagnostics
	store *statestore.Store
	sim   sim.Simulation
	tick  *simulation.TickLoop
	hist  *statestore.History

	clients     map[string]*client
	nextID      uint16
	suspicion   *simulation.SuspicionTracker

	currentTick entitystate.Tick
}

// New constructs a server bound to addr. gameSim supplies the embedding
// game's deterministic step/advance functions (pkg/sim).
func New(cfg config.Config, addr string, gameSim sim.Simulation, reg prometheus.Registerer) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("serverendpoint: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("serverendpoint: listen %q: %w", addr, err)
	}
	store := statestore.New()

	historyTicks := int(cfg.MaxRewind() / cfg.TickInterval())
	if historyTicks < statestore.MinRetainedTicks {
		historyTicks = statestore.MinRetainedTicks
	}

	s := &Server{
		cfg:       cfg,
		conn:      conn,
		diag:      metrics.New(reg, "ticknet_server"),
		store:     store,
		sim:       gameSim,
		tick:      simulation.NewTickLoop(store, gameSim, cfg.TickInterval(), cfg.MaxRewind()),
		hist:      statestore.NewHistory(historyTicks),
		clients:   make(map[string]*client),
		suspicion: simulation.NewSuspicionTracker(),
	}
	return s, nil
}

// Run drives the tick loop until stop is closed. It never suspends
// mid-tick (spec §5): on each tick boundary it drains every datagram
// already waiting on the socket without blocking, then runs one full
// simulate+snapshot pass synchronously.
func (s *Server) Run(stop <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	buf := make([]byte, wire.MaxDatagramSize+64)
	for {
		select {
		case <-stop:
			return nil
		case now := <-ticker.C:
			s.drainSocket(buf, now)
			s.tickOnce(now)
		}
	}
}

func (s *Server) drainSocket(buf []byte, now time.Time) {
	for {
		s.conn.SetReadDeadline(time.Now())
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		s.handleDatagram(now, addr, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handleDatagram(now time.Time, addr *net.UDPAddr, raw []byte) {
	existing := s.clients[addr.String()]
	dg, err := s.decodeInbound(raw, existing)
	if err != nil {
		s.diag.DecodeErrors.Inc()
		if existing != nil {
			if existing.peer.NoteDecodeError(now) {
				s.diag.ProtocolErrors.Inc()
				s.disconnectClient(existing, "ProtocolError")
			}
		}
		return
	}
	s.diag.PacketsRecv.Inc()

	c, ok := s.clients[addr.String()]
	if !ok {
		if len(s.clients) >= s.cfg.MaxClients {
			s.rejectCapacity(addr)
			return
		}
		c = s.acceptClient(addr, now)
	}
	c.peer.ApplyAcks(dg.Header.PeerAck, dg.Header.AckBits)
	result := c.peer.OnDatagram(now, dg)
	if result.Duplicate {
		s.diag.Duplicates.Inc()
		return
	}

	for _, f := range append(result.Unreliable, result.ReliableInOrder...) {
		s.dispatchFrame(c, now, f)
	}
}

// decodeInbound splits the header from the payload, decrypting it first
// when FlagEncrypted is set. c is the already-registered client for
// addr, if any; a not-yet-registered address can never carry
// FlagEncrypted since a session only exists after Auth.
func (s *Server) decodeInbound(raw []byte, c *client) (wire.Datagram, error) {
	h, rawPayload, err := wire.DecodeHeaderAndPayload(raw)
	if err != nil {
		return wire.Datagram{}, err
	}
	payload, err := s.maybeOpen(h, rawPayload, c)
	if err != nil {
		return wire.Datagram{}, err
	}
	frames, err := wire.DecodeFrames(payload)
	if err != nil {
		return wire.Datagram{}, err
	}
	return wire.Datagram{Header: h, Frames: frames}, nil
}

func (s *Server) maybeOpen(h wire.Header, payload []byte, c *client) ([]byte, error) {
	if h.Flags&wire.FlagEncrypted == 0 {
		return payload, nil
	}
	if c == nil || c.aeadSession == nil {
		return nil, fmt.Errorf("serverendpoint: encrypted datagram with no session established")
	}
	return c.aeadSession.Open(nil, nil, payload, h.PeerSeq)
}

func (s *Server) maybeSeal(c *client, payload []byte, seq uint16) ([]byte, uint8) {
	if c.aeadSession == nil {
		return payload, 0
	}
	return c.aeadSession.Seal(nil, nil, payload, seq), wire.FlagEncrypted
}

func (s *Server) acceptClient(addr *net.UDPAddr, now time.Time) *client {
	id := s.nextID
	s.nextID++
	c := &client{
		addr:      addr,
		id:        id,
		sessionID: session.NewClientID(),
		entity:    entitystate.EntityID(id) + 1,
		peer:      transport.NewPeer(now),
		fsm:       fsm.New(fsm.Listening),
		clock:     clocksync.NewEstimator(),
		input:     simulation.NewClientInputQueue(),
		limiter:   simulation.NewInputLimiter(s.cfg.MaxInputsPerSecond),
	}
	c.fsm.Fire(fsm.EventConnect, now)
	s.clients[addr.String()] = c
	s.store.Set(entitystate.EntityState{ID: c.entity})
	s.diag.ClientsOnline.Set(float64(len(s.clients)))
	log.Info("client connecting", "addr", addr, "id", id)
	return c
}

func (s *Server) dispatchFrame(c *client, now time.Time, f wire.Frame) {
	cur := wire.NewCursor(f.Body)
	switch f.Type {
	case wire.MsgHandshake:
		if _, err := wire.DecodeHandshake(cur); err == nil {
			c.fsm.Fire(fsm.EventHandshakeAck, now)
			s.sendReliable(c, wire.MsgHandshakeAck, wire.HandshakeAck{AssignedClientID: c.id})
		}
	case wire.MsgAuth:
		if _, err := wire.DecodeAuth(cur); err == nil {
			c.fsm.Fire(fsm.EventAuthAccept, now)
			result := wire.AuthResult{Accepted: true}
			var pending *aead.Session
			if s.cfg.EncryptionEnabled {
				sess, err := aead.NewSession(s.cfg.PresharedKey[:])
				if err != nil {
					log.Warn("aead session construction failed", "addr", c.addr, "err", err)
				} else {
					pending = sess
					result.Salt = sess.Salt()
				}
			}
			// AuthResult itself must travel in the clear: it is the only
			// carrier for the salt the client needs to open anything
			// afterward, so c.aeadSession is not installed until it's sent.
			s.sendReliable(c, wire.MsgAuthResult, result)
			c.aeadSession = pending
		}
	case wire.MsgInputFrame:
		msg, err := wire.DecodeInputFrameMsg(cur)
		if err != nil {
			return
		}
		s.acceptInputs(c, msg)
	case wire.MsgClockPing:
		ping, err := wire.DecodeClockPing(cur)
		if err == nil {
			s.sendFrame(c, wire.MsgClockPong, wire.ClockPong{TSend: ping.TSend, TRecv: int64(now.UnixMilli())})
		}
	case wire.MsgClockPong:
		pong, err := wire.DecodeClockPong(cur)
		if err == nil {
			// The pong carries 32-bit millisecond truncations; rebuild full
			// times from wrap-safe differences against the local clock.
			rtt := time.Duration(uint32(now.UnixMilli())-uint32(pong.TSend)) * time.Millisecond
			tSend := now.Add(-rtt)
			tRecv := tSend.Add(time.Duration(int32(uint32(pong.TRecv)-uint32(pong.TSend))) * time.Millisecond)
			c.clock.OnPong(tSend, tRecv, now)
		}
	case wire.MsgScriptRPC:
		env, err := scriptrpc.Decode(f.Body)
		if err != nil {
			return
		}
		log.Debug("script-rpc received", "from", c.id, "kind", env.Kind, "bytes", len(env.Payload))
		s.relayScriptRPC(c, wire.MsgVarSync, env)
	case wire.MsgVarSync:
		env, err := scriptrpc.Decode(f.Body)
		if err != nil {
			return
		}
		log.Debug("var-sync received", "from", c.id, "kind", env.Kind, "bytes", len(env.Payload))
	case wire.MsgDisconnect:
		s.disconnectClient(c, "PeerDisconnect")
	}
}

// relayScriptRPC rebroadcasts an opaque script-rpc envelope to every
// other connected client as a var-sync message: ticknet does not
// interpret Kind/Payload, it only forwards the producer/consumer
// contract the embedding game owns (design note 9).
func (s *Server) relayScriptRPC(from *client, t wire.MsgType, env scriptrpc.Envelope) {
	body, err := scriptrpc.Encode(env)
	if err != nil {
		log.Warn("script-rpc relay encode failed", "err", err)
		return
	}
	for _, addr := range s.sortedClientAddrs() {
		other := s.clients[addr]
		if other.id == from.id {
			continue
		}
		if err := s.sendReliableBody(other, t, body); err != nil {
			log.Warn("script-rpc relay send failed", "to", other.id, "err", err)
		}
	}
}

// rejectCapacity turns away a not-yet-registered address once
// cfg.MaxClients is reached (spec §7 CapacityExceeded/ServerFull): a
// standalone disconnect datagram, since there is no Peer to track acks
// for an address the server never accepted.
func (s *Server) rejectCapacity(addr *net.UDPAddr) {
	bw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := (wire.Disconnect{Reason: "ServerFull"}).Encode(bw); err != nil {
		return
	}
	payloadWriter := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := wire.EncodeFrame(payloadWriter, wire.MsgDisconnect, bw.Bytes()); err != nil {
		return
	}
	dg, err := wire.EncodeDatagram(make([]byte, 0, wire.MaxDatagramSize+wire.HeaderSize), wire.Header{}, payloadWriter.Bytes())
	if err != nil {
		return
	}
	if _, err := s.conn.WriteToUDP(dg, addr); err != nil {
		log.Warn("reject-capacity send failed", "addr", addr, "err", err)
		return
	}
	s.diag.PacketsSent.Inc()
	s.diag.Disconnects.WithLabelValues("ServerFull").Inc()
	log.Warn("client rejected: at capacity", "addr", addr, "max_clients", s.cfg.MaxClients)
}

// maybeSendClockPing originates a clock-sync ping toward c on the
// burst-then-steady cadence (spec §4.3); the server needs its own RTT
// estimate per client for lag compensation (HitscanAction.Resolve),
// which a purely reactive ping-reply role can never provide.
func (s *Server) maybeSendClockPing(c *client, now time.Time) {
	if !c.lastPingSent.IsZero() && now.Sub(c.lastPingSent) < c.clock.NextInterval() {
		return
	}
	c.lastPingSent = now
	c.clock.RecordPingSent()
	s.sendFrame(c, wire.MsgClockPing, wire.ClockPing{TSend: now.UnixMilli()})
}

func (s *Server) acceptInputs(c *client, msg wire.InputFrameMsg) {
	for _, f := range msg.Frames {
		if !c.limiter.Allow() {
			continue
		}
		if err := simulation.ValidateInput(f, c.input.LastProcessed()); err != nil {
			if err == simulation.ErrMoveMagnitude || err == simulation.ErrUnknownButtons {
				if s.suspicion.Add(c.id, simulation.SuspicionPointsMalformedInput, string(err.(simulation.ValidationError))) {
					s.disconnectClient(c, "Suspicion")
				}
			}
			continue
		}
		c.input.Offer(f)
	}
}

// tickOnce runs one full server simulation step in order: apply one
// queued input per client, advance the world, then emit delta
// snapshots (spec §4.7, spec §5's "receive, validate, simulate,
// snapshot-emit" ordering — receive already happened in drainSocket).
func (s *Server) tickOnce(now time.Time) {
	ids := s.sortedClientAddrs()
	var shots []pendingShot
	for _, addr := range ids {
		c := s.clients[addr]
		s.maybeSendClockPing(c, now)
		if f, ok := c.input.PopNext(); ok {
			s.tick.StepPlayer(c.entity, f)
			if f.Buttons&simulation.ButtonFire != 0 {
				shots = append(shots, pendingShot{client: c, input: f})
			}
		}
	}
	s.tick.Advance()
	s.currentTick = s.tick.CurrentTick
	snap := s.store.Snapshot()
	s.hist.Record(s.currentTick, snap)

	// Resolved after Advance so RewindTick(..., 0 ticks back) can land on
	// this tick's just-recorded history entry (spec §4.7).
	for _, shot := range shots {
		s.resolveHitscan(shot.client, shot.input)
	}

	for _, addr := range ids {
		c := s.clients[addr]
		s.emitSnapshot(c, now, snap)
		s.flushReliable(c, now)
	}
	s.checkTimeouts(now)
}

// resolveHitscan runs a lag-compensated hit check for a ButtonFire input
// against every other connected client (spec §4.7 lag compensation).
// There is no damage/health model in this core: a confirmed hit is
// logged with its reconstructed target states for the embedding game to
// consume, and a tolerance failure feeds suspicion scoring exactly like
// other validation failures.
func (s *Server) resolveHitscan(c *client, f entitystate.InputFrame) {
	shooter, ok := s.store.Get(c.entity)
	if !ok {
		return
	}

	var targetIDs []entitystate.EntityID
	histories := make(map[entitystate.EntityID]*simulation.EntityHistoryRing)
	for _, addr := range s.sortedClientAddrs() {
		other := s.clients[addr]
		if other.entity == c.entity {
			continue
		}
		targetIDs = append(targetIDs, other.entity)
		if ring, ok := s.tick.HistoryFor(other.entity); ok {
			histories[other.entity] = ring
		}
	}

	action := simulation.HitscanAction{ShooterClientID: c.id, ShooterReported: f.ReportedPos, TargetIDs: targetIDs}
	rewindTick, hits, err := action.Resolve(
		s.currentTick,
		c.clock.RTT(), s.cfg.InterpDelay(), s.cfg.TickInterval(),
		c.clock.RTT()/2,
		shooter.Position,
		float32(s.cfg.MaxSpeedMps),
		histories,
	)
	if err != nil {
		if verr, ok := err.(simulation.ValidationError); ok {
			if s.suspicion.Add(c.id, simulation.SuspicionPointsMoveTolerance, string(verr)) {
				s.disconnectClient(c, "Suspicion")
			}
		}
		return
	}
	for id, state := range hits {
		log.Debug("hitscan-resolved", "shooter", c.id, "target_entity", id, "rewind_tick", rewindTick, "target_pos", state.Position)
	}
}

func (s *Server) sortedClientAddrs() []string {
	addrs := make([]string, 0, len(s.clients))
	for a := range s.clients {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}

func (s *Server) emitSnapshot(c *client, now time.Time, full statestore.EntityTable) {
	var baseline statestore.EntityTable
	var haveBaseline bool
	ackedTick, everAcked := c.peer.AckedSnapshotTick()
	if everAcked {
		baseline, haveBaseline = s.hist.Baseline(ackedTick)
	}

	var changed []wire.EntityDelta
	var removed []entitystate.EntityID
	baselineTick := entitystate.Tick(0)
	if haveBaseline {
		changed, removed = statestore.EncodeDelta(baseline, full)
		baselineTick = ackedTick
	} else {
		changed, _ = statestore.EncodeDelta(statestore.EntityTable{}, full)
	}

	msg := wire.SnapshotMsg{
		Tick:         s.currentTick,
		BaselineTick: baselineTick,
		Changed:      changed,
		Removed:      removed,
		ClientAcks:   []wire.ClientAck{{ClientID: c.id, LastProcessedInputSeq: c.input.LastProcessed()}},
	}
	t := wire.MsgSnapshotDelta
	if baselineTick == 0 {
		t = wire.MsgSnapshotFull
	}
	seq, err := s.sendFrame(c, t, msg)
	if err == nil {
		c.peer.NoteSnapshotSeq(seq, s.currentTick)
	}
}

type wireEncodable interface{ Encode(w *wire.Writer) error }

// sendFrame sends one unreliable datagram and returns the peer_seq it
// was allocated, so callers (emitSnapshot) can track it for later ack
// resolution (spec §4.4's client-ack-driven baseline advance).
func (s *Server) sendFrame(c *client, t wire.MsgType, body wireEncodable) (uint16, error) {
	bw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := body.Encode(bw); err != nil {
		log.Warn("encode failed", "type", t, "err", err)
		return 0, err
	}
	payloadWriter := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := wire.EncodeFrame(payloadWriter, t, bw.Bytes()); err != nil {
		log.Warn("frame encode failed", "type", t, "err", err)
		return 0, err
	}
	peerAck, ackBits := c.peer.BuildHeader()
	seq := c.peer.NextOutSeq()
	sealed, flags := s.maybeSeal(c, payloadWriter.Bytes(), seq)
	h := wire.Header{PeerSeq: seq, PeerAck: peerAck, AckBits: ackBits, Flags: flags}
	dg, err := wire.EncodeDatagram(make([]byte, 0, wire.MaxDatagramSize+wire.HeaderSize), h, sealed)
	if err != nil {
		log.Warn("datagram encode failed", "type", t, "err", err)
		return 0, err
	}
	if _, err := s.conn.WriteToUDP(dg, c.addr); err != nil {
		log.Warn("send failed", "addr", c.addr, "err", err)
		return 0, err
	}
	s.diag.PacketsSent.Inc()
	return seq, nil
}

// sendReliable enqueues body on c's at-least-once reliable lane (spec
// §4.2, §4.8) and immediately attempts delivery.
func (s *Server) sendReliable(c *client, t wire.MsgType, body wireEncodable) error {
	bw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	if err := body.Encode(bw); err != nil {
		return fmt.Errorf("serverendpoint: encode reliable %s: %w", t, err)
	}
	return s.sendReliableBody(c, t, bw.Bytes())
}

// sendReliableBody is sendReliable for a payload that is already encoded
// bytes (scriptrpc's cbor envelopes have no wire.Writer Encode method).
func (s *Server) sendReliableBody(c *client, t wire.MsgType, body []byte) error {
	c.peer.EnqueueReliable(uint8(t), body)
	return s.flushReliable(c, time.Now())
}

// flushReliable sends one datagram carrying every reliable message for c
// that is newly enqueued or past its retransmit_timeout (spec §4.2).
func (s *Server) flushReliable(c *client, now time.Time) error {
	seq := c.peer.NextOutSeq()
	due := c.peer.DueForSend(now, c.clock.RTT(), seq)
	if len(due) == 0 {
		return nil
	}
	payloadWriter := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
	for _, rm := range due {
		rw := wire.NewWriter(make([]byte, 0, wire.MaxDatagramSize))
		if err := rm.Encode(rw); err != nil {
			return fmt.Errorf("serverendpoint: encode reliable-msg: %w", err)
		}
		if err := wire.EncodeFrame(payloadWriter, wire.MsgReliable, rw.Bytes()); err != nil {
			return fmt.Errorf("serverendpoint: frame reliable-msg: %w", err)
		}
	}
	peerAck, ackBits := c.peer.BuildHeader()
	sealed, flags := s.maybeSeal(c, payloadWriter.Bytes(), seq)
	h := wire.Header{PeerSeq: seq, PeerAck: peerAck, AckBits: ackBits, Flags: flags}
	dg, err := wire.EncodeDatagram(make([]byte, 0, wire.MaxDatagramSize+wire.HeaderSize), h, sealed)
	if err != nil {
		return fmt.Errorf("serverendpoint: datagram reliable: %w", err)
	}
	if _, err := s.conn.WriteToUDP(dg, c.addr); err != nil {
		return fmt.Errorf("serverendpoint: send reliable: %w", err)
	}
	s.diag.PacketsSent.Inc()
	return nil
}

func (s *Server) checkTimeouts(now time.Time) {
	for addr, c := range s.clients {
		if c.peer.TimedOut(now, s.cfg.ConnectionTimeout()) {
			delete(s.clients, addr)
			s.store.Remove(c.entity)
			s.diag.Disconnects.WithLabelValues("PeerTimeout").Inc()
			s.diag.ClientsOnline.Set(float64(len(s.clients)))
		}
	}
}

func (s *Server) disconnectClient(c *client, reason string) {
	c.fsm.Fire(fsm.EventLocalDisconnect, time.Now())
	s.sendReliable(c, wire.MsgDisconnect, wire.Disconnect{Reason: reason})
	delete(s.clients, c.addr.String())
	s.store.Remove(c.entity)
	s.diag.Disconnects.WithLabelValues(reason).Inc()
	s.diag.ClientsOnline.Set(float64(len(s.clients)))
}

// LocalAddr returns the bound listening address, useful when New was
// called with a ":0" port for the OS to pick one.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close releases the listening socket.
func (s *Server) Close() error { return s.conn.Close() }
