// Package transport implements the per-peer reliability layer of spec
// §4.2: outbound sequencing, ack/ack-bits, duplicate suppression, and an
// at-least-once reliable lane layered on top of unreliable datagrams.
// Grounded on source/server/... session bookkeeping
// (Session.SendQueue/RecoveryQueue/ACKQueue) from the teacher, adapted
// from RakNet's 24-bit/bitfield scheme to the fixed 16/32-bit scheme
// spec §6 pins.
package transport

import (
	"sort"
	"time"

	"ticknet/internal/entitystate"
	"ticknet/internal/wire"
)

// DecodeErrorThreshold is the count of decode errors within
// decodeErrorWindow that escalates to ProtocolError (spec §4.2).
const DecodeErrorThreshold = 20

const decodeErrorWindow = 1 * time.Second

// reliableDedupeWindow bounds how many recently-delivered reliable_ids a
// receiver remembers for at-least-once dedup (spec §4.2).
const reliableDedupeWindow = 4096

const minRetransmitTimeout = 100 * time.Millisecond

// snapshotSeqWindow bounds how many outstanding snapshot-carrying
// peer_seqs a Peer tracks awaiting ack, pruned oldest-first (spec §4.4's
// client-ack-driven baseline advance reuses the same peer_seq/ack_bits
// mechanism as the reliable lane, so no new wire message is needed).
const snapshotSeqWindow = 256

type pendingReliable struct {
	subType   uint8
	payload   []byte
	firstSent time.Time
	lastSent  time.Time
	peerSeq   uint16
}

// Peer is the reliability state ticknet keeps for one remote endpoint
// (spec §4.2's "per-peer" bookkeeping).
type Peer struct {
	outSeq uint16
	dedupe dedupeWindow

	nextReliableID   uint32
	pending          map[uint32]*pendingReliable // reliable_id -> in-flight message
	seqCarries       map[uint16][]uint32          // outbound peer_seq -> reliable_ids it carried

	recvReliableSeen map[uint32]time.Time // dedup set for inbound reliable_id
	recvNextOrdered  uint32
	recvReorder      map[uint32]wire.ReliableMsg

	snapshotSeqTick   map[uint16]entitystate.Tick // outbound peer_seq -> snapshot tick it carried
	snapshotSeqOrder  []uint16                    // insertion order, for bounded pruning
	ackedSnapshotTick entitystate.Tick
	haveAckedSnapshot bool

	decodeErrTimes []time.Time

	lastRecvTime time.Time
}

// NewPeer constructs reliability state for a newly accepted/connecting peer.
func NewPeer(now time.Time) *Peer {
	return &Peer{
		pending:          make(map[uint32]*pendingReliable),
		seqCarries:       make(map[uint16][]uint32),
		recvReliableSeen: make(map[uint32]time.Time),
		recvReorder:      make(map[uint32]wire.ReliableMsg),
		snapshotSeqTick:  make(map[uint16]entitystate.Tick),
		lastRecvTime:     now,
	}
}

// NextOutSeq allocates the next outbound peer_seq.
func (p *Peer) NextOutSeq() uint16 {
	seq := p.outSeq
	p.outSeq++
	return seq
}

// BuildHeader fills the ack-related fields of an outbound header from
// this peer's receive state; the caller supplies PeerSeq/Flags/Version.
func (p *Peer) BuildHeader() (peerAck uint16, ackBits uint32) {
	return p.dedupe.AckBits()
}

// EnqueueReliable registers a new reliable message awaiting its first
// send, returning the assigned reliable_id (spec §4.2).
func (p *Peer) EnqueueReliable(subType uint8, payload []byte) uint32 {
	id := p.nextReliableID
	p.nextReliableID++
	body := make([]byte, len(payload))
	copy(body, payload)
	p.pending[id] = &pendingReliable{subType: subType, payload: body}
	return id
}

// DueForSend returns pending reliable messages that have never been sent,
// or whose retransmit_timeout = max(3*rtt, 100ms) has elapsed (spec
// §4.2), and records that they are being (re)carried by outPeerSeq.
func (p *Peer) DueForSend(now time.Time, rtt time.Duration, outPeerSeq uint16) []wire.ReliableMsg {
	timeout := 3 * rtt
	if timeout < minRetransmitTimeout {
		timeout = minRetransmitTimeout
	}

	ids := make([]uint32, 0, len(p.pending))
	for id, pr := range p.pending {
		if pr.lastSent.IsZero() || now.Sub(pr.lastSent) >= timeout {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]wire.ReliableMsg, 0, len(ids))
	for _, id := range ids {
		pr := p.pending[id]
		if !pr.lastSent.IsZero() {
			// retransmission: drop its old peer_seq association.
			p.forgetCarry(pr.peerSeq, id)
		}
		pr.lastSent = now
		if pr.firstSent.IsZero() {
			pr.firstSent = now
		}
		pr.peerSeq = outPeerSeq
		p.seqCarries[outPeerSeq] = append(p.seqCarries[outPeerSeq], id)
		out = append(out, wire.ReliableMsg{ReliableID: id, SubType: pr.subType, Payload: pr.payload})
	}
	return out
}

func (p *Peer) forgetCarry(seq uint16, id uint32) {
	ids := p.seqCarries[seq]
	for i, v := range ids {
		if v == id {
			p.seqCarries[seq] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(p.seqCarries[seq]) == 0 {
		delete(p.seqCarries, seq)
	}
}

// ApplyAcks removes every reliable message carried by an acked outbound
// peer_seq from the pending set (spec §4.2).
func (p *Peer) ApplyAcks(peerAck uint16, ackBits uint32) {
	p.ackOne(peerAck)
	for i := uint32(0); i < 32; i++ {
		if ackBits&(1<<i) != 0 {
			p.ackOne(uint16(int32(peerAck) - int32(i) - 1))
		}
	}
}

func (p *Peer) ackOne(seq uint16) {
	ids, ok := p.seqCarries[seq]
	if ok {
		for _, id := range ids {
			delete(p.pending, id)
		}
		delete(p.seqCarries, seq)
	}
	if tick, ok := p.snapshotSeqTick[seq]; ok {
		delete(p.snapshotSeqTick, seq)
		if !p.haveAckedSnapshot || tick.After(p.ackedSnapshotTick) {
			p.ackedSnapshotTick = tick
			p.haveAckedSnapshot = true
		}
	}
}

// NoteSnapshotSeq records that the outbound datagram allocated seq
// carried the snapshot emitted at tick, so a later ack of that seq can
// advance the delta baseline (spec §4.4) without any new wire message.
func (p *Peer) NoteSnapshotSeq(seq uint16, tick entitystate.Tick) {
	if _, exists := p.snapshotSeqTick[seq]; !exists {
		p.snapshotSeqOrder = append(p.snapshotSeqOrder, seq)
	}
	p.snapshotSeqTick[seq] = tick
	for len(p.snapshotSeqOrder) > snapshotSeqWindow {
		oldest := p.snapshotSeqOrder[0]
		p.snapshotSeqOrder = p.snapshotSeqOrder[1:]
		delete(p.snapshotSeqTick, oldest)
	}
}

// AckedSnapshotTick returns the most recent snapshot tick the peer has
// acked, if any, for use as the next outbound delta baseline.
func (p *Peer) AckedSnapshotTick() (entitystate.Tick, bool) {
	return p.ackedSnapshotTick, p.haveAckedSnapshot
}

// PendingCount returns the number of not-yet-acked reliable messages.
func (p *Peer) PendingCount() int { return len(p.pending) }

// InboundResult is what OnDatagram delivers to the application per
// received datagram.
type InboundResult struct {
	Duplicate       bool
	Unreliable      []wire.Frame
	ReliableInOrder []wire.Frame // exhaustive-ordered, deduped, contiguous prefix
}

// OnDatagram processes one successfully-decoded datagram: dedupes by
// peer_seq, updates the receive window used for future ack_bits, and
// splits frames into unreliable (delivered immediately) and reliable
// (deduped + reordered to a contiguous prefix) per spec §4.2.
func (p *Peer) OnDatagram(now time.Time, dg wire.Datagram) InboundResult {
	p.lastRecvTime = now
	fresh := p.dedupe.Accept(dg.Header.PeerSeq)
	if !fresh {
		return InboundResult{Duplicate: true}
	}

	var res InboundResult
	for _, f := range dg.Frames {
		if f.Type != wire.MsgReliable {
			res.Unreliable = append(res.Unreliable, f)
			continue
		}
		rm, err := wire.DecodeReliableMsg(wire.NewCursor(f.Body))
		if err != nil {
			continue
		}
		p.acceptReliable(rm)
	}
	res.ReliableInOrder = p.drainOrdered()
	return res
}

func (p *Peer) acceptReliable(rm wire.ReliableMsg) {
	if _, dup := p.recvReliableSeen[rm.ReliableID]; dup {
		return
	}
	p.recvReliableSeen[rm.ReliableID] = time.Now()
	if len(p.recvReliableSeen) > reliableDedupeWindow {
		p.pruneReliableSeen()
	}
	if rm.ReliableID < p.recvNextOrdered {
		return // already delivered and advanced past
	}
	p.recvReorder[rm.ReliableID] = rm
}

func (p *Peer) pruneReliableSeen() {
	type idAt struct {
		id uint32
		t  time.Time
	}
	all := make([]idAt, 0, len(p.recvReliableSeen))
	for id, t := range p.recvReliableSeen {
		all = append(all, idAt{id, t})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].t.Before(all[j].t) })
	drop := len(all) - reliableDedupeWindow/2
	for i := 0; i < drop; i++ {
		delete(p.recvReliableSeen, all[i].id)
	}
}

func (p *Peer) drainOrdered() []wire.Frame {
	var out []wire.Frame
	for {
		rm, ok := p.recvReorder[p.recvNextOrdered]
		if !ok {
			break
		}
		delete(p.recvReorder, p.recvNextOrdered)
		out = append(out, wire.Frame{Type: wire.MsgType(rm.SubType), Body: rm.Payload})
		p.recvNextOrdered++
	}
	return out
}

// NoteDecodeError records a decode failure and reports whether the
// decode-error rate within the last second exceeds DecodeErrorThreshold,
// which the connection FSM treats as ProtocolError (spec §4.2, §7).
func (p *Peer) NoteDecodeError(now time.Time) (protocolError bool) {
	p.decodeErrTimes = append(p.decodeErrTimes, now)
	cutoff := now.Add(-decodeErrorWindow)
	i := 0
	for ; i < len(p.decodeErrTimes); i++ {
		if p.decodeErrTimes[i].After(cutoff) {
			break
		}
	}
	p.decodeErrTimes = p.decodeErrTimes[i:]
	return len(p.decodeErrTimes) > DecodeErrorThreshold
}

// TimedOut reports whether no valid datagram has been received within
// timeout (spec §4.2 PeerTimeout).
func (p *Peer) TimedOut(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.lastRecvTime) > timeout
}
