package transport

import (
	"testing"
	"time"

	"ticknet/internal/entitystate"
	"ticknet/internal/wire"
)

func datagram(peerSeq uint16, frames ...wire.Frame) wire.Datagram {
	return wire.Datagram{Header: wire.Header{PeerSeq: peerSeq}, Frames: frames}
}

func TestDedupeWindowRejectsDuplicatesAndOutOfWindow(t *testing.T) {
	var d dedupeWindow
	if !d.Accept(10) {
		t.Fatal("first sequence should be accepted")
	}
	if d.Accept(10) {
		t.Fatal("exact duplicate must be rejected")
	}
	if !d.Accept(11) {
		t.Fatal("next sequence should be accepted")
	}
	if d.Accept(11) {
		t.Fatal("duplicate of 11 must be rejected")
	}
	if !d.Accept(9) {
		t.Fatal("out-of-order but in-window sequence should be accepted once")
	}
	if d.Accept(9) {
		t.Fatal("duplicate of 9 must be rejected")
	}
}

func TestDedupeWindowHandlesWrap(t *testing.T) {
	var d dedupeWindow
	d.Accept(65530)
	for i := 0; i < 10; i++ {
		seq := uint16(65530 + i + 1) // wraps past 65535
		if !d.Accept(seq) {
			t.Fatalf("sequence %d should be accepted across wrap", seq)
		}
	}
}

func TestPeerDeliversUnreliableImmediately(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	dg := datagram(1, wire.Frame{Type: wire.MsgClockPing, Body: []byte{1}})
	res := p.OnDatagram(now, dg)
	if res.Duplicate {
		t.Fatal("first datagram must not be a duplicate")
	}
	if len(res.Unreliable) != 1 {
		t.Fatalf("expected 1 unreliable frame, got %d", len(res.Unreliable))
	}
}

func TestPeerDeduplicatesDatagrams(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	dg := datagram(5)
	p.OnDatagram(now, dg)
	res := p.OnDatagram(now, dg)
	if !res.Duplicate {
		t.Fatal("repeat datagram must be flagged duplicate")
	}
}

func encodeReliable(id uint32, payload string) wire.Frame {
	w := wire.NewWriter(make([]byte, 0, 128))
	_ = wire.ReliableMsg{ReliableID: id, Payload: []byte(payload)}.Encode(w)
	return wire.Frame{Type: wire.MsgReliable, Body: w.Bytes()}
}

func TestPeerOrdersReliableMessagesAndDedupes(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)

	// Message 1 arrives before message 0: must buffer until 0 arrives.
	res := p.OnDatagram(now, datagram(1, encodeReliable(1, "second")))
	if len(res.ReliableInOrder) != 0 {
		t.Fatalf("out-of-order message must not be delivered yet, got %+v", res.ReliableInOrder)
	}

	res = p.OnDatagram(now, datagram(2, encodeReliable(0, "first")))
	if len(res.ReliableInOrder) != 2 {
		t.Fatalf("expected prefix of 2 delivered, got %d", len(res.ReliableInOrder))
	}
	if string(res.ReliableInOrder[0].Body) != "first" || string(res.ReliableInOrder[1].Body) != "second" {
		t.Fatalf("wrong order: %+v", res.ReliableInOrder)
	}

	// Re-delivery of message 0 (at-least-once) must be deduped.
	res = p.OnDatagram(now, datagram(3, encodeReliable(0, "first")))
	if len(res.ReliableInOrder) != 0 {
		t.Fatalf("duplicate reliable message must not redeliver, got %+v", res.ReliableInOrder)
	}
}

func TestReliableLaneRetransmitsUntilAcked(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	id := p.EnqueueReliable(0, []byte("hello"))

	due := p.DueForSend(now, 10*time.Millisecond, 100)
	if len(due) != 1 || due[0].ReliableID != id {
		t.Fatalf("expected the new message due immediately, got %+v", due)
	}

	// Not yet due again (timeout not elapsed).
	due = p.DueForSend(now, 10*time.Millisecond, 101)
	if len(due) != 0 {
		t.Fatalf("message should not be due again yet, got %+v", due)
	}

	// After retransmit_timeout elapses, it comes due on a fresh peer_seq.
	later := now.Add(200 * time.Millisecond)
	due = p.DueForSend(later, 10*time.Millisecond, 102)
	if len(due) != 1 {
		t.Fatalf("expected retransmission, got %+v", due)
	}

	// Acking the most recent carrying peer_seq removes it from pending.
	p.ApplyAcks(102, 0)
	if p.PendingCount() != 0 {
		t.Fatalf("expected pending cleared after ack, got %d", p.PendingCount())
	}
}

func TestApplyAcksCoversAckBitsWindow(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	p.EnqueueReliable(0, []byte("a"))
	due := p.DueForSend(now, time.Millisecond, 50)
	if len(due) != 1 {
		t.Fatal("expected one message due")
	}
	// Ack peer_seq 53, with bit 2 (53-2-1=50) set.
	p.ApplyAcks(53, 1<<2)
	if p.PendingCount() != 0 {
		t.Fatalf("expected ack via ack_bits to clear pending, got %d", p.PendingCount())
	}
}

func TestDecodeErrorThresholdEscalates(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	var escalated bool
	for i := 0; i <= DecodeErrorThreshold; i++ {
		escalated = p.NoteDecodeError(now)
	}
	if !escalated {
		t.Fatal("expected protocol error escalation after threshold exceeded")
	}
}

func TestSnapshotAckAdvancesBaselineOnAck(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)

	if _, ok := p.AckedSnapshotTick(); ok {
		t.Fatal("no snapshot should be acked yet")
	}

	p.NoteSnapshotSeq(10, 100)
	p.NoteSnapshotSeq(11, 101)
	p.NoteSnapshotSeq(12, 102)

	// Acking seq 11 should not pick up seq 12's later tick.
	p.ApplyAcks(11, 0)
	tick, ok := p.AckedSnapshotTick()
	if !ok || tick != 101 {
		t.Fatalf("expected baseline tick 101, got %d (ok=%v)", tick, ok)
	}

	// A later ack for an earlier seq must not regress the baseline.
	p.ApplyAcks(10, 0)
	tick, ok = p.AckedSnapshotTick()
	if !ok || tick != 101 {
		t.Fatalf("expected baseline tick to stay at 101, got %d (ok=%v)", tick, ok)
	}

	p.ApplyAcks(12, 0)
	tick, ok = p.AckedSnapshotTick()
	if !ok || tick != 102 {
		t.Fatalf("expected baseline tick to advance to 102, got %d (ok=%v)", tick, ok)
	}
}

func TestSnapshotSeqWindowPrunesOldestEntries(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)

	for i := 0; i < snapshotSeqWindow+10; i++ {
		p.NoteSnapshotSeq(uint16(i), entitystate.Tick(i))
	}
	if len(p.snapshotSeqTick) != snapshotSeqWindow {
		t.Fatalf("expected window capped at %d entries, got %d", snapshotSeqWindow, len(p.snapshotSeqTick))
	}
	if _, tracked := p.snapshotSeqTick[0]; tracked {
		t.Fatal("oldest entry should have been pruned")
	}
}

func TestPeerTimeout(t *testing.T) {
	now := time.Now()
	p := NewPeer(now)
	if p.TimedOut(now.Add(5*time.Second), 10*time.Second) {
		t.Fatal("should not be timed out yet")
	}
	if !p.TimedOut(now.Add(11*time.Second), 10*time.Second) {
		t.Fatal("should be timed out")
	}
}
