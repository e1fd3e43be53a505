package wire

import (
	"bytes"
	"testing"

	"ticknet/internal/entitystate"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		Flags:   FlagEncrypted,
		PeerSeq: 42,
		PeerAck: 41,
		AckBits: 0xABCD1234,
	}
	payload := []byte{byte(MsgClockPing), 1, 0, 4} // one frame: type, len=1, body
	scratch := make([]byte, 0, MaxDatagramSize)
	raw, err := EncodeDatagram(scratch, h, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	dg, err := DecodeDatagram(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dg.Header.PeerSeq != 42 || dg.Header.PeerAck != 41 || dg.Header.AckBits != 0xABCD1234 {
		t.Errorf("header mismatch: %+v", dg.Header)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := []byte{0x00, 0x00, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	_, err := DecodeDatagram(raw)
	if err == nil {
		t.Fatal("expected decode error for bad magic")
	}
	var de *DecodeError
	if !isDecodeError(err, &de) {
		t.Fatalf("expected *DecodeError, got %T", err)
	}
	if de.Kind != "bad-magic" {
		t.Errorf("got kind %q", de.Kind)
	}
}

func isDecodeError(err error, target **DecodeError) bool {
	de, ok := err.(*DecodeError)
	if ok {
		*target = de
	}
	return ok
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	h := Header{PayloadLen: 100}
	w := NewWriter(make([]byte, 0, HeaderSize))
	h.Magic = Magic
	h.Version = ProtocolVersion
	_ = h.Encode(w)
	_, err := DecodeDatagram(w.Bytes())
	if err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	w := NewWriter(make([]byte, 0, MaxDatagramSize))
	if err := EncodeFrame(w, MsgClockPing, []byte{9, 9, 9, 9}); err != nil {
		t.Fatal(err)
	}
	if err := EncodeFrame(w, MsgDisconnect, []byte("bye")); err != nil {
		t.Fatal(err)
	}
	frames, err := DecodeFrames(w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0].Type != MsgClockPing || !bytes.Equal(frames[0].Body, []byte{9, 9, 9, 9}) {
		t.Errorf("frame 0 mismatch: %+v", frames[0])
	}
	if frames[1].Type != MsgDisconnect || string(frames[1].Body) != "bye" {
		t.Errorf("frame 1 mismatch: %+v", frames[1])
	}
}

func TestDecodeFramesRejectsUnknownType(t *testing.T) {
	w := NewWriter(make([]byte, 0, 16))
	_ = w.PutU8(200)
	_ = w.PutU16(0)
	_, err := DecodeFrames(w.Bytes())
	if err == nil {
		t.Fatal("expected unknown-type decode error")
	}
}

func TestInputFrameMsgRoundTrip(t *testing.T) {
	msg := InputFrameMsg{
		Tick: 100,
		Frames: []entitystate.InputFrame{
			{Sequence: 1, Move: entitystate.Vec3{X: 1, Y: 0, Z: -1}, LookYaw: 90, Buttons: 0x3},
			{Sequence: 2, Move: entitystate.Vec3{X: 0.5, Y: 0.5, Z: 0}, LookYaw: 45, Buttons: 0x1},
		},
	}
	w := NewWriter(make([]byte, 0, MaxDatagramSize))
	if err := msg.Encode(w); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeInputFrameMsg(NewCursor(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tick != msg.Tick || len(got.Frames) != 2 {
		t.Fatalf("mismatch: %+v", got)
	}
	if got.Frames[0].Sequence != 1 || got.Frames[0].Move != msg.Frames[0].Move {
		t.Errorf("frame 0 mismatch: %+v", got.Frames[0])
	}
}

func TestSnapshotMsgRoundTrip(t *testing.T) {
	msg := SnapshotMsg{
		Tick:         500,
		BaselineTick: 400,
		Changed: []EntityDelta{
			{ID: 7, Mask: FieldPosition | FieldFlags, State: entitystate.EntityState{
				Position: entitystate.Vec3{X: 1, Y: 2, Z: 3}, Flags: 0xFF,
			}},
		},
		Removed:    []entitystate.EntityID{9},
		ClientAcks: []ClientAck{{ClientID: 3, LastProcessedInputSeq: 77}},
	}
	w := NewWriter(make([]byte, 0, MaxDatagramSize))
	if err := msg.Encode(w); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSnapshotMsg(NewCursor(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tick != 500 || got.BaselineTick != 400 {
		t.Fatalf("tick mismatch: %+v", got)
	}
	if len(got.Changed) != 1 || got.Changed[0].State.Position != msg.Changed[0].State.Position {
		t.Fatalf("changed mismatch: %+v", got.Changed)
	}
	if len(got.Removed) != 1 || got.Removed[0] != 9 {
		t.Fatalf("removed mismatch: %+v", got.Removed)
	}
	if len(got.ClientAcks) != 1 || got.ClientAcks[0].LastProcessedInputSeq != 77 {
		t.Fatalf("acks mismatch: %+v", got.ClientAcks)
	}
}

func TestEmptySnapshotIsUnchanged(t *testing.T) {
	msg := SnapshotMsg{Tick: 10, BaselineTick: 5}
	w := NewWriter(make([]byte, 0, MaxDatagramSize))
	if err := msg.Encode(w); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeSnapshotMsg(NewCursor(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Changed) != 0 || len(got.Removed) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", got)
	}
}

func TestAuthResultRoundTripCarriesSalt(t *testing.T) {
	msg := AuthResult{Accepted: true, Salt: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	w := NewWriter(make([]byte, 0, 32))
	if err := msg.Encode(w); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeAuthResult(NewCursor(w.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Accepted || got.Salt != msg.Salt {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestDecodeHeaderAndPayloadLeavesPayloadUnparsed(t *testing.T) {
	h := Header{PeerSeq: 7, PeerAck: 6}
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw, err := EncodeDatagram(make([]byte, 0, MaxDatagramSize), h, payload)
	if err != nil {
		t.Fatal(err)
	}
	gotHeader, gotPayload, err := DecodeHeaderAndPayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader.PeerSeq != 7 || gotHeader.PeerAck != 6 {
		t.Fatalf("header mismatch: %+v", gotHeader)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", gotPayload, payload)
	}
}

func TestHuffmanRoundTrip(t *testing.T) {
	src := []byte{0, 0, 0, 1, 2, 3, 0xFF, 0, 42, 42, 42, 0}
	enc, bitLen := HuffmanEncode(src)
	dec := HuffmanDecode(enc, bitLen)
	if !bytes.Equal(dec, src) {
		t.Fatalf("huffman round trip mismatch: got %v want %v", dec, src)
	}
}
