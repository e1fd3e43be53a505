package wire

import "fmt"

// MsgType identifies a logical message packed into a datagram payload
// (spec §6). The set is closed and dispatched via exhaustive switch, not
// heterogeneous handler registration (design note 9).
type MsgType uint8

const (
	MsgHandshake       MsgType = 0
	MsgHandshakeAck    MsgType = 1
	MsgAuth            MsgType = 2
	MsgAuthResult      MsgType = 3
	MsgInputFrame      MsgType = 4
	MsgSnapshotFull    MsgType = 5
	MsgSnapshotDelta   MsgType = 6
	MsgReliable        MsgType = 7
	MsgClockPing       MsgType = 8
	MsgClockPong       MsgType = 9
	MsgDisconnect      MsgType = 10
	MsgScriptRPC       MsgType = 11
	MsgVarSync         MsgType = 12
)

func (t MsgType) String() string {
	switch t {
	case MsgHandshake:
		return "handshake"
	case MsgHandshakeAck:
		return "handshake-ack"
	case MsgAuth:
		return "auth"
	case MsgAuthResult:
		return "auth-result"
	case MsgInputFrame:
		return "input-frame"
	case MsgSnapshotFull:
		return "snapshot-full"
	case MsgSnapshotDelta:
		return "snapshot-delta"
	case MsgReliable:
		return "reliable-msg"
	case MsgClockPing:
		return "clock-ping"
	case MsgClockPong:
		return "clock-pong"
	case MsgDisconnect:
		return "disconnect"
	case MsgScriptRPC:
		return "script-rpc"
	case MsgVarSync:
		return "var-sync"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func validMsgType(t MsgType) bool {
	return t <= MsgVarSync
}

// Frame is one logical message as packed into a datagram payload:
// type:u8 | len:u16 | body:bytes[len].
type Frame struct {
	Type MsgType
	Body []byte
}

// EncodeFrame appends a frame to w.
func EncodeFrame(w *Writer, t MsgType, body []byte) error {
	if len(body) > 0xFFFF {
		return fmt.Errorf("wire: frame body too large (%d bytes)", len(body))
	}
	if err := w.PutU8(uint8(t)); err != nil {
		return err
	}
	if err := w.PutU16(uint16(len(body))); err != nil {
		return err
	}
	return w.PutBytes(body)
}

// DecodeFrames splits a payload into its constituent frames. A frame with
// an unknown type is a classified decode error (spec §4.1): the whole
// datagram is rejected rather than partially applied.
func DecodeFrames(payload []byte) ([]Frame, error) {
	c := NewCursor(payload)
	var frames []Frame
	for c.Remaining() > 0 {
		typByte, err := c.U8()
		if err != nil {
			return nil, err
		}
		t := MsgType(typByte)
		if !validMsgType(t) {
			return nil, decodeErr("unknown-message-type", fmt.Errorf("type %d", typByte))
		}
		n, err := c.U16()
		if err != nil {
			return nil, err
		}
		body, err := c.Bytes(int(n))
		if err != nil {
			return nil, decodeErr("truncated-frame-body", err)
		}
		frames = append(frames, Frame{Type: t, Body: body})
	}
	return frames, nil
}

// Datagram is a fully decoded incoming packet: its reliability header and
// the logical messages it carried.
type Datagram struct {
	Header Header
	Frames []Frame
}

// DecodeHeaderAndPayload decodes just the fixed header and returns the
// raw payload bytes without parsing frames. Callers whose connection may
// use FlagEncrypted must decrypt the payload before calling DecodeFrames
// on it; DecodeDatagram below is only correct for unencrypted traffic.
func DecodeHeaderAndPayload(raw []byte) (Header, []byte, error) {
	c := NewCursor(raw)
	h, err := DecodeHeader(c)
	if err != nil {
		return Header{}, nil, err
	}
	payload, err := c.Bytes(int(h.PayloadLen))
	if err != nil {
		return Header{}, nil, decodeErr("payload-truncated", err)
	}
	return h, payload, nil
}

// DecodeDatagram validates the header and splits the payload into frames.
func DecodeDatagram(raw []byte) (Datagram, error) {
	h, payload, err := DecodeHeaderAndPayload(raw)
	if err != nil {
		return Datagram{}, err
	}
	frames, err := DecodeFrames(payload)
	if err != nil {
		return Datagram{}, err
	}
	return Datagram{Header: h, Frames: frames}, nil
}

// EncodeDatagram packs a header and pre-encoded frame payload into
// scratch. The caller is responsible for having already appended frames
// into payload via EncodeFrame; Magic, Version and PayloadLen are set
// here, overriding whatever h carried.
func EncodeDatagram(scratch []byte, h Header, payload []byte) ([]byte, error) {
	h.Magic = Magic
	h.Version = ProtocolVersion
	h.PayloadLen = uint16(len(payload))
	w := NewWriter(scratch)
	if err := h.Encode(w); err != nil {
		return nil, err
	}
	if err := w.PutBytes(payload); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
