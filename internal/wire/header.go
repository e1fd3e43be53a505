package wire

import "fmt"

// Magic identifies a ticknet datagram on the wire (spec §6: "Gz", kept
// from the original protocol sketch as a nod to its lineage).
const Magic uint16 = 0x477A

// ProtocolVersion is the single version byte negotiated at handshake.
const ProtocolVersion uint8 = 1

// MaxDatagramSize bounds a single outbound datagram payload after
// framing overhead (spec §4.1, §6: MTU <= 1200 payload bytes).
const MaxDatagramSize = 1200

// HeaderSize is the fixed byte length of Header when encoded.
const HeaderSize = 2 + 1 + 1 + 2 + 2 + 4 + 2

// Flag bits within Header.Flags (spec §6).
const (
	FlagCompressed uint8 = 1 << 0
	FlagEncrypted  uint8 = 1 << 1
)

// Header is the fixed-size prefix of every datagram (spec §4.1, §6).
type Header struct {
	Magic      uint16
	Version    uint8
	Flags      uint8
	PeerSeq    uint16
	PeerAck    uint16
	AckBits    uint32
	PayloadLen uint16
}

// Encode writes h into w.
func (h Header) Encode(w *Writer) error {
	for _, step := range []func() error{
		func() error { return w.PutU16(h.Magic) },
		func() error { return w.PutU8(h.Version) },
		func() error { return w.PutU8(h.Flags) },
		func() error { return w.PutU16(h.PeerSeq) },
		func() error { return w.PutU16(h.PeerAck) },
		func() error { return w.PutU32(h.AckBits) },
		func() error { return w.PutU16(h.PayloadLen) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// DecodeHeader reads and validates the fixed header from c.
func DecodeHeader(c *Cursor) (Header, error) {
	var h Header
	var err error
	if h.Magic, err = c.U16(); err != nil {
		return h, err
	}
	if h.Magic != Magic {
		return h, decodeErr("bad-magic", fmt.Errorf("got 0x%04X want 0x%04X", h.Magic, Magic))
	}
	if h.Version, err = c.U8(); err != nil {
		return h, err
	}
	if h.Version != ProtocolVersion {
		return h, decodeErr("bad-version", fmt.Errorf("got %d want %d", h.Version, ProtocolVersion))
	}
	if h.Flags, err = c.U8(); err != nil {
		return h, err
	}
	if h.PeerSeq, err = c.U16(); err != nil {
		return h, err
	}
	if h.PeerAck, err = c.U16(); err != nil {
		return h, err
	}
	if h.AckBits, err = c.U32(); err != nil {
		return h, err
	}
	if h.PayloadLen, err = c.U16(); err != nil {
		return h, err
	}
	if c.Remaining() < int(h.PayloadLen) {
		return h, decodeErr("payload-truncated", fmt.Errorf("declared %d, have %d", h.PayloadLen, c.Remaining()))
	}
	return h, nil
}
