package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeError classifies a codec failure so callers (transport,
// endpoints) can decide whether to drop a single datagram or escalate to
// ProtocolError (spec §4.1, §7).
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: %s: %v", e.Kind, e.Err) }
func (e *DecodeError) Unwrap() error  { return e.Err }

func decodeErr(kind string, err error) error {
	return &DecodeError{Kind: kind, Err: err}
}

// Cursor is a bounded reader over a byte slice; it never allocates. All
// integers are little-endian per spec §4.1.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf for reading starting at offset 0.
func NewCursor(buf []byte) *Cursor { return &Cursor{buf: buf} }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return decodeErr("buffer-underrun", fmt.Errorf("need %d bytes, have %d", n, c.Remaining()))
	}
	return nil
}

// Bytes reads n raw bytes, returning a sub-slice of the underlying buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// U8 reads one byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// F32 reads a little-endian IEEE-754 float32.
func (c *Cursor) F32() (float32, error) {
	v, err := c.U32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Str reads a u16-length-prefixed UTF-8 string.
func (c *Cursor) Str() (string, error) {
	n, err := c.U16()
	if err != nil {
		return "", err
	}
	b, err := c.Bytes(int(n))
	if err != nil {
		return "", decodeErr("truncated-string", err)
	}
	return string(b), nil
}

// Writer accumulates an outbound datagram into a caller-owned scratch
// buffer sized to MaxDatagramSize; it never grows beyond that cap (spec
// §4.1: "MUST NOT allocate beyond a bounded scratch buffer").
type Writer struct {
	buf []byte
}

// NewWriter wraps scratch (len 0, cap >= MaxDatagramSize) for writing.
func NewWriter(scratch []byte) *Writer {
	return &Writer{buf: scratch[:0]}
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) checkCap(n int) error {
	if len(w.buf)+n > cap(w.buf) {
		return fmt.Errorf("wire: scratch buffer exhausted (cap %d, need %d more)", cap(w.buf), n)
	}
	return nil
}

// PutU8 appends a byte, returning an error if the scratch buffer is full.
func (w *Writer) PutU8(v uint8) error {
	if err := w.checkCap(1); err != nil {
		return err
	}
	w.buf = append(w.buf, v)
	return nil
}

// PutU16 appends a little-endian uint16.
func (w *Writer) PutU16(v uint16) error {
	if err := w.checkCap(2); err != nil {
		return err
	}
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return nil
}

// PutU32 appends a little-endian uint32.
func (w *Writer) PutU32(v uint32) error {
	if err := w.checkCap(4); err != nil {
		return err
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return nil
}

// PutF32 appends a little-endian IEEE-754 float32.
func (w *Writer) PutF32(v float32) error {
	return w.PutU32(math.Float32bits(v))
}

// PutBytes appends raw bytes verbatim.
func (w *Writer) PutBytes(b []byte) error {
	if err := w.checkCap(len(b)); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}

// PutStr appends a u16-length-prefixed UTF-8 string.
func (w *Writer) PutStr(s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("wire: string too long (%d bytes)", len(s))
	}
	if err := w.PutU16(uint16(len(s))); err != nil {
		return err
	}
	return w.PutBytes([]byte(s))
}
