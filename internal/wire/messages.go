package wire

import "ticknet/internal/entitystate"

// This file defines the concrete body layouts for every MsgType (spec
// §6). Each type has an Encode (into a Writer) and a Decode (from a
// Cursor) side; both are pure functions over bytes, matching §4.1's
// codec contract.

// Handshake is the client's connection request (spec §4.8).
type Handshake struct {
	ClientVersion uint8
	Capabilities  uint32
}

func (m Handshake) Encode(w *Writer) error {
	if err := w.PutU8(m.ClientVersion); err != nil {
		return err
	}
	return w.PutU32(m.Capabilities)
}

func DecodeHandshake(c *Cursor) (Handshake, error) {
	var m Handshake
	var err error
	if m.ClientVersion, err = c.U8(); err != nil {
		return m, err
	}
	m.Capabilities, err = c.U32()
	return m, err
}

// HandshakeAck is the server's reply accepting protocol/version.
type HandshakeAck struct {
	ServerCapabilities uint32
	AssignedClientID   uint16
}

func (m HandshakeAck) Encode(w *Writer) error {
	if err := w.PutU32(m.ServerCapabilities); err != nil {
		return err
	}
	return w.PutU16(m.AssignedClientID)
}

func DecodeHandshakeAck(c *Cursor) (HandshakeAck, error) {
	var m HandshakeAck
	var err error
	if m.ServerCapabilities, err = c.U32(); err != nil {
		return m, err
	}
	m.AssignedClientID, err = c.U16()
	return m, err
}

// Auth carries client credentials after a successful handshake.
type Auth struct {
	Name  string
	Token string
}

func (m Auth) Encode(w *Writer) error {
	if err := w.PutStr(m.Name); err != nil {
		return err
	}
	return w.PutStr(m.Token)
}

func DecodeAuth(c *Cursor) (Auth, error) {
	var m Auth
	var err error
	if m.Name, err = c.Str(); err != nil {
		return m, err
	}
	m.Token, err = c.Str()
	return m, err
}

// AuthResult reports accept/reject (spec §4.8). Salt carries the
// server's AEAD nonce salt so an accepted client can construct a
// matching Session (internal/aead) for FlagEncrypted traffic; it is
// meaningless when Accepted is false.
type AuthResult struct {
	Accepted bool
	Reason   string
	Salt     [8]byte
}

func (m AuthResult) Encode(w *Writer) error {
	v := uint8(0)
	if m.Accepted {
		v = 1
	}
	if err := w.PutU8(v); err != nil {
		return err
	}
	if err := w.PutStr(m.Reason); err != nil {
		return err
	}
	return w.PutBytes(m.Salt[:])
}

func DecodeAuthResult(c *Cursor) (AuthResult, error) {
	var m AuthResult
	v, err := c.U8()
	if err != nil {
		return m, err
	}
	m.Accepted = v != 0
	if m.Reason, err = c.Str(); err != nil {
		return m, err
	}
	salt, err := c.Bytes(8)
	if err != nil {
		return m, decodeErr("truncated-auth-salt", err)
	}
	copy(m.Salt[:], salt)
	return m, nil
}

// MaxInputRedundancy bounds num_frames in an InputFrameMsg (spec §6).
const MaxInputRedundancy = 8

// InputFrameMsg carries the redundant tail of the client's input buffer
// (spec §4.5, §6).
type InputFrameMsg struct {
	Tick   entitystate.Tick
	Frames []entitystate.InputFrame
}

func (m InputFrameMsg) Encode(w *Writer) error {
	if len(m.Frames) > MaxInputRedundancy {
		return decodeErr("too-many-input-frames", nil)
	}
	if err := w.PutU32(uint32(m.Tick)); err != nil {
		return err
	}
	if err := w.PutU8(uint8(len(m.Frames))); err != nil {
		return err
	}
	for _, f := range m.Frames {
		if err := putInputFrame(w, f); err != nil {
			return err
		}
	}
	return nil
}

func putInputFrame(w *Writer, f entitystate.InputFrame) error {
	for _, step := range []func() error{
		func() error { return w.PutU32(f.Sequence) },
		func() error { return w.PutF32(f.Move.X) },
		func() error { return w.PutF32(f.Move.Y) },
		func() error { return w.PutF32(f.Move.Z) },
		func() error { return w.PutF32(f.LookYaw) },
		func() error { return w.PutF32(f.LookPitch) },
		func() error { return w.PutU32(f.Buttons) },
		func() error { return w.PutF32(f.ReportedPos.X) },
		func() error { return w.PutF32(f.ReportedPos.Y) },
		func() error { return w.PutF32(f.ReportedPos.Z) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func DecodeInputFrameMsg(c *Cursor) (InputFrameMsg, error) {
	var m InputFrameMsg
	tick, err := c.U32()
	if err != nil {
		return m, err
	}
	m.Tick = entitystate.Tick(tick)
	n, err := c.U8()
	if err != nil {
		return m, err
	}
	if n > MaxInputRedundancy {
		return m, decodeErr("too-many-input-frames", nil)
	}
	m.Frames = make([]entitystate.InputFrame, 0, n)
	for i := uint8(0); i < n; i++ {
		f, err := getInputFrame(c)
		if err != nil {
			return m, err
		}
		m.Frames = append(m.Frames, f)
	}
	return m, nil
}

func getInputFrame(c *Cursor) (entitystate.InputFrame, error) {
	var f entitystate.InputFrame
	seq, err := c.U32()
	if err != nil {
		return f, err
	}
	f.Sequence = seq
	vals := make([]float32, 0, 6)
	for i := 0; i < 5; i++ {
		v, err := c.F32()
		if err != nil {
			return f, err
		}
		vals = append(vals, v)
	}
	f.Move = entitystate.Vec3{X: vals[0], Y: vals[1], Z: vals[2]}
	f.LookYaw = vals[3]
	f.LookPitch = vals[4]
	buttons, err := c.U32()
	if err != nil {
		return f, err
	}
	f.Buttons = buttons
	rx, err := c.F32()
	if err != nil {
		return f, err
	}
	ry, err := c.F32()
	if err != nil {
		return f, err
	}
	rz, err := c.F32()
	if err != nil {
		return f, err
	}
	f.ReportedPos = entitystate.Vec3{X: rx, Y: ry, Z: rz}
	f.HasReported = true
	return f, nil
}

// EntityFieldMask selects which EntityState fields a delta entry carries
// (spec §4.4, "Field masks are fixed per kind" — ticknet uses one
// universal mask since EntityState's shape does not vary by kind).
type EntityFieldMask uint32

const (
	FieldPosition EntityFieldMask = 1 << iota
	FieldVelocity
	FieldRotation
	FieldFlags
	FieldKind
	FieldExtra
)

// EntityDelta is one changed-entity record within a snapshot.
type EntityDelta struct {
	ID    entitystate.EntityID
	Mask  EntityFieldMask
	State entitystate.EntityState
}

func putEntityDelta(w *Writer, d EntityDelta) error {
	if err := w.PutU32(uint32(d.ID)); err != nil {
		return err
	}
	if err := w.PutU32(uint32(d.Mask)); err != nil {
		return err
	}
	if d.Mask&FieldKind != 0 {
		if err := w.PutU16(d.State.Kind); err != nil {
			return err
		}
	}
	if d.Mask&FieldPosition != 0 {
		if err := putVec3(w, d.State.Position); err != nil {
			return err
		}
	}
	if d.Mask&FieldVelocity != 0 {
		if err := putVec3(w, d.State.Velocity); err != nil {
			return err
		}
	}
	if d.Mask&FieldRotation != 0 {
		if err := putVec3(w, d.State.Rotation); err != nil {
			return err
		}
	}
	if d.Mask&FieldFlags != 0 {
		if err := w.PutU32(d.State.Flags); err != nil {
			return err
		}
	}
	if d.Mask&FieldExtra != 0 {
		if len(d.State.Extra) > entitystate.MaxExtraBytes {
			return decodeErr("extra-too-large", nil)
		}
		if err := w.PutU16(uint16(len(d.State.Extra))); err != nil {
			return err
		}
		if err := w.PutBytes(d.State.Extra); err != nil {
			return err
		}
	}
	return nil
}

func putVec3(w *Writer, v entitystate.Vec3) error {
	if err := w.PutF32(v.X); err != nil {
		return err
	}
	if err := w.PutF32(v.Y); err != nil {
		return err
	}
	return w.PutF32(v.Z)
}

func getVec3(c *Cursor) (entitystate.Vec3, error) {
	var v entitystate.Vec3
	var err error
	if v.X, err = c.F32(); err != nil {
		return v, err
	}
	if v.Y, err = c.F32(); err != nil {
		return v, err
	}
	v.Z, err = c.F32()
	return v, err
}

func getEntityDelta(c *Cursor) (EntityDelta, error) {
	var d EntityDelta
	id, err := c.U32()
	if err != nil {
		return d, err
	}
	d.ID = entitystate.EntityID(id)
	d.State.ID = d.ID
	mask, err := c.U32()
	if err != nil {
		return d, err
	}
	d.Mask = EntityFieldMask(mask)
	if d.Mask&FieldKind != 0 {
		if d.State.Kind, err = c.U16(); err != nil {
			return d, err
		}
	}
	if d.Mask&FieldPosition != 0 {
		if d.State.Position, err = getVec3(c); err != nil {
			return d, err
		}
	}
	if d.Mask&FieldVelocity != 0 {
		if d.State.Velocity, err = getVec3(c); err != nil {
			return d, err
		}
	}
	if d.Mask&FieldRotation != 0 {
		if d.State.Rotation, err = getVec3(c); err != nil {
			return d, err
		}
	}
	if d.Mask&FieldFlags != 0 {
		if d.State.Flags, err = c.U32(); err != nil {
			return d, err
		}
	}
	if d.Mask&FieldExtra != 0 {
		n, err := c.U16()
		if err != nil {
			return d, err
		}
		extra, err := c.Bytes(int(n))
		if err != nil {
			return d, decodeErr("truncated-extra", err)
		}
		d.State.Extra = append([]byte(nil), extra...)
	}
	return d, nil
}

// ClientAck is a last-processed-input acknowledgement carried in a
// snapshot body (spec §6 "num_clients / client_id / last_processed_input_seq").
type ClientAck struct {
	ClientID              uint16
	LastProcessedInputSeq uint32
}

// SnapshotMsg is shared body layout for both full and delta snapshots
// (spec §3, §6). BaselineTick == 0 marks a self-contained full snapshot.
type SnapshotMsg struct {
	Tick         entitystate.Tick
	BaselineTick entitystate.Tick
	Changed      []EntityDelta
	Removed      []entitystate.EntityID
	ClientAcks   []ClientAck
}

func (m SnapshotMsg) Encode(w *Writer) error {
	if err := w.PutU32(uint32(m.Tick)); err != nil {
		return err
	}
	if err := w.PutU32(uint32(m.BaselineTick)); err != nil {
		return err
	}
	if len(m.Changed) > 0xFFFF || len(m.Removed) > 0xFFFF || len(m.ClientAcks) > 0xFF {
		return decodeErr("snapshot-overflow", nil)
	}
	if err := w.PutU16(uint16(len(m.Changed))); err != nil {
		return err
	}
	for _, d := range m.Changed {
		if err := putEntityDelta(w, d); err != nil {
			return err
		}
	}
	if err := w.PutU16(uint16(len(m.Removed))); err != nil {
		return err
	}
	for _, id := range m.Removed {
		if err := w.PutU32(uint32(id)); err != nil {
			return err
		}
	}
	if err := w.PutU8(uint8(len(m.ClientAcks))); err != nil {
		return err
	}
	for _, a := range m.ClientAcks {
		if err := w.PutU16(a.ClientID); err != nil {
			return err
		}
		if err := w.PutU32(a.LastProcessedInputSeq); err != nil {
			return err
		}
	}
	return nil
}

func DecodeSnapshotMsg(c *Cursor) (SnapshotMsg, error) {
	var m SnapshotMsg
	tick, err := c.U32()
	if err != nil {
		return m, err
	}
	m.Tick = entitystate.Tick(tick)
	baseline, err := c.U32()
	if err != nil {
		return m, err
	}
	m.BaselineTick = entitystate.Tick(baseline)
	numChanged, err := c.U16()
	if err != nil {
		return m, err
	}
	m.Changed = make([]EntityDelta, 0, numChanged)
	for i := uint16(0); i < numChanged; i++ {
		d, err := getEntityDelta(c)
		if err != nil {
			return m, err
		}
		m.Changed = append(m.Changed, d)
	}
	numRemoved, err := c.U16()
	if err != nil {
		return m, err
	}
	m.Removed = make([]entitystate.EntityID, 0, numRemoved)
	for i := uint16(0); i < numRemoved; i++ {
		id, err := c.U32()
		if err != nil {
			return m, err
		}
		m.Removed = append(m.Removed, entitystate.EntityID(id))
	}
	numClients, err := c.U8()
	if err != nil {
		return m, err
	}
	m.ClientAcks = make([]ClientAck, 0, numClients)
	for i := uint8(0); i < numClients; i++ {
		cid, err := c.U16()
		if err != nil {
			return m, err
		}
		seq, err := c.U32()
		if err != nil {
			return m, err
		}
		m.ClientAcks = append(m.ClientAcks, ClientAck{ClientID: cid, LastProcessedInputSeq: seq})
	}
	return m, nil
}

// ReliableMsg wraps an opaque, reliably-delivered application payload
// (chat, mod-event, script RPC — spec §4.2, §9).
type ReliableMsg struct {
	ReliableID uint32
	SubType    uint8
	Payload    []byte
}

func (m ReliableMsg) Encode(w *Writer) error {
	if err := w.PutU32(m.ReliableID); err != nil {
		return err
	}
	if err := w.PutU8(m.SubType); err != nil {
		return err
	}
	return w.PutBytes(m.Payload)
}

func DecodeReliableMsg(c *Cursor) (ReliableMsg, error) {
	var m ReliableMsg
	var err error
	if m.ReliableID, err = c.U32(); err != nil {
		return m, err
	}
	if m.SubType, err = c.U8(); err != nil {
		return m, err
	}
	m.Payload, err = c.Bytes(c.Remaining())
	return m, err
}

// ClockPing/ClockPong implement the RTT+offset exchange (spec §4.3).
type ClockPing struct {
	TSend int64
}

func (m ClockPing) Encode(w *Writer) error { return w.PutU32(uint32(m.TSend)) }

func DecodeClockPing(c *Cursor) (ClockPing, error) {
	v, err := c.U32()
	return ClockPing{TSend: int64(v)}, err
}

type ClockPong struct {
	TSend int64
	TRecv int64
}

func (m ClockPong) Encode(w *Writer) error {
	if err := w.PutU32(uint32(m.TSend)); err != nil {
		return err
	}
	return w.PutU32(uint32(m.TRecv))
}

func DecodeClockPong(c *Cursor) (ClockPong, error) {
	var m ClockPong
	send, err := c.U32()
	if err != nil {
		return m, err
	}
	recv, err := c.U32()
	if err != nil {
		return m, err
	}
	return ClockPong{TSend: int64(send), TRecv: int64(recv)}, nil
}

// Disconnect carries a human-readable disconnect reason.
type Disconnect struct {
	Reason string
}

func (m Disconnect) Encode(w *Writer) error { return w.PutStr(m.Reason) }

func DecodeDisconnect(c *Cursor) (Disconnect, error) {
	reason, err := c.Str()
	return Disconnect{Reason: reason}, err
}

// ScriptRPC and VarSync both carry an opaque cbor-encoded envelope
// (internal/scriptrpc) — the core treats them as producer/consumer
// payloads only (design note 9), so their wire body is just raw bytes.
type ScriptRPC struct {
	Payload []byte
}

func (m ScriptRPC) Encode(w *Writer) error { return w.PutBytes(m.Payload) }

func DecodeScriptRPC(c *Cursor) (ScriptRPC, error) {
	b, err := c.Bytes(c.Remaining())
	return ScriptRPC{Payload: b}, err
}

type VarSync struct {
	Payload []byte
}

func (m VarSync) Encode(w *Writer) error { return w.PutBytes(m.Payload) }

func DecodeVarSync(c *Cursor) (VarSync, error) {
	b, err := c.Bytes(c.Remaining())
	return VarSync{Payload: b}, err
}
