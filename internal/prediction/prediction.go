// Package prediction implements the client-side predict/reconcile loop
// of spec §4.5: local input replay against the last authoritative
// snapshot, with smoothing or snapping to converge on server truth.
package prediction

import (
	"time"

	"ticknet/internal/entitystate"
	"ticknet/internal/netlog"
	"ticknet/pkg/sim"
)

// MaxInputBufferSize bounds input_buffer; on overflow the oldest frame
// is dropped and an InputOverflow is logged (spec §4.5).
const MaxInputBufferSize = 256

// DefaultErrorThresholdPosM / VelMps are the smoothing/snap thresholds
// (spec §4.5, §6 error_threshold_pos_m / error_threshold_vel_mps).
const (
	DefaultErrorThresholdPosM   = 0.02
	DefaultErrorThresholdVelMps = 0.2
)

// DefaultPositionCorrectionFactor is the per-tick smoothing blend
// weight toward the re-applied result (spec §4.5, §6).
const DefaultPositionCorrectionFactor = 0.2

var log = netlog.New("prediction")

// InputBuffer is the client's ordered, bounded queue of sampled input
// frames, retained from the first unacknowledged input forward.
type InputBuffer struct {
	frames []entitystate.InputFrame
}

// NewInputBuffer constructs an empty buffer.
func NewInputBuffer() *InputBuffer { return &InputBuffer{} }

// Append adds a newly sampled frame, dropping the oldest on overflow.
func (b *InputBuffer) Append(f entitystate.InputFrame) {
	b.frames = append(b.frames, f)
	if len(b.frames) > MaxInputBufferSize {
		dropped := b.frames[0]
		b.frames = b.frames[1:]
		log.Warn("InputOverflow", "dropped_sequence", dropped.Sequence)
	}
}

// Tail returns the last n frames in order, for outbound redundancy
// (spec §4.5's "send tail of input_buffer, default 3").
func (b *InputBuffer) Tail(n int) []entitystate.InputFrame {
	if n >= len(b.frames) {
		return append([]entitystate.InputFrame(nil), b.frames...)
	}
	return append([]entitystate.InputFrame(nil), b.frames[len(b.frames)-n:]...)
}

// DropAcked discards every frame with Sequence <= lastProcessed.
func (b *InputBuffer) DropAcked(lastProcessed uint32) {
	i := 0
	for i < len(b.frames) && b.frames[i].Sequence <= lastProcessed {
		i++
	}
	b.frames = b.frames[i:]
}

// Pending returns the buffered frames in sequence order.
func (b *InputBuffer) Pending() []entitystate.InputFrame { return b.frames }

// Len reports the number of buffered frames.
func (b *InputBuffer) Len() int { return len(b.frames) }

// Predictor owns the client's local simulation state and reconciles it
// against authoritative snapshots as they arrive (spec §4.5).
type Predictor struct {
	step sim.Step

	LocalTick entitystate.Tick

	PredictedState entitystate.EntityState

	LastAuthoritativeTick entitystate.Tick
	lastProcessedInput    uint32

	Input *InputBuffer

	ErrorThresholdPosM       float32
	ErrorThresholdVelMps     float32
	PositionCorrectionFactor float32
}

// New constructs a Predictor around a deterministic per-player step
// function supplied by the embedding simulation.
func New(step sim.Step, initial entitystate.EntityState) *Predictor {
	return &Predictor{
		step:                     step,
		PredictedState:           initial,
		Input:                    NewInputBuffer(),
		ErrorThresholdPosM:       DefaultErrorThresholdPosM,
		ErrorThresholdVelMps:     DefaultErrorThresholdVelMps,
		PositionCorrectionFactor: DefaultPositionCorrectionFactor,
	}
}

// Predict advances PredictedState by one tick using the newest input
// frame (spec §4.5 predict step, item 2). The input must already have
// been appended to Input via Sample.
func (p *Predictor) Predict(dt time.Duration) {
	frames := p.Input.Pending()
	if len(frames) == 0 {
		return
	}
	newest := frames[len(frames)-1]
	p.PredictedState = p.step(p.PredictedState, newest, dt)
	p.LocalTick++
}

// Sample records a freshly captured input frame into the buffer and
// assigns it the predictor's next sequence number.
func (p *Predictor) Sample(nextSeq uint32, move entitystate.Vec3, lookYaw, lookPitch float32, buttons uint32) entitystate.InputFrame {
	f := entitystate.InputFrame{
		Sequence:  nextSeq,
		Tick:      p.LocalTick,
		Move:      move,
		LookYaw:   lookYaw,
		LookPitch: lookPitch,
		Buttons:   buttons,
	}
	p.Input.Append(f)
	return f
}

// Reconcile implements spec §4.5's reconcile step: it replaces the
// local player's state with the authoritative value at snapshotTick,
// drops acknowledged input frames, replays the remainder, and either
// smooths or snaps toward the replayed result depending on how far the
// pre-reconcile prediction had drifted.
func (p *Predictor) Reconcile(snapshotTick entitystate.Tick, authoritative entitystate.EntityState, lastProcessedInput uint32, dt time.Duration) {
	if !snapshotTick.After(p.LastAuthoritativeTick) {
		return
	}

	preSnapshot := p.PredictedState

	replayed := authoritative
	p.Input.DropAcked(lastProcessedInput)
	for _, f := range p.Input.Pending() {
		replayed = p.step(replayed, f, dt)
	}

	p.LastAuthoritativeTick = snapshotTick
	p.lastProcessedInput = lastProcessedInput

	posErr := preSnapshot.Position.Distance(replayed.Position)
	velErr := preSnapshot.Velocity.Sub(replayed.Velocity).Magnitude()

	if posErr < p.ErrorThresholdPosM && velErr < p.ErrorThresholdVelMps {
		p.PredictedState = blend(preSnapshot, replayed, p.PositionCorrectionFactor)
	} else {
		p.PredictedState = replayed
	}
}

// blend smooths toward target by factor t per tick (spec §4.5 item 4).
func blend(from, to entitystate.EntityState, t float32) entitystate.EntityState {
	out := to
	out.Position = from.Position.Lerp(to.Position, t)
	out.Velocity = from.Velocity.Lerp(to.Velocity, t)
	out.Rotation = entitystate.LerpAngles(from.Rotation, to.Rotation, t)
	return out
}
