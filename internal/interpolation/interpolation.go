// Package interpolation implements time-delayed rendering of non-local
// entities from received snapshots (spec §4.6). It is read-only with
// respect to simulation state and produces only a visual transform.
package interpolation

import (
	"time"

	"ticknet/internal/entitystate"
)

// DefaultInterpDelay is the render-time lag applied behind remote_now()
// (spec §4.6, §6 interp_delay_ms: "2x server tick interval plus jitter
// margin").
const DefaultInterpDelay = 100 * time.Millisecond

// DefaultExtrapWindow bounds how far past the latest snapshot the
// buffer will extrapolate before freezing (spec §4.6).
const DefaultExtrapWindow = 250 * time.Millisecond

// MaxHistory bounds how much snapshot history a buffer retains
// (spec §4.6: "bounded at 1.0s of history").
const MaxHistory = 1 * time.Second

// sample is one retained (tick_time, state) pair for a single entity.
type sample struct {
	at    time.Time
	state entitystate.EntityState
}

// Buffer retains a small ordered window of snapshots for one non-local
// entity and samples a smoothly interpolated transform at render time.
type Buffer struct {
	ExtrapWindow time.Duration
	samples      []sample
}

// NewBuffer constructs an empty buffer with default extrapolation window.
func NewBuffer() *Buffer {
	return &Buffer{ExtrapWindow: DefaultExtrapWindow}
}

// Push retains a freshly received state tagged with the local
// wall-clock time it was received, pruning anything older than
// MaxHistory behind the newest retained sample.
func (b *Buffer) Push(at time.Time, state entitystate.EntityState) {
	b.samples = append(b.samples, sample{at: at, state: state})
	cutoff := at.Add(-MaxHistory)
	i := 0
	for i < len(b.samples) && b.samples[i].at.Before(cutoff) {
		i++
	}
	b.samples = b.samples[i:]
}

// Sample produces the render-time transform at interpTime, per spec
// §4.6's selection rules: straddle-interpolate, extrapolate within
// ExtrapWindow, freeze beyond it, or fall back to the latest/zero value
// when fewer than two samples are retained.
func (b *Buffer) Sample(interpTime time.Time) entitystate.EntityState {
	n := len(b.samples)
	if n == 0 {
		return entitystate.EntityState{}
	}
	if n == 1 {
		return b.samples[0].state
	}

	latest := b.samples[n-1]
	if interpTime.After(latest.at) {
		return b.extrapolateOrFreeze(interpTime)
	}

	for i := 1; i < n; i++ {
		prev, next := b.samples[i-1], b.samples[i]
		if !interpTime.After(next.at) {
			return interpolate(prev, next, interpTime)
		}
	}
	return latest.state
}

func (b *Buffer) extrapolateOrFreeze(interpTime time.Time) entitystate.EntityState {
	latest := b.samples[len(b.samples)-1]
	delta := interpTime.Sub(latest.at)
	if delta > b.ExtrapWindow {
		return latest.state
	}
	secs := float32(delta.Seconds())
	out := latest.state
	out.Position = out.Position.Add(out.Velocity.Scale(secs))
	return out
}

func interpolate(prev, next sample, interpTime time.Time) entitystate.EntityState {
	span := next.at.Sub(prev.at)
	var t float32
	if span > 0 {
		t = float32(interpTime.Sub(prev.at).Seconds() / span.Seconds())
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	out := next.state
	out.Position = prev.state.Position.Lerp(next.state.Position, t)
	out.Velocity = prev.state.Velocity.Lerp(next.state.Velocity, t)
	out.Rotation = entitystate.LerpAngles(prev.state.Rotation, next.state.Rotation, t)
	return out
}

// InterpTime computes the render-time sample point for a given
// remote_now() estimate and configured delay (spec §4.6).
func InterpTime(remoteNow time.Time, delay time.Duration) time.Time {
	return remoteNow.Add(-delay)
}
