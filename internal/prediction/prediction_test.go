package prediction

import (
	"testing"
	"time"

	"ticknet/internal/entitystate"
)

// moveStep is a deterministic stand-in for the embedding simulation's
// step(): it integrates position by velocity and sets velocity from
// the input's move vector, scaled by dt.
func moveStep(s entitystate.EntityState, in entitystate.InputFrame, dt time.Duration) entitystate.EntityState {
	secs := float32(dt.Seconds())
	s.Velocity = in.Move
	s.Position = s.Position.Add(s.Velocity.Scale(secs))
	return s
}

func TestInputBufferOverflowDropsOldest(t *testing.T) {
	b := NewInputBuffer()
	for i := uint32(0); i < MaxInputBufferSize+10; i++ {
		b.Append(entitystate.InputFrame{Sequence: i})
	}
	if b.Len() != MaxInputBufferSize {
		t.Fatalf("expected buffer capped at %d, got %d", MaxInputBufferSize, b.Len())
	}
	if b.Pending()[0].Sequence != 10 {
		t.Fatalf("expected oldest 10 frames dropped, first remaining seq = %d", b.Pending()[0].Sequence)
	}
}

func TestTailReturnsLastNFrames(t *testing.T) {
	b := NewInputBuffer()
	for i := uint32(0); i < 5; i++ {
		b.Append(entitystate.InputFrame{Sequence: i})
	}
	tail := b.Tail(3)
	if len(tail) != 3 || tail[0].Sequence != 2 || tail[2].Sequence != 4 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if full := b.Tail(100); len(full) != 5 {
		t.Fatalf("expected Tail(100) to return all 5, got %d", len(full))
	}
}

func TestDropAckedRemovesProcessedFrames(t *testing.T) {
	b := NewInputBuffer()
	for i := uint32(1); i <= 5; i++ {
		b.Append(entitystate.InputFrame{Sequence: i})
	}
	b.DropAcked(3)
	if b.Len() != 2 || b.Pending()[0].Sequence != 4 {
		t.Fatalf("expected frames 4,5 remaining, got %+v", b.Pending())
	}
}

func TestReconcileSmoothsSmallDrift(t *testing.T) {
	p := New(moveStep, entitystate.EntityState{ID: 1})
	dt := 16 * time.Millisecond

	p.Sample(1, entitystate.Vec3{X: 1}, 0, 0, 0)
	p.Predict(dt)

	// Authoritative state agrees almost exactly; drift is sub-threshold.
	authoritative := p.PredictedState
	authoritative.Position.X += 0.001

	pre := p.PredictedState
	p.Reconcile(entitystate.Tick(1), authoritative, 1, dt)

	if p.PredictedState.Position.Distance(pre.Position) >= 0.001+1e-3 {
		t.Fatalf("expected smoothing to keep result close to pre-snapshot state, got %+v vs %+v", p.PredictedState, pre)
	}
	if p.LastAuthoritativeTick != 1 {
		t.Fatalf("expected LastAuthoritativeTick updated to 1, got %d", p.LastAuthoritativeTick)
	}
}

func TestReconcileSnapsLargeDrift(t *testing.T) {
	p := New(moveStep, entitystate.EntityState{ID: 1})
	dt := 16 * time.Millisecond

	p.Sample(1, entitystate.Vec3{X: 1}, 0, 0, 0)
	p.Predict(dt)

	authoritative := p.PredictedState
	authoritative.Position.X += 5.0 // far beyond error_threshold_pos_m

	p.Reconcile(entitystate.Tick(1), authoritative, 1, dt)

	if p.PredictedState.Position.X != authoritative.Position.X {
		t.Fatalf("expected snap to authoritative replay, got %+v", p.PredictedState)
	}
}

func TestReconcileIgnoresStaleSnapshot(t *testing.T) {
	p := New(moveStep, entitystate.EntityState{ID: 1})
	dt := 16 * time.Millisecond
	p.Reconcile(entitystate.Tick(5), entitystate.EntityState{ID: 1, Position: entitystate.Vec3{X: 9}}, 0, dt)
	if p.LastAuthoritativeTick != 5 {
		t.Fatalf("expected first reconcile to apply, got tick %d", p.LastAuthoritativeTick)
	}
	before := p.PredictedState
	p.Reconcile(entitystate.Tick(3), entitystate.EntityState{ID: 1, Position: entitystate.Vec3{X: 99}}, 0, dt)
	if !p.PredictedState.Equal(before) {
		t.Fatalf("expected stale snapshot (tick 3 <= 5) to be ignored, state changed to %+v", p.PredictedState)
	}
}

func TestReconcileReplaysUnacknowledgedInputs(t *testing.T) {
	p := New(moveStep, entitystate.EntityState{ID: 1})
	dt := 16 * time.Millisecond

	p.Sample(1, entitystate.Vec3{X: 1}, 0, 0, 0)
	p.Predict(dt)
	p.Sample(2, entitystate.Vec3{X: 2}, 0, 0, 0)
	p.Predict(dt)

	// Server has only processed input 1; input 2 must be replayed.
	authoritativeAfterInput1 := entitystate.EntityState{ID: 1, Position: entitystate.Vec3{X: 1 * 0.016}, Velocity: entitystate.Vec3{X: 1}}
	p.Reconcile(entitystate.Tick(1), authoritativeAfterInput1, 1, dt)

	want := moveStep(authoritativeAfterInput1, entitystate.InputFrame{Sequence: 2, Move: entitystate.Vec3{X: 2}}, dt)
	if p.PredictedState.Velocity != want.Velocity {
		t.Fatalf("expected replay of input 2 to land on velocity %+v, got %+v", want.Velocity, p.PredictedState.Velocity)
	}
}
