package interpolation

import (
	"testing"
	"time"

	"ticknet/internal/entitystate"
)

func TestSampleStraddlesAndInterpolates(t *testing.T) {
	b := NewBuffer()
	t0 := time.Unix(100, 0)
	b.Push(t0, entitystate.EntityState{Position: entitystate.Vec3{X: 0}})
	b.Push(t0.Add(100*time.Millisecond), entitystate.EntityState{Position: entitystate.Vec3{X: 10}})

	got := b.Sample(t0.Add(50 * time.Millisecond))
	if got.Position.X != 5 {
		t.Fatalf("expected straddled interpolation to X=5, got %v", got.Position.X)
	}
}

func TestSampleExtrapolatesWithinWindow(t *testing.T) {
	b := NewBuffer()
	t0 := time.Unix(200, 0)
	b.Push(t0, entitystate.EntityState{Position: entitystate.Vec3{X: 0}, Velocity: entitystate.Vec3{X: 10}})
	b.Push(t0.Add(50*time.Millisecond), entitystate.EntityState{Position: entitystate.Vec3{X: 0.5}, Velocity: entitystate.Vec3{X: 10}})

	got := b.Sample(t0.Add(50*time.Millisecond + 100*time.Millisecond))
	want := float32(0.5 + 10*0.1)
	if diff := got.Position.X - want; diff > 1e-4 || diff < -1e-4 {
		t.Fatalf("expected extrapolated X~%v, got %v", want, got.Position.X)
	}
}

func TestSampleFreezesBeyondExtrapWindow(t *testing.T) {
	b := NewBuffer()
	t0 := time.Unix(300, 0)
	b.Push(t0, entitystate.EntityState{Position: entitystate.Vec3{X: 0}, Velocity: entitystate.Vec3{X: 10}})
	b.Push(t0.Add(50*time.Millisecond), entitystate.EntityState{Position: entitystate.Vec3{X: 0.5}, Velocity: entitystate.Vec3{X: 10}})

	latest := b.samples[len(b.samples)-1]
	got := b.Sample(latest.at.Add(b.ExtrapWindow + time.Second))
	if got.Position.X != latest.state.Position.X {
		t.Fatalf("expected freeze at latest X=%v, got %v", latest.state.Position.X, got.Position.X)
	}
}

func TestSampleWithFewerThanTwoUsesLatest(t *testing.T) {
	b := NewBuffer()
	only := entitystate.EntityState{Position: entitystate.Vec3{X: 42}}
	b.Push(time.Unix(400, 0), only)
	got := b.Sample(time.Unix(500, 0))
	if got.Position.X != 42 {
		t.Fatalf("expected single-sample fallback, got %v", got.Position.X)
	}
}

func TestSampleEmptyReturnsZero(t *testing.T) {
	b := NewBuffer()
	got := b.Sample(time.Unix(600, 0))
	if !got.Equal(entitystate.EntityState{}) {
		t.Fatalf("expected zero value for empty buffer, got %+v", got)
	}
}

func TestPushPrunesOlderThanMaxHistory(t *testing.T) {
	b := NewBuffer()
	t0 := time.Unix(700, 0)
	b.Push(t0, entitystate.EntityState{Position: entitystate.Vec3{X: 1}})
	b.Push(t0.Add(MaxHistory+time.Second), entitystate.EntityState{Position: entitystate.Vec3{X: 2}})
	if len(b.samples) != 1 {
		t.Fatalf("expected pruning of stale sample, got %d retained", len(b.samples))
	}
}
