package simulation

import (
	"testing"
	"time"

	"ticknet/internal/entitystate"
)

func TestEntityHistoryRingExactHit(t *testing.T) {
	r := NewEntityHistoryRing(16*time.Millisecond, 1*time.Second)
	r.Append(1, entitystate.EntityState{Position: entitystate.Vec3{X: 0}})
	r.Append(2, entitystate.EntityState{Position: entitystate.Vec3{X: 10}})

	if s, ok := r.At(1); !ok || s.Position.X != 0 {
		t.Fatalf("expected exact hit at tick 1, got %+v ok=%v", s, ok)
	}
	s, ok := r.Reconstruct(1)
	if !ok || s.Position.X != 0 {
		t.Fatalf("expected reconstruct exact at tick 1, got %+v", s)
	}
}

func TestEntityHistoryRingEvictsOutsideWindow(t *testing.T) {
	tickInterval := 10 * time.Millisecond
	window := 100 * time.Millisecond
	r := NewEntityHistoryRing(tickInterval, window)
	for i := entitystate.Tick(1); i <= 50; i++ {
		r.Append(i, entitystate.EntityState{Position: entitystate.Vec3{X: float32(i)}})
	}
	maxLen := int(window/tickInterval) + 1
	if r.Len() > maxLen {
		t.Fatalf("expected ring capped near %d entries, got %d", maxLen, r.Len())
	}
	if _, ok := r.At(1); ok {
		t.Fatal("expected tick 1 to have been evicted")
	}
}

func TestRewindTickClampsToWindow(t *testing.T) {
	tickInterval := 16 * time.Millisecond
	got := RewindTick(1000, 5*time.Second, 100*time.Millisecond, tickInterval)
	maxBack := int32(DefaultRewindWindow / tickInterval)
	want := entitystate.Tick(1000 - maxBack)
	if got != want {
		t.Fatalf("expected rewind clamp to %d, got %d", want, got)
	}
}

func TestValidateInputRejectsRules(t *testing.T) {
	if err := ValidateInput(entitystate.InputFrame{Sequence: 5}, 5); err != ErrSequenceNotIncreasing {
		t.Fatalf("expected sequence rejection, got %v", err)
	}
	if err := ValidateInput(entitystate.InputFrame{Sequence: 6, Move: entitystate.Vec3{X: 2}}, 5); err != ErrMoveMagnitude {
		t.Fatalf("expected move magnitude rejection, got %v", err)
	}
	if err := ValidateInput(entitystate.InputFrame{Sequence: 6, Buttons: 0xFFFF0000}, 5); err != ErrUnknownButtons {
		t.Fatalf("expected unknown buttons rejection, got %v", err)
	}
	if err := ValidateInput(entitystate.InputFrame{Sequence: 6, Move: entitystate.Vec3{X: 0.5}}, 5); err != nil {
		t.Fatalf("expected valid input to pass, got %v", err)
	}
}

func TestInputLimiterBlocksOverBurst(t *testing.T) {
	l := NewInputLimiter(5)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}
	if allowed > 5 {
		t.Fatalf("expected at most 5 allowed instantly, got %d", allowed)
	}
}

func TestSuspicionTrackerDisconnectsAtThreshold(t *testing.T) {
	s := NewSuspicionTracker()
	s.Threshold = 5
	if s.Add(1, 2, "test") {
		t.Fatal("expected no disconnect below threshold")
	}
	if !s.Add(1, 3, "test") {
		t.Fatal("expected disconnect once threshold reached")
	}
}

func TestClientInputQueueOrdersAndDedups(t *testing.T) {
	q := NewClientInputQueue()
	q.Offer(entitystate.InputFrame{Sequence: 3})
	q.Offer(entitystate.InputFrame{Sequence: 1})
	q.Offer(entitystate.InputFrame{Sequence: 2})
	q.Offer(entitystate.InputFrame{Sequence: 2}) // duplicate

	f, ok := q.PopNext()
	if !ok || f.Sequence != 1 {
		t.Fatalf("expected sequence 1 first, got %+v ok=%v", f, ok)
	}
	q.Offer(entitystate.InputFrame{Sequence: 1}) // stale, must be ignored
	f, ok = q.PopNext()
	if !ok || f.Sequence != 2 {
		t.Fatalf("expected sequence 2 next, got %+v ok=%v", f, ok)
	}
}
