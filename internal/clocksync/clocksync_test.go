package clocksync

import (
	"testing"
	"time"
)

func TestOnPongComputesRTTAndOffset(t *testing.T) {
	e := NewEstimator()
	tSend := time.Unix(1000, 0)
	tRecv := tSend.Add(60 * time.Millisecond) // remote clock ahead
	tAck := tSend.Add(100 * time.Millisecond) // 100ms RTT

	if !e.OnPong(tSend, tRecv, tAck) {
		t.Fatal("expected first sample to be accepted")
	}
	if e.RTT() != 100*time.Millisecond {
		t.Fatalf("expected RTT 100ms on first sample, got %v", e.RTT())
	}
	wantOffset := tRecv.Sub(tSend.Add(50 * time.Millisecond))
	if e.Offset() != wantOffset {
		t.Fatalf("expected offset %v, got %v", wantOffset, e.Offset())
	}
}

func TestOnPongRejectsRTTOutliers(t *testing.T) {
	e := NewEstimator()
	base := time.Unix(2000, 0)
	for i := 0; i < 5; i++ {
		tSend := base.Add(time.Duration(i) * time.Second)
		tAck := tSend.Add(50 * time.Millisecond)
		tRecv := tSend.Add(25 * time.Millisecond)
		if !e.OnPong(tSend, tRecv, tAck) {
			t.Fatalf("sample %d should be accepted", i)
		}
	}
	steadyRTT := e.RTT()

	// An outlier RTT more than 3x the EMA should be rejected.
	tSend := base.Add(10 * time.Second)
	tAck := tSend.Add(steadyRTT * 10)
	tRecv := tSend.Add(steadyRTT * 5)
	if e.OnPong(tSend, tRecv, tAck) {
		t.Fatal("expected outlier RTT sample to be rejected")
	}
	if e.RTT() != steadyRTT {
		t.Fatalf("RTT should be unchanged after rejected sample, got %v want %v", e.RTT(), steadyRTT)
	}
}

func TestRemoteNowAppliesOffset(t *testing.T) {
	e := NewEstimator()
	tSend := time.Unix(3000, 0)
	tRecv := tSend.Add(200 * time.Millisecond)
	tAck := tSend.Add(20 * time.Millisecond)
	e.OnPong(tSend, tRecv, tAck)

	local := time.Unix(3100, 0)
	remote := e.RemoteNow(local)
	if remote.Sub(local) != e.Offset() {
		t.Fatalf("RemoteNow should add offset exactly, got delta %v want %v", remote.Sub(local), e.Offset())
	}
}

func TestNextIntervalBurstThenSteady(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < InitialBurstCount; i++ {
		if e.NextInterval() != InitialBurstInterval {
			t.Fatalf("expected burst interval at ping %d", i)
		}
		e.RecordPingSent()
	}
	if e.NextInterval() != SteadyInterval {
		t.Fatal("expected steady interval after initial burst")
	}
}

func TestLossRatioFromAckOutcomes(t *testing.T) {
	e := NewEstimator()
	for i := 0; i < 8; i++ {
		e.RecordAckOutcome(i%4 != 0) // 1 in 4 lost
	}
	got := e.LossRatio()
	want := 2.0 / 8.0
	if got != want {
		t.Fatalf("got loss ratio %v want %v", got, want)
	}
}
