package fsm

import (
	"testing"
	"time"
)

func TestHappyPathToConnected(t *testing.T) {
	m := New(Disconnected)
	now := time.Unix(0, 0)

	if err := m.Fire(EventConnect, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Connecting {
		t.Fatalf("expected Connecting, got %v", m.State())
	}
	if err := m.Fire(EventHandshakeAck, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Authenticating {
		t.Fatalf("expected Authenticating, got %v", m.State())
	}
	if err := m.Fire(EventAuthAccept, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Connected {
		t.Fatalf("expected Connected, got %v", m.State())
	}
}

func TestConnectTimeoutFailsWithReason(t *testing.T) {
	m := New(Disconnected)
	now := time.Unix(0, 0)
	m.Fire(EventConnect, now)
	if err := m.Fire(EventTimeout, now.Add(ConnectTimeout)); err != nil {
		t.Fatal(err)
	}
	if m.State() != Disconnected {
		t.Fatalf("expected Disconnected, got %v", m.State())
	}
	if m.FailReason != ReasonConnectTimeout {
		t.Fatalf("expected ConnectTimeout reason, got %v", m.FailReason)
	}
}

func TestAuthRejectedFailsWithReason(t *testing.T) {
	m := New(Disconnected)
	now := time.Unix(0, 0)
	m.Fire(EventConnect, now)
	m.Fire(EventHandshakeAck, now)
	if err := m.Fire(EventAuthReject, now); err != nil {
		t.Fatal(err)
	}
	if m.FailReason != ReasonAuthRejected {
		t.Fatalf("expected AuthRejected reason, got %v", m.FailReason)
	}
}

func TestDisconnectFlow(t *testing.T) {
	m := New(Disconnected)
	now := time.Unix(0, 0)
	m.Fire(EventConnect, now)
	m.Fire(EventHandshakeAck, now)
	m.Fire(EventAuthAccept, now)

	if err := m.Fire(EventPeerTimeout, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Disconnecting {
		t.Fatalf("expected Disconnecting, got %v", m.State())
	}
	if err := m.Fire(EventDisconnectAckOrTimeout, now.Add(DisconnectAckTimeout)); err != nil {
		t.Fatal(err)
	}
	if m.State() != Disconnected {
		t.Fatalf("expected Disconnected, got %v", m.State())
	}
}

func TestInvalidTransitionReturnsError(t *testing.T) {
	m := New(Disconnected)
	if err := m.Fire(EventAuthAccept, time.Unix(0, 0)); err == nil {
		t.Fatal("expected error for invalid transition")
	}
}

func TestTimedOutReflectsDeadline(t *testing.T) {
	m := New(Disconnected)
	now := time.Unix(0, 0)
	m.Fire(EventConnect, now)
	if m.TimedOut(now) {
		t.Fatal("should not be timed out immediately")
	}
	if !m.TimedOut(now.Add(ConnectTimeout + time.Millisecond)) {
		t.Fatal("expected timed out after ConnectTimeout elapses")
	}
}

func TestServerListeningAcceptsConnect(t *testing.T) {
	m := New(Listening)
	now := time.Unix(0, 0)
	if err := m.Fire(EventConnect, now); err != nil {
		t.Fatal(err)
	}
	if m.State() != Connecting {
		t.Fatalf("expected Connecting, got %v", m.State())
	}
}
