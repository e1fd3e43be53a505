// Package fsm implements the connection state machine of spec §4.8 for
// both the client and the server's per-peer mirror.
package fsm

import (
	"fmt"
	"time"

	"ticknet/internal/netlog"
)

// State is one node of the connection state machine.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Connected
	Disconnecting
	Listening // server-only: awaiting new Connecting peers
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	case Listening:
		return "Listening"
	default:
		return "Unknown"
	}
}

// Event is an input driving a transition.
type Event uint8

const (
	EventConnect Event = iota
	EventHandshakeAck
	EventTimeout
	EventAuthAccept
	EventAuthReject
	EventPeerTimeout
	EventLocalDisconnect
	EventDisconnectAckOrTimeout
)

// FailReason classifies why a connection attempt failed (spec §4.8, §7).
type FailReason string

const (
	ReasonConnectTimeout FailReason = "ConnectTimeout"
	ReasonAuthRejected   FailReason = "AuthRejected"
)

// ConnectTimeout and DisconnectAckTimeout are the FSM's own timer
// durations (spec §4.8's table: "3s timer" / "1s").
const (
	ConnectTimeout        = 3 * time.Second
	DisconnectAckTimeout  = 1 * time.Second
)

var log = netlog.New("fsm")

// Machine drives one connection's state per spec §4.8's transition
// table. It is owned exclusively by its endpoint's tick loop (spec §5).
type Machine struct {
	state      State
	FailReason FailReason

	// deadline is the wall-clock time after which a pending timeout
	// event (EventTimeout / EventDisconnectAckOrTimeout) fires.
	deadline time.Time
}

// New constructs a machine in Disconnected (client) or Listening
// (server mirror) depending on initial.
func New(initial State) *Machine {
	return &Machine{state: initial}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Deadline reports the wall-clock time the current state's timer
// expires, if one is armed.
func (m *Machine) Deadline() (time.Time, bool) {
	return m.deadline, !m.deadline.IsZero()
}

// Fire applies event at time now, returning an error if the event is
// not valid from the current state (spec §4.8's table is exhaustive;
// anything else is a programming error in the caller).
func (m *Machine) Fire(event Event, now time.Time) error {
	from := m.state
	switch {
	case from == Disconnected && event == EventConnect:
		m.state = Connecting
		m.deadline = now.Add(ConnectTimeout)
	case from == Connecting && event == EventHandshakeAck:
		m.state = Authenticating
		m.deadline = time.Time{}
	case from == Connecting && event == EventTimeout:
		m.state = Disconnected
		m.FailReason = ReasonConnectTimeout
		m.deadline = time.Time{}
	case from == Authenticating && event == EventAuthAccept:
		m.state = Connected
		m.deadline = time.Time{}
	case from == Authenticating && event == EventAuthReject:
		m.state = Disconnected
		m.FailReason = ReasonAuthRejected
		m.deadline = time.Time{}
	case from == Connected && (event == EventPeerTimeout || event == EventLocalDisconnect):
		m.state = Disconnecting
		m.deadline = now.Add(DisconnectAckTimeout)
	case from == Disconnecting && event == EventDisconnectAckOrTimeout:
		m.state = Disconnected
		m.deadline = time.Time{}
	case from == Listening && event == EventConnect:
		m.state = Connecting
		m.deadline = now.Add(ConnectTimeout)
	default:
		return fmt.Errorf("fsm: event %v invalid in state %v", event, from)
	}
	log.Debug("transition", "from", from, "to", m.state, "event", event)
	return nil
}

// TimedOut reports whether the armed deadline (if any) has passed as of now.
func (m *Machine) TimedOut(now time.Time) bool {
	d, armed := m.Deadline()
	return armed && !now.Before(d)
}
