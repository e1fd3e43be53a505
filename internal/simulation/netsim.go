package simulation

import (
	"math/rand"
	"time"
)

// Conn is the minimal non-blocking socket contract NetSim decorates
// (design note 9's Transport/SocketIO collaborator).
type Conn interface {
	Send(b []byte) error
	Recv() (b []byte, ok bool, err error)
}

type pendingDatagram struct {
	deliverAt time.Time
	data      []byte
}

// NetSim wraps a Conn with artificial latency and loss for local
// testing (supplemented from original_source/network_simulator.cpp).
// Nothing in this module constructs one; the endpoints' send/recv path
// does not use it.
type NetSim struct {
	inner Conn
	rng   *rand.Rand

	LatencyMin, LatencyMax time.Duration
	LossRatio              float64 // in [0,1)

	outbound []pendingDatagram
	inbound  []pendingDatagram
}

// NewNetSim constructs a decorator with no injected latency or loss by
// default; set LatencyMin/Max and LossRatio to enable them.
func NewNetSim(inner Conn, seed int64) *NetSim {
	return &NetSim{inner: inner, rng: rand.New(rand.NewSource(seed))}
}

// Send queues a datagram for delayed delivery, dropping it outright
// with probability LossRatio.
func (n *NetSim) Send(b []byte) error {
	if n.rng.Float64() < n.LossRatio {
		return nil
	}
	cp := append([]byte(nil), b...)
	n.outbound = append(n.outbound, pendingDatagram{deliverAt: time.Now().Add(n.jitter()), data: cp})
	return nil
}

// Advance flushes any queued datagrams whose simulated delay has
// elapsed into the wrapped Conn. Callers invoke this once per tick from
// the owning endpoint task, matching the single-owning-task model.
func (n *NetSim) Advance(now time.Time) error {
	remaining := n.outbound[:0]
	for _, p := range n.outbound {
		if !now.Before(p.deliverAt) {
			if err := n.inner.Send(p.data); err != nil {
				return err
			}
		} else {
			remaining = append(remaining, p)
		}
	}
	n.outbound = remaining
	return nil
}

// Recv polls the wrapped Conn, re-delaying anything newly arrived and
// returning the oldest datagram whose delay has elapsed, if any.
func (n *NetSim) Recv() ([]byte, bool, error) {
	b, ok, err := n.inner.Recv()
	if err != nil {
		return nil, false, err
	}
	if ok && n.rng.Float64() >= n.LossRatio {
		cp := append([]byte(nil), b...)
		n.inbound = append(n.inbound, pendingDatagram{deliverAt: time.Now().Add(n.jitter()), data: cp})
	}
	now := time.Now()
	for i, p := range n.inbound {
		if !now.Before(p.deliverAt) {
			n.inbound = append(n.inbound[:i:i], n.inbound[i+1:]...)
			return p.data, true, nil
		}
	}
	return nil, false, nil
}

func (n *NetSim) jitter() time.Duration {
	if n.LatencyMax <= n.LatencyMin {
		return n.LatencyMin
	}
	span := int64(n.LatencyMax - n.LatencyMin)
	return n.LatencyMin + time.Duration(n.rng.Int63n(span))
}
