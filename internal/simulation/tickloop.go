package simulation

import (
	"time"

	"ticknet/internal/entitystate"
	"ticknet/internal/netlog"
	"ticknet/internal/statestore"
	"ticknet/pkg/sim"
)

var tickLog = netlog.New("simulation")

// ClientInputQueue buffers one connected client's not-yet-applied
// input frames, keyed by sequence order (spec §4.7 item 1-2: "insert
// into per-client input queue ... pop the input with the lowest
// sequence exceeding last_processed_input_seq").
type ClientInputQueue struct {
	lastProcessed uint32
	pending       []entitystate.InputFrame
}

// NewClientInputQueue builds an empty queue.
func NewClientInputQueue() *ClientInputQueue { return &ClientInputQueue{} }

// Offer inserts a freshly received frame if its sequence exceeds the
// last processed one and it isn't already queued; frames are kept
// sorted ascending by sequence.
func (q *ClientInputQueue) Offer(f entitystate.InputFrame) {
	if f.Sequence <= q.lastProcessed {
		return
	}
	for _, existing := range q.pending {
		if existing.Sequence == f.Sequence {
			return
		}
	}
	i := 0
	for i < len(q.pending) && q.pending[i].Sequence < f.Sequence {
		i++
	}
	q.pending = append(q.pending, entitystate.InputFrame{})
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = f
}

// PopNext removes and returns the lowest-sequence pending frame, if
// any, advancing lastProcessed (spec §4.7 item 2: "apply at most one
// per tick").
func (q *ClientInputQueue) PopNext() (entitystate.InputFrame, bool) {
	if len(q.pending) == 0 {
		return entitystate.InputFrame{}, false
	}
	f := q.pending[0]
	q.pending = q.pending[1:]
	q.lastProcessed = f.Sequence
	return f, true
}

// LastProcessed reports the last applied sequence for this client.
func (q *ClientInputQueue) LastProcessed() uint32 { return q.lastProcessed }

// TickLoop drives one server's authoritative simulation step (spec
// §4.7 items 1-5). It owns the live entity table and per-entity history
// rings; callers supply per-client input queues and drain the result.
type TickLoop struct {
	Store   *statestore.Store
	Sim     sim.Simulation
	History map[entitystate.EntityID]*EntityHistoryRing

	TickInterval  time.Duration
	RewindWindow  time.Duration
	CurrentTick   entitystate.Tick
}

// NewTickLoop constructs a tick loop around an existing store and
// simulation collaborator.
func NewTickLoop(store *statestore.Store, simulation sim.Simulation, tickInterval, rewindWindow time.Duration) *TickLoop {
	return &TickLoop{
		Store:        store,
		Sim:          simulation,
		History:      make(map[entitystate.EntityID]*EntityHistoryRing),
		TickInterval: tickInterval,
		RewindWindow: rewindWindow,
	}
}

// StepPlayer applies a single input frame to one player entity (spec
// §4.7 item 2). History is recorded once per entity per tick by
// Advance, not here, so a tick with no queued input for an entity still
// gets exactly one history entry instead of zero or two.
func (t *TickLoop) StepPlayer(id entitystate.EntityID, f entitystate.InputFrame) {
	cur, ok := t.Store.Get(id)
	if !ok {
		tickLog.Warn("step-unknown-entity", "entity_id", id)
		return
	}
	next := t.Sim.StepPlayer(cur, f, t.TickInterval)
	next.ID = id
	t.Store.Set(next)
}

// Advance advances CurrentTick, hands the whole table to Sim.Advance to
// step the non-player entities (spec §4.7 item 3), and stores and
// records history for every entity it returns, players included (item 4).
func (t *TickLoop) Advance() {
	t.CurrentTick++
	table := t.Sim.Advance(t.Store.All(), t.CurrentTick, t.TickInterval)
	for id, s := range table {
		t.Store.Set(s)
		t.recordHistory(id, s)
	}
}

func (t *TickLoop) recordHistory(id entitystate.EntityID, s entitystate.EntityState) {
	ring, ok := t.History[id]
	if !ok {
		ring = NewEntityHistoryRing(t.TickInterval, t.RewindWindow)
		t.History[id] = ring
	}
	ring.Append(t.CurrentTick, s)
}

// HistoryFor returns the retained history ring for an entity, used as
// lag-compensation input (spec §4.7 item b).
func (t *TickLoop) HistoryFor(id entitystate.EntityID) (*EntityHistoryRing, bool) {
	r, ok := t.History[id]
	return r, ok
}
