// Package simulation implements the server's authoritative tick loop:
// input application, per-entity history retention, lag-compensated
// rewind reconstruction, input validation and rate limiting, and
// suspicion tracking (spec §4.7).
package simulation

import (
	"sort"
	"time"

	"ticknet/internal/entitystate"
)

// DefaultRewindWindow is the lag-compensation / history retention
// window (spec §4.7, §6 max_rewind_ms default).
const DefaultRewindWindow = 1 * time.Second

type historyEntry struct {
	tick  entitystate.Tick
	state entitystate.EntityState
}

// EntityHistoryRing is a per-entity bounded, tick-ordered deque used to
// reconstruct past positions for lag compensation (spec §3, §4.7). It is
// dense within the retained window: no gaps, strictly increasing ticks.
type EntityHistoryRing struct {
	tickInterval time.Duration
	window       time.Duration
	entries      []historyEntry
}

// NewEntityHistoryRing builds a ring that retains window of history at
// the given per-tick interval.
func NewEntityHistoryRing(tickInterval, window time.Duration) *EntityHistoryRing {
	return &EntityHistoryRing{tickInterval: tickInterval, window: window}
}

// Append records the entity's state at tick, evicting entries older
// than the retention window. tick must be strictly greater than the
// last appended tick.
func (r *EntityHistoryRing) Append(tick entitystate.Tick, state entitystate.EntityState) {
	r.entries = append(r.entries, historyEntry{tick: tick, state: state})
	maxLen := int(r.window/r.tickInterval) + 1
	if maxLen < 1 {
		maxLen = 1
	}
	if len(r.entries) > maxLen {
		r.entries = r.entries[len(r.entries)-maxLen:]
	}
}

// Len reports the number of retained entries.
func (r *EntityHistoryRing) Len() int { return len(r.entries) }

// At returns the exact entry for tick, if retained.
func (r *EntityHistoryRing) At(tick entitystate.Tick) (entitystate.EntityState, bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return !r.entries[i].tick.Before(tick) })
	if i < len(r.entries) && r.entries[i].tick == tick {
		return r.entries[i].state, true
	}
	return entitystate.EntityState{}, false
}

// Reconstruct returns the entity's interpolated state at targetTick
// (spec §4.7 lag-compensation item (b)): an exact hit returns directly,
// otherwise the two straddling entries are linearly interpolated, and a
// target outside the retained window clamps to the nearest edge.
func (r *EntityHistoryRing) Reconstruct(targetTick entitystate.Tick) (entitystate.EntityState, bool) {
	n := len(r.entries)
	if n == 0 {
		return entitystate.EntityState{}, false
	}
	if exact, ok := r.At(targetTick); ok {
		return exact, true
	}
	if targetTick.Before(r.entries[0].tick) {
		return r.entries[0].state, true
	}
	if targetTick.After(r.entries[n-1].tick) {
		return r.entries[n-1].state, true
	}
	i := sort.Search(n, func(i int) bool { return r.entries[i].tick.After(targetTick) })
	if i == 0 || i >= n {
		return r.entries[n-1].state, true
	}
	prev, next := r.entries[i-1], r.entries[i]
	span := next.tick.Sub(prev.tick)
	var t float32
	if span > 0 {
		t = float32(targetTick.Sub(prev.tick)) / float32(span)
	}
	out := next.state
	out.Position = prev.state.Position.Lerp(next.state.Position, t)
	out.Velocity = prev.state.Velocity.Lerp(next.state.Velocity, t)
	out.Rotation = entitystate.LerpAngles(prev.state.Rotation, next.state.Rotation, t)
	return out, true
}

// RewindTick computes the tick to reconstruct history at for a
// lag-compensated action (spec §4.7 item (a)): the current tick minus
// the RTT/2-plus-interp-delay expressed in ticks, clamped to the
// history window.
func RewindTick(current entitystate.Tick, rtt, interpDelay, tickInterval time.Duration) entitystate.Tick {
	lagTime := rtt/2 + interpDelay
	ticksBack := int32(roundDiv(lagTime, tickInterval))
	maxBack := int32(DefaultRewindWindow / tickInterval)
	if ticksBack > maxBack {
		ticksBack = maxBack
	}
	if ticksBack < 0 {
		ticksBack = 0
	}
	return entitystate.Tick(int32(current) - ticksBack)
}

func roundDiv(a, b time.Duration) int64 {
	if b == 0 {
		return 0
	}
	return int64((a + b/2) / b)
}
