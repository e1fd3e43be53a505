// Package statestore owns the authoritative entity table and the delta
// codec used to compress snapshots against a baseline (spec §4.4).
package statestore

import (
	"ticknet/internal/entitystate"
	"ticknet/internal/wire"
)

// FloatEpsilon is the unchanged-field tolerance (spec §4.4: "Floats
// within |Δ| < 1e-5 are considered unchanged").
const FloatEpsilon = 1e-5

// EntityTable is the authoritative map of live entities at one instant.
type EntityTable map[entitystate.EntityID]entitystate.EntityState

// Clone returns a deep copy so callers can mutate the result without
// aliasing the original table.
func (t EntityTable) Clone() EntityTable {
	out := make(EntityTable, len(t))
	for id, s := range t {
		out[id] = s.Clone()
	}
	return out
}

// Store is the server's live EntityTable (spec §4.4). It is owned by the
// simulation tick loop; there is no synchronization because only the
// owning endpoint task ever touches it (spec §5).
type Store struct {
	entities EntityTable
}

// New constructs an empty store.
func New() *Store {
	return &Store{entities: make(EntityTable)}
}

// Set inserts or overwrites an entity.
func (s *Store) Set(e entitystate.EntityState) { s.entities[e.ID] = e }

// Get returns an entity and whether it exists.
func (s *Store) Get(id entitystate.EntityID) (entitystate.EntityState, bool) {
	e, ok := s.entities[id]
	return e, ok
}

// Remove deletes an entity.
func (s *Store) Remove(id entitystate.EntityID) { delete(s.entities, id) }

// Snapshot returns a deep copy of the current table, suitable for
// retention as a delta baseline or history-ring entry.
func (s *Store) Snapshot() EntityTable { return s.entities.Clone() }

// All returns the live table (read-only by convention; callers that need
// to retain it across a mutation should call Snapshot instead).
func (s *Store) All() EntityTable { return s.entities }

func floatsEqual(a, b float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < FloatEpsilon
}

func vec3Equal(a, b entitystate.Vec3) bool {
	return floatsEqual(a.X, b.X) && floatsEqual(a.Y, b.Y) && floatsEqual(a.Z, b.Z)
}

func extraEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fieldMask returns the mask of fields that differ between old and
// new, using float-tolerant comparison for vector fields (spec §4.4).
// A nil old (entity missing from the baseline) reports every field.
func fieldMask(old *entitystate.EntityState, n entitystate.EntityState) wire.EntityFieldMask {
	if old == nil {
		mask := wire.FieldKind | wire.FieldPosition | wire.FieldVelocity | wire.FieldRotation | wire.FieldFlags
		if len(n.Extra) > 0 {
			mask |= wire.FieldExtra
		}
		return mask
	}
	var mask wire.EntityFieldMask
	if old.Kind != n.Kind {
		mask |= wire.FieldKind
	}
	if !vec3Equal(old.Position, n.Position) {
		mask |= wire.FieldPosition
	}
	if !vec3Equal(old.Velocity, n.Velocity) {
		mask |= wire.FieldVelocity
	}
	if !vec3Equal(old.Rotation, n.Rotation) {
		mask |= wire.FieldRotation
	}
	if old.Flags != n.Flags {
		mask |= wire.FieldFlags
	}
	if !extraEqual(old.Extra, n.Extra) {
		mask |= wire.FieldExtra
	}
	return mask
}

// EncodeDelta computes the wire-level changed/removed lists that turn
// old into new (spec §4.4). An empty result (no changes, no removals) is
// the valid "nothing changed" delta (spec §8).
func EncodeDelta(old, new EntityTable) (changed []wire.EntityDelta, removed []entitystate.EntityID) {
	for id, n := range new {
		var oldPtr *entitystate.EntityState
		if o, ok := old[id]; ok {
			oldPtr = &o
		}
		mask := fieldMask(oldPtr, n)
		if mask == 0 {
			continue
		}
		changed = append(changed, wire.EntityDelta{ID: id, Mask: mask, State: n})
	}
	for id := range old {
		if _, ok := new[id]; !ok {
			removed = append(removed, id)
		}
	}
	return changed, removed
}

// ApplyDelta applies a changed/removed list against baseline, returning
// a new table; baseline itself is never mutated (spec §4.4's round-trip
// invariant: apply_delta(baseline, encode_delta(baseline,new)) == new).
func ApplyDelta(baseline EntityTable, changed []wire.EntityDelta, removed []entitystate.EntityID) EntityTable {
	out := baseline.Clone()
	for _, d := range changed {
		cur, existed := out[d.ID]
		if !existed {
			cur = entitystate.EntityState{ID: d.ID}
		}
		if d.Mask&wire.FieldKind != 0 {
			cur.Kind = d.State.Kind
		}
		if d.Mask&wire.FieldPosition != 0 {
			cur.Position = d.State.Position
		}
		if d.Mask&wire.FieldVelocity != 0 {
			cur.Velocity = d.State.Velocity
		}
		if d.Mask&wire.FieldRotation != 0 {
			cur.Rotation = d.State.Rotation
		}
		if d.Mask&wire.FieldFlags != 0 {
			cur.Flags = d.State.Flags
		}
		if d.Mask&wire.FieldExtra != 0 {
			cur.Extra = append([]byte(nil), d.State.Extra...)
		}
		out[d.ID] = cur
	}
	for _, id := range removed {
		delete(out, id)
	}
	return out
}
