// Package sim defines the contract the game-specific simulation must
// satisfy to plug into ticknet's prediction, interpolation and server
// loop. ticknet ships no gameplay rules of its own; a concrete Step
// implementation is supplied by the collaborator embedding this module.
package sim

import (
	"time"

	"ticknet/internal/entitystate"
)

// Step advances a single entity's state by one input over dt. It MUST be
// deterministic: identical (state, input, dt) always produces an
// identical result, since the client replays it during reconciliation
// and the outcome is compared against the server's authoritative state.
type Step func(state entitystate.EntityState, input entitystate.InputFrame, dt time.Duration) entitystate.EntityState

// Simulation is the full per-tick authority a server endpoint drives:
// stepping the local player from input, and advancing everything else
// (AI, physics, non-input-driven entities) for the tick.
type Simulation interface {
	// StepPlayer advances one player entity by one input frame.
	StepPlayer(state entitystate.EntityState, input entitystate.InputFrame, dt time.Duration) entitystate.EntityState

	// Advance steps every non-player entity for one tick. It must not
	// mutate table in place; it returns the post-tick table.
	Advance(table map[entitystate.EntityID]entitystate.EntityState, tick entitystate.Tick, dt time.Duration) map[entitystate.EntityID]entitystate.EntityState
}
