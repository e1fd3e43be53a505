// Package demogame is a minimal pkg/sim.Simulation used by cmd/server,
// cmd/client and cmd/loadtest to exercise the netcode core end to end.
// It is not part of the core: a real game supplies its own Simulation.
package demogame

import (
	"time"

	"ticknet/internal/entitystate"
)

// MoveSpeed is the constant units/second a player moves at full input
// magnitude, standing in for the embedding game's actual movement code.
const MoveSpeed = 5.0

// Game is a trivial deterministic simulation: players move at constant
// speed from input, and there are no independent non-player entities.
type Game struct{}

// StepPlayer integrates position from the input's move vector.
func (Game) StepPlayer(state entitystate.EntityState, input entitystate.InputFrame, dt time.Duration) entitystate.EntityState {
	secs := float32(dt.Seconds())
	state.Velocity = input.Move.Scale(MoveSpeed)
	state.Position = state.Position.Add(state.Velocity.Scale(secs))
	state.Rotation = entitystate.Vec3{X: input.LookPitch, Y: input.LookYaw}
	return state
}

// Advance is a no-op: the demo has no AI or physics beyond player input.
func (Game) Advance(table map[entitystate.EntityID]entitystate.EntityState, tick entitystate.Tick, dt time.Duration) map[entitystate.EntityID]entitystate.EntityState {
	return table
}
