package simulation

import (
	"time"

	"ticknet/internal/entitystate"
)

// HitscanAction is a lag-compensated hit event carried by a client
// input (spec §4.7 "lag-compensated action (e.g., a hitscan shot)").
type HitscanAction struct {
	ShooterClientID uint16
	ShooterReported entitystate.Vec3
	TargetIDs       []entitystate.EntityID
}

// Resolve executes a HitscanAction against candidate targets
// reconstructed at the rewound tick (spec §4.7 lag compensation, items
// a-b). histories supplies each target's EntityHistoryRing; Resolve
// returns the reconstructed target states for the caller to judge, or
// an error if the shooter's reported position fails tolerance
// validation. It does not itself execute the action or apply events.
func (a HitscanAction) Resolve(
	current entitystate.Tick,
	rtt, interpDelay, tickInterval time.Duration,
	elapsedSinceReport time.Duration,
	serverShooterPos entitystate.Vec3,
	maxSpeed float32,
	histories map[entitystate.EntityID]*EntityHistoryRing,
) (rewindTick entitystate.Tick, targets map[entitystate.EntityID]entitystate.EntityState, err error) {
	if verr := ValidateReportedPosition(a.ShooterReported, serverShooterPos, maxSpeed, elapsedSinceReport); verr != nil {
		return 0, nil, verr
	}

	rewindTick = RewindTick(current, rtt, interpDelay, tickInterval)
	targets = make(map[entitystate.EntityID]entitystate.EntityState, len(a.TargetIDs))
	for _, id := range a.TargetIDs {
		ring, ok := histories[id]
		if !ok {
			continue
		}
		if state, ok := ring.Reconstruct(rewindTick); ok {
			targets[id] = state
		}
	}
	return rewindTick, targets, nil
}
