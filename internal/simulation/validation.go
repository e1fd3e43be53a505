package simulation

import (
	"time"

	"golang.org/x/time/rate"

	"ticknet/internal/entitystate"
)

// KnownButtonBits is the mask of button bits the server recognizes;
// any input setting a bit outside this mask fails validation (spec
// §4.7 "buttons mask has only known bits"). The embedding game defines
// its own button semantics; ticknet only enforces the width.
const KnownButtonBits uint32 = 0xFFFF

// ButtonFire is the one button bit ticknet itself interprets: a client
// requesting a lag-compensated hitscan resolution against its reported
// position (spec §4.7). Every other bit is the embedding game's to
// define.
const ButtonFire uint32 = 1 << 0

// MaxMoveMagnitude bounds InputFrame.Move (spec §4.7: "move magnitude ≤ 1").
const MaxMoveMagnitude = 1.0

// ValidationError classifies why an input frame was rejected.
type ValidationError string

const (
	ErrSequenceNotIncreasing ValidationError = "sequence-not-increasing"
	ErrMoveMagnitude         ValidationError = "move-magnitude"
	ErrUnknownButtons        ValidationError = "unknown-buttons"
	ErrPositionTolerance     ValidationError = "position-tolerance"
	ErrRateLimited           ValidationError = "rate-limited"
)

func (e ValidationError) Error() string { return string(e) }

// ValidateInput checks an incoming InputFrame against spec §4.7's
// per-input rules: sequence strictly greater than lastSeq (that
// client's last processed sequence, supplied by the caller), move
// magnitude, and known button bits.
func ValidateInput(f entitystate.InputFrame, lastSeq uint32) error {
	if f.Sequence <= lastSeq {
		return ErrSequenceNotIncreasing
	}
	if f.Move.Magnitude() > MaxMoveMagnitude {
		return ErrMoveMagnitude
	}
	if f.Buttons&^KnownButtonBits != 0 {
		return ErrUnknownButtons
	}
	return nil
}

// ValidateReportedPosition checks that a lag-compensated action's
// self-reported shooter position is within tolerance of the server's
// recorded position for that client (spec §4.7's move_tolerance rule:
// "bounded by max speed × elapsed time").
func ValidateReportedPosition(reported, serverRecorded entitystate.Vec3, maxSpeed float32, elapsed time.Duration) error {
	tolerance := maxSpeed * float32(elapsed.Seconds())
	if reported.Distance(serverRecorded) > tolerance {
		return ErrPositionTolerance
	}
	return nil
}

// InputLimiter rate-limits one client's accepted inputs per second
// (spec §4.7, §6 max_inputs_per_second), built on x/time/rate's token
// bucket since no repo in the pack ships a bespoke limiter for this.
type InputLimiter struct {
	limiter *rate.Limiter
}

// NewInputLimiter constructs a limiter admitting up to perSecond inputs
// per second, with a burst equal to perSecond (one second's worth).
func NewInputLimiter(perSecond int) *InputLimiter {
	return &InputLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

// Allow reports whether one more input may be accepted right now.
func (l *InputLimiter) Allow() bool { return l.limiter.Allow() }
