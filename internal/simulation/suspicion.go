package simulation

import "ticknet/internal/netlog"

// DefaultSuspicionThreshold disconnects a client once its running
// suspicion score reaches this value (supplemented from
// original_source/network_security.cpp's per-client suspicion score).
const DefaultSuspicionThreshold = 5

// Suspicion point weights per violation kind.
const (
	SuspicionPointsMoveTolerance  = 2
	SuspicionPointsRateLimited    = 1
	SuspicionPointsMalformedInput = 3
)

var suspicionLog = netlog.New("suspicion")

// SuspicionTracker accumulates a per-client suspicion score and signals
// disconnect once it crosses Threshold (spec §4.7, §7 SuspiciousAction).
type SuspicionTracker struct {
	Threshold int
	scores    map[uint16]int
}

// NewSuspicionTracker builds a tracker using DefaultSuspicionThreshold.
func NewSuspicionTracker() *SuspicionTracker {
	return &SuspicionTracker{Threshold: DefaultSuspicionThreshold, scores: make(map[uint16]int)}
}

// Add records points against clientID and reports whether the client
// has now crossed the disconnect threshold.
func (s *SuspicionTracker) Add(clientID uint16, points int, reason string) (shouldDisconnect bool) {
	s.scores[clientID] += points
	score := s.scores[clientID]
	suspicionLog.Warn("SuspiciousAction", "client_id", clientID, "reason", reason, "score", score)
	return score >= s.Threshold
}

// Score returns a client's current accumulated score.
func (s *SuspicionTracker) Score(clientID uint16) int { return s.scores[clientID] }

// Reset clears a client's score, e.g. on reconnect with a fresh session.
func (s *SuspicionTracker) Reset(clientID uint16) { delete(s.scores, clientID) }
