// Package clocksync implements the RTT/offset estimator of spec §4.3.
package clocksync

import "time"

// EMAAlpha is the exponential-moving-average weight applied to each new
// offset sample (spec §4.3).
const EMAAlpha = 0.1

// OutlierRTTFactor rejects any sample whose RTT exceeds this multiple of
// the current RTT EMA (spec §4.3).
const OutlierRTTFactor = 3.0

// InitialBurstCount/Interval and SteadyInterval define the sync cadence
// (spec §4.3): 5 pings at 100ms, then one every 1s.
const (
	InitialBurstCount    = 5
	InitialBurstInterval = 100 * time.Millisecond
	SteadyInterval       = 1 * time.Second
)

// Estimator tracks one peer's clock offset and RTT via an EMA, rejecting
// RTT outliers (spec §4.3).
type Estimator struct {
	haveRTT    bool
	rttEMA     time.Duration
	haveOffset bool
	offsetEMA  time.Duration

	sentPings int

	// ackHistory is a ring of the last 128 ack outcomes (1 = acked,
	// 0 = lost), used to derive LossRatio (spec §4.3).
	ackHistory [128]bool
	ackCount   int
	ackHead    int
}

// NewEstimator constructs a zero-valued estimator.
func NewEstimator() *Estimator { return &Estimator{} }

// PingsSentSoFar reports how many pings this estimator has issued, so
// the caller can pick burst vs. steady cadence.
func (e *Estimator) PingsSentSoFar() int { return e.sentPings }

// RecordPingSent must be called each time a clock-sync-ping is sent.
func (e *Estimator) RecordPingSent() { e.sentPings++ }

// NextInterval returns the delay before the next ping should be sent,
// per spec §4.3's burst-then-steady cadence.
func (e *Estimator) NextInterval() time.Duration {
	if e.sentPings < InitialBurstCount {
		return InitialBurstInterval
	}
	return SteadyInterval
}

// OnPong folds in a new RTT/offset sample taken from a pong response:
// tSend/tRecv are the originator's and receiver's local clocks (as
// reported in the pong), tAck is the originator's clock on receipt.
// Samples whose RTT exceeds OutlierRTTFactor times the current RTT EMA
// are rejected (spec §4.3).
func (e *Estimator) OnPong(tSend, tRecv, tAck time.Time) (accepted bool) {
	rtt := tAck.Sub(tSend)
	if rtt < 0 {
		return false
	}
	if e.haveRTT && float64(rtt) > OutlierRTTFactor*float64(e.rttEMA) {
		return false
	}

	offset := tRecv.Sub(tSend.Add(rtt / 2))

	if !e.haveRTT {
		e.rttEMA = rtt
		e.haveRTT = true
	} else {
		e.rttEMA = emaDuration(e.rttEMA, rtt)
	}
	if !e.haveOffset {
		e.offsetEMA = offset
		e.haveOffset = true
	} else {
		e.offsetEMA = emaDuration(e.offsetEMA, offset)
	}
	return true
}

func emaDuration(prev, sample time.Duration) time.Duration {
	return time.Duration((1-EMAAlpha)*float64(prev) + EMAAlpha*float64(sample))
}

// RTT returns the current smoothed round-trip estimate.
func (e *Estimator) RTT() time.Duration { return e.rttEMA }

// Offset returns the current smoothed clock offset (remote - local).
func (e *Estimator) Offset() time.Duration { return e.offsetEMA }

// RemoteNow projects the remote peer's clock from a local timestamp.
func (e *Estimator) RemoteNow(localNow time.Time) time.Time {
	return localNow.Add(e.offsetEMA)
}

// RecordAckOutcome feeds one ack/loss bit from the transport's ack
// bitfield density into the rolling loss-ratio window (spec §4.3: "loss
// ratio derived from ack bitfield density over last 128 sequences").
func (e *Estimator) RecordAckOutcome(acked bool) {
	e.ackHistory[e.ackHead] = acked
	e.ackHead = (e.ackHead + 1) % len(e.ackHistory)
	if e.ackCount < len(e.ackHistory) {
		e.ackCount++
	}
}

// LossRatio returns the fraction of the last (up to 128) recorded
// outcomes that were losses.
func (e *Estimator) LossRatio() float64 {
	if e.ackCount == 0 {
		return 0
	}
	lost := 0
	for i := 0; i < e.ackCount; i++ {
		if !e.ackHistory[i] {
			lost++
		}
	}
	return float64(lost) / float64(e.ackCount)
}
