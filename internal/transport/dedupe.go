package transport

// recvWindowSize is the sliding receive window width used for duplicate
// suppression of inbound peer_seq values (spec §4.2).
const recvWindowSize = 1024

// dedupeWindow tracks which of the last recvWindowSize sequence numbers
// have already been seen, sliding forward as higher sequences arrive.
// Comparisons use signed 16-bit difference so u16 wraparound (spec §8)
// is handled transparently.
type dedupeWindow struct {
	have    bool
	highest uint16
	seen    [recvWindowSize]bool
}

func seq16Diff(a, b uint16) int32 {
	return int32(int16(a - b))
}

// Accept reports whether seq is new (not previously seen and within the
// window), recording it as seen. A sequence older than the window trails
// is treated as a duplicate to be safe.
func (d *dedupeWindow) Accept(seq uint16) bool {
	if !d.have {
		d.have = true
		d.highest = seq
		d.seen[int(seq)%recvWindowSize] = true
		return true
	}

	diff := seq16Diff(seq, d.highest)
	switch {
	case diff == 0:
		return false // exact duplicate of the highest seen
	case diff > 0:
		// New high watermark: clear slots strictly between the old and
		// new highest so stale "seen" bits don't falsely dedupe future
		// wrapped sequences.
		advance := diff
		if advance > recvWindowSize {
			advance = recvWindowSize
		}
		for i := int32(1); i < advance; i++ {
			idx := int(uint16(int32(d.highest)+i)) % recvWindowSize
			d.seen[idx] = false
		}
		d.highest = seq
		d.seen[int(seq)%recvWindowSize] = true
		return true
	default:
		if -diff >= recvWindowSize {
			return false // older than the window, can't tell: drop
		}
		idx := int(seq) % recvWindowSize
		if d.seen[idx] {
			return false
		}
		d.seen[idx] = true
		return true
	}
}

// AckBits builds the peer_ack/ack_bits pair for an outbound header: the
// highest received sequence and a bitfield for the preceding 32.
func (d *dedupeWindow) AckBits() (peerAck uint16, ackBits uint32) {
	if !d.have {
		return 0, 0
	}
	peerAck = d.highest
	for i := uint32(0); i < 32; i++ {
		prior := uint16(int32(d.highest) - int32(i) - 1)
		if d.seen[int(prior)%recvWindowSize] {
			ackBits |= 1 << i
		}
	}
	return peerAck, ackBits
}
