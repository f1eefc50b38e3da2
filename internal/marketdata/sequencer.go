package marketdata

import (
	"time"

	"main/internal/exchange"
)

// Sequencer enforces per-instrument ordering on the exchange stream.
// Messages at or below the last published sequence are duplicates and are
// dropped. Messages beyond the next expected sequence are buffered until the
// missing ones arrive; a gap that outlives the timeout or overflows the
// buffer demands a snapshot resync.
type Sequencer struct {
	synced     bool
	last       uint64
	pending    map[uint64]exchange.RawMessage
	gapSince   time.Time
	maxPending int
	gapTimeout time.Duration
}

// NewSequencer creates a sequencer with the given gap buffer bound and
// resync timeout.
func NewSequencer(maxPending int, gapTimeout time.Duration) *Sequencer {
	return &Sequencer{
		pending:    make(map[uint64]exchange.RawMessage),
		maxPending: maxPending,
		gapTimeout: gapTimeout,
	}
}

// Offer feeds one raw message. It returns the messages now ready for
// publication in sequence order, and whether a snapshot resync is required.
func (s *Sequencer) Offer(msg exchange.RawMessage, now time.Time) ([]exchange.RawMessage, bool) {
	if !s.synced {
		s.synced = true
		s.last = msg.Seq
		return append([]exchange.RawMessage{msg}, s.drain()...), false
	}

	switch {
	case msg.Seq <= s.last:
		return nil, false

	case msg.Seq == s.last+1:
		s.last = msg.Seq
		out := append([]exchange.RawMessage{msg}, s.drain()...)
		if len(s.pending) == 0 {
			s.gapSince = time.Time{}
		}
		return out, false

	default:
		if _, ok := s.pending[msg.Seq]; !ok {
			s.pending[msg.Seq] = msg
		}
		if s.gapSince.IsZero() {
			s.gapSince = now
		}
		if len(s.pending) > s.maxPending || now.Sub(s.gapSince) > s.gapTimeout {
			return nil, true
		}
		return nil, false
	}
}

// Expired reports whether an open gap has outlived the resync timeout.
func (s *Sequencer) Expired(now time.Time) bool {
	return !s.gapSince.IsZero() && now.Sub(s.gapSince) > s.gapTimeout
}

// Reset rebaselines the sequencer on an authoritative snapshot sequence and
// returns any buffered messages beyond it, in order.
func (s *Sequencer) Reset(snapshotSeq uint64) []exchange.RawMessage {
	if snapshotSeq > s.last || !s.synced {
		s.last = snapshotSeq
	}
	s.synced = true
	for seq := range s.pending {
		if seq <= s.last {
			delete(s.pending, seq)
		}
	}
	s.gapSince = time.Time{}
	return s.drain()
}

// Skip abandons an open gap by rebaselining just below the lowest buffered
// message and returns the messages that are now contiguous. Used for
// streams that cannot be replayed from a snapshot.
func (s *Sequencer) Skip() []exchange.RawMessage {
	var lowest uint64
	for seq := range s.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	if lowest != 0 {
		s.last = lowest - 1
	}
	s.gapSince = time.Time{}
	return s.drain()
}

// Last returns the last published sequence number.
func (s *Sequencer) Last() uint64 {
	return s.last
}

// drain pops contiguous buffered messages starting at last+1.
func (s *Sequencer) drain() []exchange.RawMessage {
	var out []exchange.RawMessage
	for {
		next, ok := s.pending[s.last+1]
		if !ok {
			if len(s.pending) == 0 {
				s.gapSince = time.Time{}
			}
			return out
		}
		delete(s.pending, next.Seq)
		s.last = next.Seq
		out = append(out, next)
	}
}
