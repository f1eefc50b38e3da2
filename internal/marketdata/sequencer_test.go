package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/exchange"
)

func raw(seq uint64) exchange.RawMessage {
	return exchange.RawMessage{Channel: "orderbook_delta", Ticker: "KXTEST-A", Seq: seq}
}

func seqsOf(msgs []exchange.RawMessage) []uint64 {
	out := make([]uint64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}

func TestSequencerInOrder(t *testing.T) {
	s := NewSequencer(8, time.Second)
	now := time.Now()

	for seq := uint64(1); seq <= 3; seq++ {
		ready, resync := s.Offer(raw(seq), now)
		require.False(t, resync)
		require.Equal(t, []uint64{seq}, seqsOf(ready))
	}
	require.Equal(t, uint64(3), s.Last())
}

func TestSequencerDropsDuplicates(t *testing.T) {
	s := NewSequencer(8, time.Second)
	now := time.Now()

	s.Offer(raw(1), now)
	s.Offer(raw(2), now)

	for _, seq := range []uint64{1, 2} {
		ready, resync := s.Offer(raw(seq), now)
		require.False(t, resync)
		require.Empty(t, ready)
	}
	require.Equal(t, uint64(2), s.Last())
}

func TestSequencerBuffersGapAndFlushes(t *testing.T) {
	s := NewSequencer(8, time.Second)
	now := time.Now()

	s.Offer(raw(1), now)

	ready, resync := s.Offer(raw(3), now)
	require.False(t, resync)
	require.Empty(t, ready, "out-of-order message must be held back")

	ready, resync = s.Offer(raw(4), now)
	require.False(t, resync)
	require.Empty(t, ready)

	ready, resync = s.Offer(raw(2), now)
	require.False(t, resync)
	require.Equal(t, []uint64{2, 3, 4}, seqsOf(ready))
	require.Equal(t, uint64(4), s.Last())
	require.False(t, s.Expired(now.Add(time.Hour)), "resolved gap must clear the timer")
}

func TestSequencerResyncOnOverflow(t *testing.T) {
	s := NewSequencer(2, time.Minute)
	now := time.Now()

	s.Offer(raw(1), now)
	for seq := uint64(3); seq <= 4; seq++ {
		_, resync := s.Offer(raw(seq), now)
		require.False(t, resync)
	}
	_, resync := s.Offer(raw(5), now)
	require.True(t, resync, "pending past the bound demands a resync")
}

func TestSequencerResyncOnTimeout(t *testing.T) {
	s := NewSequencer(8, 10*time.Millisecond)
	now := time.Now()

	s.Offer(raw(1), now)
	_, resync := s.Offer(raw(3), now)
	require.False(t, resync)

	later := now.Add(20 * time.Millisecond)
	require.True(t, s.Expired(later))
	_, resync = s.Offer(raw(5), later)
	require.True(t, resync)
}

func TestSequencerReset(t *testing.T) {
	s := NewSequencer(8, time.Second)
	now := time.Now()

	s.Offer(raw(1), now)
	s.Offer(raw(3), now)
	s.Offer(raw(4), now)
	s.Offer(raw(6), now)

	ready := s.Reset(4)
	require.Empty(t, ready, "seq 6 is still beyond the snapshot")
	require.Equal(t, uint64(4), s.Last())

	ready, resync := s.Offer(raw(5), now)
	require.False(t, resync)
	require.Equal(t, []uint64{5, 6}, seqsOf(ready))
}

func TestSequencerSkipAbandonsGap(t *testing.T) {
	s := NewSequencer(8, time.Second)
	now := time.Now()

	s.Offer(raw(1), now)
	s.Offer(raw(3), now)
	s.Offer(raw(4), now)
	require.True(t, s.Expired(now.Add(2*time.Second)))

	require.Equal(t, []uint64{3, 4}, seqsOf(s.Skip()))
	require.Equal(t, uint64(4), s.Last())
	require.False(t, s.Expired(now.Add(2*time.Second)))

	// The stream continues from the new baseline.
	ready, resync := s.Offer(raw(5), now)
	require.False(t, resync)
	require.Equal(t, []uint64{5}, seqsOf(ready))
}
