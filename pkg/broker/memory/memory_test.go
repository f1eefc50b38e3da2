package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/pkg/broker"
)

func TestPublishConsumeInOrder(t *testing.T) {
	b := NewBroker()
	prod := b.Producer()
	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(t, prod.Publish("market.X", "X", []byte(payload)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 3)
	go func() {
		_ = b.Consumer("g1").Consume(ctx, []string{"market.X"}, func(m broker.Message) error {
			got <- string(m.Payload)
			return nil
		})
	}()

	for _, want := range []string{"1", "2", "3"} {
		select {
		case payload := <-got:
			require.Equal(t, want, payload)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestCommittedOffsetResumes(t *testing.T) {
	b := NewBroker()
	prod := b.Producer()
	require.NoError(t, prod.Publish("t", "", []byte("a")))
	require.NoError(t, prod.Publish("t", "", []byte("b")))

	consume := func(n int) []string {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var seen []string
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = b.Consumer("g").Consume(ctx, []string{"t"}, func(m broker.Message) error {
				seen = append(seen, string(m.Payload))
				if len(seen) == n {
					cancel()
				}
				return nil
			})
		}()
		<-done
		return seen
	}

	require.Equal(t, []string{"a"}, consume(1))
	require.NoError(t, prod.Publish("t", "", []byte("c")))
	// Resumes past the committed offset, not from the start.
	require.Equal(t, []string{"b", "c"}, consume(2))
}

func TestSeparateGroupsGetFullRetention(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Producer().Publish("t", "", []byte("a")))

	for _, group := range []string{"g1", "g2"} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		got := make(chan string, 1)
		go func() {
			_ = b.Consumer(group).Consume(ctx, []string{"t"}, func(m broker.Message) error {
				got <- string(m.Payload)
				return nil
			})
		}()
		select {
		case payload := <-got:
			require.Equal(t, "a", payload)
		case <-ctx.Done():
			t.Fatalf("group %s never saw retained message", group)
		}
		cancel()
	}
}

func TestFailingHandlerRetriesWithoutSpinning(t *testing.T) {
	b := NewBroker()
	require.NoError(t, b.Producer().Publish("t", "", []byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var attempts atomic.Int64
	_ = b.Consumer("g").Consume(ctx, []string{"t"}, func(m broker.Message) error {
		attempts.Add(1)
		return errors.New("handler down")
	})

	// Redelivered, but paced: an unpaced loop would rack up millions of
	// attempts in the same window.
	require.GreaterOrEqual(t, attempts.Load(), int64(2))
	require.LessOrEqual(t, attempts.Load(), int64(50))
}
