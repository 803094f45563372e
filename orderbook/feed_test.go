package orderbook

import (
	"context"
	"testing"
	"time"

	"brokerd/domain/market"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, s *Subscription) FeedEvent {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		require.True(t, ok, "subscription closed: %v", s.Err())
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for feed event")
		return FeedEvent{}
	}
}

func drained(t *testing.T, s *Subscription) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not close")
		}
	}
}

func TestWatchBacklogThenLive(t *testing.T) {
	f := newFixture(t, 0)
	f.append(t, placed("a", 1, market.Ask, "1", "1"), placed("b", 2, market.Bid, "1", "1"))
	f.book.setSynced(true)
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := f.book.Watch(ctx)
	require.NoError(t, err)

	got := map[string]FeedEventType{}
	for range 2 {
		ev := next(t, sub)
		got[ev.Order.OrderID] = ev.Type
	}
	assert.Equal(t, map[string]FeedEventType{"a": FeedAdd, "b": FeedAdd}, got)
	assert.Equal(t, FeedSync, next(t, sub).Type)
	assert.Equal(t, 1, f.book.feed.len())

	f.append(t, placed("c", 3, market.Ask, "2", "2"), closed(market.EventCancelled, "a", 4))
	ev := next(t, sub)
	assert.Equal(t, FeedAdd, ev.Type)
	assert.Equal(t, "c", ev.Order.OrderID)
	ev = next(t, sub)
	assert.Equal(t, FeedDelete, ev.Type)
	assert.Equal(t, "a", ev.Order.OrderID)
	assert.Equal(t, market.Ask, ev.Order.Side)

	cancel()
	drained(t, sub)
	assert.NoError(t, sub.Err())
	assert.Zero(t, f.book.feed.len())
}

func TestWatchOverflowCancelsSubscriber(t *testing.T) {
	f := newFixture(t, 1)
	f.book.setSynced(true)
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	sub, err := f.book.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FeedSync, next(t, sub).Type)

	// Nobody reads: the forwarder holds one event, the buffer one more.
	f.append(t,
		placed("a", 1, market.Ask, "1", "1"),
		placed("b", 2, market.Ask, "1", "1"),
		placed("c", 3, market.Ask, "1", "1"),
	)
	drained(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrOutOfCapacity)
	require.Eventually(t, func() bool { return f.book.feed.len() == 0 }, time.Second, time.Millisecond)
}

func TestRebuildEndsSubscriptions(t *testing.T) {
	f := newFixture(t, 0)
	f.book.setSynced(true)
	defer leaktest.CheckTimeout(t, 2*time.Second)()

	sub, err := f.book.Watch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FeedSync, next(t, sub).Type)

	require.NoError(t, f.book.Rebuild())
	drained(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrResynced)

	// The book keeps serving new subscribers after a rebuild.
	f.append(t, placed("a", 1, market.Bid, "1", "1"))
	ctx, cancel := context.WithCancel(context.Background())
	sub, err = f.book.Watch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", next(t, sub).Order.OrderID)
	cancel()
	drained(t, sub)
}
