package orderbook

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brokerd/domain/market"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"
	"brokerd/relayer/relayertest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *store.DB
	relayer *relayertest.Fake
	book    *Orderbook
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	db, err := store.Open(store.Options{InMemory: true, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := market.New("BTC/LTC", market.NewCurrencies(map[string]decimal.Decimal{
		"BTC": decimal.NewFromInt(100000000),
		"LTC": decimal.NewFromInt(100000000),
	}))
	require.NoError(t, err)

	r := relayertest.New()
	ob := New(Config{
		Market:       m,
		DB:           db,
		Relayer:      r,
		Logger:       logger.NewNop(),
		FeedCapacity: capacity,
		Backoff:      func(int) time.Duration { return time.Millisecond },
	})
	require.NoError(t, ob.Initialize())
	return &fixture{db: db, relayer: r, book: ob}
}

func placed(orderID string, ts int, side market.Side, base, counter string) market.Event {
	return market.Event{
		EventID:   "ev-" + orderID + "-" + strconv.Itoa(ts),
		OrderID:   orderID,
		Timestamp: strconv.Itoa(ts),
		Type:      market.EventPlaced,
		Payload:   market.Payload{BaseAmount: base, CounterAmount: counter, Side: side},
	}
}

func closed(typ market.EventType, orderID string, ts int) market.Event {
	return market.Event{
		EventID:   "ev-" + orderID + "-" + strconv.Itoa(ts),
		OrderID:   orderID,
		Timestamp: strconv.Itoa(ts),
		Type:      typ,
	}
}

func (f *fixture) append(t *testing.T, events ...market.Event) {
	t.Helper()
	for _, e := range events {
		_, err := f.book.log.Append(e)
		require.NoError(t, err)
	}
}

func ids(t *testing.T, seq func(func(market.Order, error) bool)) []string {
	t.Helper()
	var out []string
	for o, err := range seq {
		require.NoError(t, err)
		out = append(out, o.OrderID)
	}
	return out
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestAddDeleteScenario(t *testing.T) {
	f := newFixture(t, 0)
	f.append(t,
		placed("A", 1, market.Ask, "1", "100"),
		placed("B", 2, market.Ask, "1", "90"),
		closed(market.EventCancelled, "A", 3),
	)

	assert.Equal(t, []string{"B"}, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(nil)))
	assert.Equal(t, []string{"B"}, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(price("95"))))
	assert.Empty(t, ids(t, f.book.bids.StreamOrdersAtPriceOrBetter(nil)))
	require.NoError(t, f.book.Verify())
}

func TestConcurrentAppendStoresEventOnce(t *testing.T) {
	f := newFixture(t, 0)
	e := placed("a", 100, market.Ask, "100", "200")

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.book.log.Append(e)
			assert.NoError(t, err)
			if ok {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
	n := 0
	for _, err := range f.book.log.Bucket().Scan(store.Range{}) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}

func TestPriceIndexOrderingAndSides(t *testing.T) {
	f := newFixture(t, 0)
	f.append(t,
		placed("ask-high", 1, market.Ask, "10", "1200"),
		placed("ask-low", 2, market.Ask, "10", "1000"),
		placed("ask-mid", 3, market.Ask, "10", "1100"),
		placed("bid-low", 4, market.Bid, "10", "500"),
		placed("bid-high", 5, market.Bid, "10", "900"),
		placed("bid-mid", 6, market.Bid, "10", "700"),
	)

	assert.Equal(t, []string{"ask-low", "ask-mid", "ask-high"}, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(nil)))
	assert.Equal(t, []string{"bid-high", "bid-mid", "bid-low"}, ids(t, f.book.bids.StreamOrdersAtPriceOrBetter(nil)))

	// Inclusive of the boundary price.
	assert.Equal(t, []string{"ask-low", "ask-mid"}, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(price("110"))))
	assert.Equal(t, []string{"bid-high", "bid-mid"}, ids(t, f.book.bids.StreamOrdersAtPriceOrBetter(price("70"))))
	assert.Empty(t, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(price("99.99"))))

	// The sequence is restartable and sees later writes.
	seq := f.book.asks.StreamOrdersAtPriceOrBetter(nil)
	assert.Len(t, ids(t, seq), 3)
	f.append(t, closed(market.EventFilled, "ask-low", 7))
	assert.Equal(t, []string{"ask-mid", "ask-high"}, ids(t, seq))
}

func TestStreamRejectsInvalidPrice(t *testing.T) {
	f := newFixture(t, 0)
	for _, err := range f.book.asks.StreamOrdersAtPriceOrBetter(price("-1")) {
		assert.True(t, errors.Is(err, errors.ValidationError))
	}
}

func TestReadsRequireSync(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.book.All()
	assert.True(t, errors.Is(err, errors.UnavailableError))
	_, err = f.book.GetBestOrders(BestOrdersQuery{Side: market.Ask, Depth: decimal.NewFromInt(1)})
	assert.True(t, errors.Is(err, errors.UnavailableError))
	_, err = f.book.Watch(context.Background())
	assert.True(t, errors.Is(err, errors.UnavailableError))
}

func TestAllAndBestOrders(t *testing.T) {
	f := newFixture(t, 0)
	f.append(t,
		placed("a1", 1, market.Ask, "100000000", "5000000000"),
		placed("a2", 2, market.Ask, "200000000", "11000000000"),
		placed("a3", 3, market.Ask, "100000000", "6000000000"),
	)
	f.book.setSynced(true)

	all, err := f.book.All()
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, e := range all {
		if e.OrderID == "a2" {
			assert.Equal(t, "55", e.Price.String())
			assert.Equal(t, "2", e.Amount.String())
		}
	}

	best, err := f.book.GetBestOrders(BestOrdersQuery{Side: market.Ask, Depth: decimal.NewFromInt(250000000)})
	require.NoError(t, err)
	assert.Equal(t, "300000000", best.Depth.String())
	require.Len(t, best.Orders, 2)
	assert.Equal(t, "a1", best.Orders[0].OrderID)
	assert.Equal(t, "a2", best.Orders[1].OrderID)

	best, err = f.book.GetBestOrders(BestOrdersQuery{
		Side:    market.Ask,
		Depth:   decimal.NewFromInt(100000000),
		Exclude: func(id string) bool { return id == "a1" },
	})
	require.NoError(t, err)
	require.Len(t, best.Orders, 1)
	assert.Equal(t, "a2", best.Orders[0].OrderID)

	best, err = f.book.GetBestOrders(BestOrdersQuery{Side: market.Ask, Depth: decimal.NewFromInt(1000000000), QuantumPrice: price("55")})
	require.NoError(t, err)
	assert.Equal(t, "300000000", best.Depth.String())

	avg, err := f.book.GetAveragePrice(market.Ask, decimal.NewFromInt(200000000))
	require.NoError(t, err)
	assert.Equal(t, "52.5", avg.String())

	_, err = f.book.GetAveragePrice(market.Ask, decimal.NewFromInt(500000000))
	assert.True(t, errors.Is(err, errors.ValidationError))
}

func TestGetTrades(t *testing.T) {
	f := newFixture(t, 0)
	filled := closed(market.EventFilled, "o1", 3000)
	filled.Payload = market.Payload{BaseAmount: "100000000", CounterAmount: "200000000", Side: market.Ask}
	f.append(t,
		placed("o1", 1000, market.Ask, "100000000", "200000000"),
		placed("o2", 2000, market.Bid, "100000000", "100000000"),
		filled,
		closed(market.EventFilled, "o2", 4000),
	)
	f.book.setSynced(true)

	trades, err := f.book.GetTrades(time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "o1", trades[0].OrderID)
	assert.Equal(t, "1", trades[0].Amount)
	assert.Equal(t, "2", trades[0].Price)
	assert.Equal(t, "ASK", trades[0].Side)
	assert.Empty(t, trades[1].Amount)

	trades, err = f.book.GetTrades(time.Unix(0, 3500), 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "o2", trades[0].OrderID)

	trades, err = f.book.GetTrades(time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestRebuildIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	f.append(t,
		placed("a", 1, market.Ask, "1", "3"),
		placed("b", 2, market.Bid, "1", "2"),
		closed(market.EventFilled, "a", 3),
	)
	before := ids(t, f.book.bids.StreamOrdersAtPriceOrBetter(nil))
	require.NoError(t, f.book.Rebuild())
	require.NoError(t, f.book.Rebuild())
	assert.Equal(t, before, ids(t, f.book.bids.StreamOrdersAtPriceOrBetter(nil)))
	assert.Empty(t, ids(t, f.book.asks.StreamOrdersAtPriceOrBetter(nil)))
	require.NoError(t, f.book.Verify())
}

func TestLastUpdate(t *testing.T) {
	f := newFixture(t, 0)
	ts, seq, err := f.book.LastUpdate()
	require.NoError(t, err)
	assert.Empty(t, ts)
	assert.Zero(t, seq)

	e := placed("a", 42, market.Ask, "1", "1")
	e.EventNumber = 7
	f.append(t, placed("b", 10, market.Bid, "1", "1"), e)
	ts, seq, err = f.book.LastUpdate()
	require.NoError(t, err)
	assert.Equal(t, "42", ts)
	assert.Equal(t, uint64(7), seq)
}

func checksumOf(events ...market.Event) []byte {
	var sum market.Checksum
	for _, e := range events {
		sum.Process(e.OrderID)
	}
	return sum[:]
}

func TestRunSyncsAndResumes(t *testing.T) {
	f := newFixture(t, 0)
	existing := []market.Event{
		placed("a", 100, market.Ask, "1", "1"),
		placed("b", 200, market.Bid, "1", "1"),
	}
	s := relayertest.NewStream()
	s.Send(relayer.WatchMarketResponse{Type: relayer.StartOfEvents})
	for _, e := range existing {
		s.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEvent, MarketEvent: e})
	}
	s.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEventsDone, Checksum: checksumOf(existing...)})
	f.relayer.PushStream(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.book.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, f.book.Synced, time.Second, time.Millisecond)
	all, err := f.book.All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// A new event with a matching checksum is applied live.
	cancelled := closed(market.EventCancelled, "a", 300)
	s.Send(relayer.WatchMarketResponse{Type: relayer.NewEvent, MarketEvent: cancelled, Checksum: checksumOf(append(existing, cancelled)...)})
	require.Eventually(t, func() bool {
		all, err := f.book.All()
		return err == nil && len(all) == 1
	}, time.Second, time.Millisecond)

	// The stream drops; the next watch resumes after the last event and
	// replays nothing twice.
	resumed := relayertest.NewStream()
	resumed.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEvent, MarketEvent: cancelled})
	resumed.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEventsDone, Checksum: checksumOf(append(existing, cancelled)...)})
	f.relayer.PushStream(resumed)
	s.End()

	require.Eventually(t, func() bool { return len(f.relayer.WatchRequests()) == 2 }, time.Second, time.Millisecond)
	req := f.relayer.WatchRequests()[1]
	assert.Equal(t, "300", req.LastUpdated)
	assert.Equal(t, "BTC", req.BaseSymbol)
	require.Eventually(t, f.book.Synced, time.Second, time.Millisecond)
}

func TestRunResetsOnChecksumMismatch(t *testing.T) {
	f := newFixture(t, 0)
	stale := placed("stale", 100, market.Ask, "1", "1")
	f.append(t, stale)

	bad := relayertest.NewStream()
	bad.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEventsDone, Checksum: checksumOf(placed("other", 1, market.Ask, "1", "1"))})
	f.relayer.PushStream(bad)

	fresh := placed("fresh", 200, market.Bid, "1", "1")
	good := relayertest.NewStream()
	good.Send(relayer.WatchMarketResponse{Type: relayer.StartOfEvents})
	good.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEvent, MarketEvent: fresh})
	good.Send(relayer.WatchMarketResponse{Type: relayer.ExistingEventsDone, Checksum: checksumOf(fresh)})
	f.relayer.PushStream(good)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.book.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, f.book.Synced, time.Second, time.Millisecond)
	all, err := f.book.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "fresh", all[0].OrderID)

	reqs := f.relayer.WatchRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "100", reqs[0].LastUpdated)
	assert.Empty(t, reqs[1].LastUpdated)
}
