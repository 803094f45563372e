// Package orderbook maintains a local, queryable copy of one relayer
// market. The event log is the only source of truth; the open order set
// and the two price-ordered sides are derived from it by subset indexes
// that commit in the same batch as each appended event.
package orderbook

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"brokerd/domain/market"
	"brokerd/infra/index"
	"brokerd/infra/metrics"
	"brokerd/infra/store"
	"brokerd/pkg/backoff"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"

	"github.com/shopspring/decimal"
)

const (
	DefaultFeedCapacity = 256
	DefaultTradeLimit   = 50
)

type Config struct {
	Market  market.Market
	DB      *store.DB
	Relayer relayer.Relayer
	Logger  logger.Interface
	Metrics *metrics.Metrics
	// FeedCapacity bounds the live buffer of each subscription.
	FeedCapacity int
	// Backoff maps a reconnect attempt to a delay; nil means backoff.Delay.
	Backoff func(int) time.Duration
}

type Orderbook struct {
	market  market.Market
	db      *store.DB
	relayer relayer.Relayer
	logger  logger.Interface
	metrics *metrics.Metrics
	wait    func(int) time.Duration

	log    *EventLog
	book   *index.Subset
	asks   *PriceIndex
	bids   *PriceIndex
	feed   *feed
	synced atomic.Bool

	// rebuildMu keeps subscriptions from snapshotting a book that is
	// being rebuilt.
	rebuildMu sync.RWMutex
}

func New(cfg Config) *Orderbook {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = DefaultFeedCapacity
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Delay
	}
	name := cfg.Market.Name
	log := cfg.Logger.With(logger.NewField("market", name))

	events := cfg.DB.Bucket("markets", name, "events")
	book := index.New(index.Config{
		Name:       name + "/orderbook",
		Source:     events,
		Target:     cfg.DB.Bucket("markets", name, "orderbook"),
		Projection: openOrders(cfg.Market),
		Logger:     log,
		Observer:   cfg.Metrics,
	})
	side := func(s market.Side, bucket string) *PriceIndex {
		return &PriceIndex{side: s, subset: index.New(index.Config{
			Name:       name + "/" + bucket,
			Source:     book.Target(),
			Target:     cfg.DB.Bucket("markets", name, bucket),
			Projection: priceOrdered(s),
			Logger:     log,
			Observer:   cfg.Metrics,
		})}
	}

	return &Orderbook{
		market:  cfg.Market,
		db:      cfg.DB,
		relayer: cfg.Relayer,
		logger:  log,
		metrics: cfg.Metrics,
		wait:    cfg.Backoff,
		log:     NewEventLog(events),
		book:    book,
		asks:    side(market.Ask, "asks"),
		bids:    side(market.Bid, "bids"),
		feed:    newFeed(cfg.FeedCapacity, cfg.Metrics.FeedSubscribers.WithLabelValues(name)),
	}
}

func (ob *Orderbook) Market() market.Market {
	return ob.market
}

func (ob *Orderbook) EventLog() *EventLog {
	return ob.log
}

func (ob *Orderbook) indexes() []*index.Subset {
	return []*index.Subset{ob.book, ob.asks.subset, ob.bids.subset}
}

// Initialize builds the open order index and then both price indexes from
// the stored log. The order matters: each price index reads the first.
func (ob *Orderbook) Initialize() error {
	ob.logger.Info("initializing market")
	for _, idx := range ob.indexes() {
		if err := idx.EnsureIndex(); err != nil {
			return err
		}
	}
	ob.logger.Info("market initialized")
	return nil
}

// Rebuild recomputes every index from the log. Live subscriptions end with
// ErrResynced.
func (ob *Orderbook) Rebuild() error {
	return ob.rebuild(false)
}

// reset drops the log as well; the relayer will replay it.
func (ob *Orderbook) reset() error {
	return ob.rebuild(true)
}

func (ob *Orderbook) rebuild(clearLog bool) error {
	ob.rebuildMu.Lock()
	defer ob.rebuildMu.Unlock()

	ob.feed.closeAll(ErrResynced)
	idxs := ob.indexes()
	for i := len(idxs) - 1; i >= 0; i-- {
		idxs[i].Detach()
	}
	if clearLog {
		err := ob.db.Exclusive(func(tx *store.Tx) error {
			if err := tx.Clear(ob.log.Bucket()); err != nil {
				return err
			}
			for _, idx := range idxs {
				if err := tx.Clear(idx.Target()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		ob.logger.Info("event log cleared")
	}
	for _, idx := range idxs {
		if err := idx.EnsureIndex(); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks every index against the log.
func (ob *Orderbook) Verify() error {
	for _, idx := range ob.indexes() {
		if err := idx.Verify(); err != nil {
			return err
		}
	}
	return nil
}

func (ob *Orderbook) Synced() bool {
	return ob.synced.Load()
}

func (ob *Orderbook) setSynced(v bool) {
	ob.synced.Store(v)
	g := ob.metrics.OrderbookSynced.WithLabelValues(ob.market.Name)
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

func (ob *Orderbook) ready() error {
	if !ob.Synced() {
		return errors.New(errors.UnavailableError, "orderbook %s is not synced with the relayer", ob.market.Name)
	}
	return nil
}

// LastUpdate returns the timestamp and event number of the newest event,
// zero values for an empty log.
func (ob *Orderbook) LastUpdate() (timestamp string, sequence uint64, err error) {
	e, err := ob.log.Last()
	if err != nil || e == nil {
		return "", 0, err
	}
	return e.Timestamp, e.EventNumber, nil
}

// Entry is an open order with its price and amount in common units.
type Entry struct {
	market.Order
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// All returns every open order.
func (ob *Orderbook) All() ([]Entry, error) {
	if err := ob.ready(); err != nil {
		return nil, err
	}
	var out []Entry
	for kv, err := range ob.book.Scan(store.Range{}) {
		if err != nil {
			return nil, err
		}
		o, err := market.OrderFromStorage(kv.Key, kv.Value)
		if err != nil {
			return nil, errors.Wrap(errors.IndexCorruptionError, err, "decode open order %s", kv.Key)
		}
		out = append(out, Entry{Order: o, Price: o.Price(ob.market), Amount: o.Amount(ob.market)})
	}
	return out, nil
}

// Side returns the price index of side.
func (ob *Orderbook) Side(side market.Side) (*PriceIndex, error) {
	switch side {
	case market.Ask:
		return ob.asks, nil
	case market.Bid:
		return ob.bids, nil
	default:
		return nil, errors.Validation("%s is not a valid market side", side)
	}
}

type BestOrdersQuery struct {
	Side market.Side
	// Depth is the base amount, in quantums, to collect.
	Depth decimal.Decimal
	// QuantumPrice limits the scan to orders at this price or better.
	QuantumPrice *decimal.Decimal
	// Exclude skips orders, e.g. the broker's own.
	Exclude func(orderID string) bool
}

type BestOrders struct {
	Orders []market.Order
	// Depth is the base amount the orders add up to; less than requested
	// when the book is too thin.
	Depth decimal.Decimal
}

// GetBestOrders collects orders resting on q.Side, best price first, until
// their base amounts reach q.Depth.
func (ob *Orderbook) GetBestOrders(q BestOrdersQuery) (BestOrders, error) {
	if err := ob.ready(); err != nil {
		return BestOrders{}, err
	}
	idx, err := ob.Side(q.Side)
	if err != nil {
		return BestOrders{}, err
	}
	res := BestOrders{Depth: decimal.Zero}
	for o, err := range idx.StreamOrdersAtPriceOrBetter(q.QuantumPrice) {
		if err != nil {
			return BestOrders{}, err
		}
		if q.Exclude != nil && q.Exclude(o.OrderID) {
			continue
		}
		res.Orders = append(res.Orders, o)
		res.Depth = res.Depth.Add(o.Base())
		if res.Depth.GreaterThanOrEqual(q.Depth) {
			break
		}
	}
	return res, nil
}

// GetAveragePrice is the depth-weighted price, in common units, of taking
// depth base quantums from side.
func (ob *Orderbook) GetAveragePrice(side market.Side, depth decimal.Decimal) (decimal.Decimal, error) {
	if !depth.IsPositive() {
		return decimal.Zero, errors.Validation("depth must be positive, got %s", depth)
	}
	best, err := ob.GetBestOrders(BestOrdersQuery{Side: side, Depth: depth})
	if err != nil {
		return decimal.Zero, err
	}
	if best.Depth.LessThan(depth) {
		return decimal.Zero, errors.Validation("insufficient depth on %s: %s available, %s requested", side, best.Depth, depth)
	}
	remaining := depth
	weighted := decimal.Zero
	for _, o := range best.Orders {
		take := decimal.Min(remaining, o.Base())
		weighted = weighted.Add(o.Price(ob.market).Mul(take))
		remaining = remaining.Sub(take)
	}
	return weighted.DivRound(depth, market.PriceScale), nil
}

// GetTrades returns FILLED events at or after since, oldest first.
func (ob *Orderbook) GetTrades(since time.Time, limit int) ([]market.Trade, error) {
	if err := ob.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTradeLimit
	}
	var from uint64
	if !since.IsZero() && since.UnixNano() > 0 {
		from = uint64(since.UnixNano())
	}
	var trades []market.Trade
	for e, err := range ob.log.Since(from) {
		if err != nil {
			return nil, err
		}
		if e.Type != market.EventFilled {
			continue
		}
		trades = append(trades, market.TradeFromEvent(e, ob.market))
		if len(trades) == limit {
			break
		}
	}
	return trades, nil
}

// Watch subscribes to the book. See Subscription.
func (ob *Orderbook) Watch(ctx context.Context) (*Subscription, error) {
	if err := ob.ready(); err != nil {
		return nil, err
	}
	ob.rebuildMu.RLock()
	defer ob.rebuildMu.RUnlock()
	if err := ob.book.Available(); err != nil {
		return nil, err
	}
	return ob.feed.subscribe(ctx, ob.book.Target())
}
