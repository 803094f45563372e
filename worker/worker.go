// Package worker turns block orders into relayer orders and fills and
// drives those children to completion.
//
// Work on one block order is serialized by a keyed mutex; every child runs
// in its own goroutine until it reaches a terminal state, after which the
// block order is reworked or its status refreshed.
package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/domain/order"
	"brokerd/engine"
	"brokerd/infra/index"
	"brokerd/infra/metrics"
	"brokerd/infra/outbox"
	"brokerd/infra/store"
	"brokerd/orderbook"
	"brokerd/pkg/backoff"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"
	"brokerd/statemachine"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Book is the part of an orderbook the worker trades against.
type Book interface {
	Market() market.Market
	GetBestOrders(q orderbook.BestOrdersQuery) (orderbook.BestOrders, error)
	GetAveragePrice(side market.Side, depth decimal.Decimal) (decimal.Decimal, error)
}

type Config struct {
	DB      *store.DB
	Books   []Book
	Relayer relayer.Relayer
	Engines engine.Registry
	// Outbox receives a notification for every status change; nil disables
	// notifications.
	Outbox  *outbox.Outbox
	Logger  logger.Interface
	Metrics *metrics.Metrics

	// FillRetries caps how often fills rejected with ORDER_NOT_PLACED are
	// replaced, per block order.
	FillRetries int
	// CallTimeout bounds every state machine action.
	CallTimeout time.Duration
	Backoff     func(int) time.Duration
	Now         func() time.Time
}

type Worker struct {
	db          *store.DB
	books       map[string]Book
	relayer     relayer.Relayer
	engines     engine.Registry
	outbox      *outbox.Outbox
	logger      logger.Interface
	metrics     *metrics.Metrics
	fillRetries int
	wait        func(int) time.Duration
	now         func() time.Time

	blockOrders       *store.Bucket
	activeBlockOrders *index.Subset
	activeOrders      *index.Subset
	activeFills       *index.Subset
	orderDeps         statemachine.Deps
	fillDeps          statemachine.Deps
	env               statemachine.Env

	locks *keyedMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	children map[string]*child
}

// child is a running order or fill driver.
type child struct {
	order *statemachine.OrderMachine
	fill  *statemachine.FillMachine
	stop  context.CancelFunc
}

func New(cfg Config) *Worker {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Delay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger.With(logger.NewField("component", "worker"))

	books := make(map[string]Book, len(cfg.Books))
	for _, b := range cfg.Books {
		books[b.Market().Name] = b
	}

	newIndex := func(name string, source *store.Bucket, p index.Projection) *index.Subset {
		return index.New(index.Config{
			Name:       name + "/active",
			Source:     source,
			Target:     cfg.DB.Bucket(name, "active"),
			Projection: p,
			Logger:     log,
			Observer:   cfg.Metrics,
		})
	}
	blockOrders := cfg.DB.Bucket("blockorders")
	orders := cfg.DB.Bucket("orders")
	fills := cfg.DB.Bucket("fills")
	deps := func(b *store.Bucket) statemachine.Deps {
		return statemachine.Deps{
			Bucket:  b,
			Logger:  log,
			Metrics: cfg.Metrics,
			Timeout: cfg.CallTimeout,
			Now:     cfg.Now,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		db:                cfg.DB,
		books:             books,
		relayer:           cfg.Relayer,
		engines:           cfg.Engines,
		outbox:            cfg.Outbox,
		logger:            log,
		metrics:           cfg.Metrics,
		fillRetries:       cfg.FillRetries,
		wait:              cfg.Backoff,
		now:               cfg.Now,
		blockOrders:       blockOrders,
		activeBlockOrders: newIndex("blockorders", blockOrders, activeBlockOrders),
		activeOrders:      newIndex("orders", orders, statemachine.ActiveProjection(statemachine.OrderActive...)),
		activeFills:       newIndex("fills", fills, statemachine.ActiveProjection(statemachine.FillActive...)),
		orderDeps:         deps(orders),
		fillDeps:          deps(fills),
		env:               statemachine.Env{Relayer: cfg.Relayer, Engines: cfg.Engines},
		locks:             newKeyedMutex(),
		ctx:               ctx,
		cancel:            cancel,
		children:          make(map[string]*child),
	}
}

var activeBlockOrders = index.ProjectionFunc(func(key, value []byte) (index.Operation, error) {
	var head struct {
		Status blockorder.Status `json:"status"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return index.Operation{}, err
	}
	if head.Status != blockorder.Active {
		return index.Operation{}, nil
	}
	return index.PutOp(key, value), nil
})

// Indexes returns the active-state indexes, for rebuilds and verification.
func (w *Worker) Indexes() []*index.Subset {
	return []*index.Subset{w.activeBlockOrders, w.activeOrders, w.activeFills}
}

// Initialize builds the active indexes, recovers children left behind by
// the previous run and resumes every active block order.
func (w *Worker) Initialize(ctx context.Context) error {
	for _, idx := range w.Indexes() {
		if err := idx.EnsureIndex(); err != nil {
			return err
		}
	}
	if err := w.recoverOrders(ctx); err != nil {
		return err
	}
	if err := w.recoverFills(ctx); err != nil {
		return err
	}

	var ids []string
	for kv, err := range w.activeBlockOrders.Scan(store.Range{}) {
		if err != nil {
			return err
		}
		ids = append(ids, string(kv.Key))
	}
	for _, id := range ids {
		w.workAsync(id)
	}
	w.logger.Info("worker initialized", logger.NewField("activeBlockOrders", len(ids)))
	return nil
}

// Orders created but never placed have no durable relayer state to resume
// from and are abandoned. One the relayer refuses to cancel is rejected
// with the cancel error, which fails its block order. Everything further
// along is driven on.
func (w *Worker) recoverOrders(ctx context.Context) error {
	var recs []statemachine.Record[order.Order]
	for rec, err := range statemachine.OrderRecords(w.activeOrders.Target(), store.Range{}) {
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		m := w.orderMachine(rec)
		if rec.State == statemachine.OrderCreated {
			if err := m.Cancel(ctx, order.CancelByRecovery); err != nil {
				w.logger.Error(err, logger.NewField("blockOrderId", rec.Data.BlockOrderID))
				if rerr := m.Reject(ctx, err); rerr != nil {
					return rerr
				}
			}
			continue
		}
		w.driveOrder(rec.Data.BlockOrderID, m)
	}
	return nil
}

func (w *Worker) recoverFills(ctx context.Context) error {
	var recs []statemachine.Record[order.Fill]
	for rec, err := range statemachine.FillRecords(w.activeFills.Target(), store.Range{}) {
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		m := w.fillMachine(rec)
		if rec.State == statemachine.FillCreated {
			if err := m.Cancel(ctx, order.CancelByRecovery); err != nil {
				w.logger.Error(err, logger.NewField("blockOrderId", rec.Data.BlockOrderID))
			}
			continue
		}
		w.driveFill(rec.Data.BlockOrderID, m)
	}
	return nil
}

// Close stops every driver and waits for them. Children keep their
// persisted state and are resumed by the next Initialize.
func (w *Worker) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) spawn(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

func newID() string {
	return ulid.Make().String()
}

func (w *Worker) get(id string) (*blockorder.BlockOrder, error) {
	v, err := w.blockOrders.Get([]byte(id))
	if errors.Is(err, errors.NotFoundError) {
		return nil, errors.NotFound("block order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return blockorder.FromStorage([]byte(id), v)
}

func (w *Worker) book(name string) (Book, error) {
	b, ok := w.books[name]
	if !ok {
		return nil, errors.Unsupported("market %s is not supported", name)
	}
	return b, nil
}

type statusEvent struct {
	V            int               `json:"v"`
	Type         string            `json:"type"`
	BlockOrderID string            `json:"blockOrderId"`
	Market       string            `json:"market"`
	Status       blockorder.Status `json:"status"`
	At           time.Time         `json:"at"`
}

// save persists bo. When notify is set a status notification is staged in
// the same batch.
func (w *Worker) save(bo *blockorder.BlockOrder, notify bool) error {
	v, err := bo.Value()
	if err != nil {
		return err
	}
	ops := []store.Op{store.Put(w.blockOrders, bo.Key(), v)}
	if notify && w.outbox != nil {
		payload, err := json.Marshal(statusEvent{
			V:            1,
			Type:         "block_order.status",
			BlockOrderID: bo.ID,
			Market:       bo.MarketName,
			Status:       bo.Status,
			At:           w.now().UTC(),
		})
		if err != nil {
			return errors.Wrap(errors.InternalError, err, "encode status of %s", bo.ID)
		}
		ops = append(ops, w.outbox.Stage([]byte(bo.ID), payload))
	}
	if err := w.db.Write(ops...); err != nil {
		return err
	}
	if notify {
		w.metrics.BlockOrders.WithLabelValues(string(bo.Status)).Inc()
	}
	return nil
}

// refresh derives bo's status from its children and persists bo. The
// record is always written so intents set by the caller stick.
func (w *Worker) refresh(bo *blockorder.BlockOrder) error {
	b, err := w.book(bo.MarketName)
	if err != nil {
		return err
	}
	amount, err := bo.BaseAmount(b.Market())
	if err != nil {
		return err
	}
	children, _, err := w.summary(bo)
	if err != nil {
		return err
	}
	prev := bo.Status
	bo.Status = bo.DeriveStatus(amount, children)
	changed := prev != bo.Status
	if changed {
		w.logger.Info("block order status changed",
			logger.NewField("blockOrderId", bo.ID),
			logger.NewField("from", string(prev)),
			logger.NewField("to", string(bo.Status)),
		)
	}
	return w.save(bo, changed)
}

// summary reads every child of a block order from the store. A fill that
// will be retried counts as in flight so the block order does not fail
// before its replacement exists.
func (w *Worker) summary(bo *blockorder.BlockOrder) ([]blockorder.Child, decimal.Decimal, error) {
	var children []blockorder.Child
	committed := decimal.Zero
	retries := !bo.CancelRequested && bo.FillRetries < w.fillRetries
	r := store.PrefixRange(order.Prefix(bo.ID))
	for rec, err := range statemachine.OrderRecords(w.orderDeps.Bucket, r) {
		if err != nil {
			return nil, committed, err
		}
		children = append(children, statemachine.OrderChild(rec))
		committed = committed.Add(statemachine.OrderCommitted(rec))
	}
	for rec, err := range statemachine.FillRecords(w.fillDeps.Bucket, r) {
		if err != nil {
			return nil, committed, err
		}
		c := statemachine.FillChild(rec)
		if retries && statemachine.FillAwaitsRetry(rec) {
			c.Outcome = blockorder.InFlight
		}
		children = append(children, c)
		committed = committed.Add(statemachine.FillCommitted(rec))
	}
	return children, committed, nil
}
