package worker

import (
	"context"

	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/domain/order"
	"brokerd/engine"
	"brokerd/infra/store"
	"brokerd/orderbook"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/statemachine"

	"github.com/shopspring/decimal"
)

// WorkBlockOrder creates children for whatever amount of the block order
// is not yet committed to a live or successful child. Calling it again
// with nothing left to work only refreshes the status. A rejected child
// that will not be replaced fails the block order instead.
func (w *Worker) WorkBlockOrder(ctx context.Context, id string) error {
	unlock := w.locks.Lock(id)
	defer unlock()

	bo, err := w.get(id)
	if err != nil {
		return err
	}
	if bo.Terminal() {
		return nil
	}
	children, committed, err := w.summary(bo)
	if err != nil {
		return err
	}
	if !bo.CancelRequested && bo.FailureReason == "" {
		if reason := blockorder.FailureOf(children); reason != "" {
			return w.fail(ctx, bo, reason)
		}
	}
	if err := w.refresh(bo); err != nil {
		return err
	}
	if bo.Terminal() || bo.CancelRequested || bo.FailureReason != "" {
		return nil
	}

	b, err := w.book(bo.MarketName)
	if err != nil {
		return err
	}
	amount, err := bo.BaseAmount(b.Market())
	if err != nil {
		return err
	}
	remaining := amount.Sub(committed)
	if !remaining.IsPositive() {
		return nil
	}

	err = w.work(ctx, bo, b, remaining)
	if errors.Is(err, errors.ValidationError) {
		if ferr := w.fail(ctx, bo, err.Error()); ferr != nil {
			return ferr
		}
	}
	return err
}

// fail records reason on bo and cancels its open children. The block order
// ends FAILED, or PARTIALLY_COMPLETED, once the children that refused to
// cancel are done. The caller holds bo's lock.
func (w *Worker) fail(ctx context.Context, bo *blockorder.BlockOrder, reason string) error {
	w.logger.Warn("block order failed",
		logger.NewField("blockOrderId", bo.ID),
		logger.NewField("reason", reason),
	)
	bo.FailureReason = reason
	if err := w.save(bo, false); err != nil {
		return err
	}
	if _, err := w.cancelChildren(ctx, bo.ID, order.CancelByFailure); err != nil {
		return err
	}
	return w.refresh(bo)
}

func (w *Worker) work(ctx context.Context, bo *blockorder.BlockOrder, b Book, remaining decimal.Decimal) error {
	own, err := w.ownOrderIDs()
	if err != nil {
		return err
	}
	m := b.Market()
	best, err := b.GetBestOrders(orderbook.BestOrdersQuery{
		Side:         bo.Side.Inverse(),
		Depth:        remaining,
		QuantumPrice: bo.QuantumPrice(m),
		Exclude: func(orderID string) bool {
			_, ok := own[orderID]
			return ok
		},
	})
	if err != nil {
		return err
	}

	switch {
	case bo.IsMarketOrder():
		if best.Depth.LessThan(remaining) {
			return errors.Validation("insufficient depth on %s: %s available, %s needed", m.Name, best.Depth, remaining)
		}
		_, err := w.fill(ctx, bo, best.Orders, remaining)
		return err
	case bo.TimeInForce == blockorder.PO:
		if len(best.Orders) > 0 {
			return errors.Validation("post-only block order %s would take liquidity at %s", bo.ID, bo.Price)
		}
		return w.place(ctx, bo, m, remaining)
	default:
		rest, err := w.fill(ctx, bo, best.Orders, remaining)
		if err != nil {
			return err
		}
		if !rest.IsPositive() {
			return nil
		}
		return w.place(ctx, bo, m, rest)
	}
}

// fill takes from orders, best first, until amount is covered. It returns
// what is left.
func (w *Worker) fill(ctx context.Context, bo *blockorder.BlockOrder, orders []market.Order, amount decimal.Decimal) (decimal.Decimal, error) {
	rest := amount
	for _, o := range orders {
		if !rest.IsPositive() {
			break
		}
		take := decimal.Min(rest, o.Base())
		m, err := statemachine.CreateFill(ctx, w.fillDeps, w.env, order.Fill{
			BlockOrderID: bo.ID,
			LocalID:      newID(),
			Order:        o,
			FillAmount:   take.String(),
		})
		if err != nil {
			return rest, err
		}
		w.driveFill(bo.ID, m)
		rest = rest.Sub(take)
	}
	return rest, nil
}

// place rests amount on the book as maker orders no larger than the base
// engine's max payment size.
func (w *Worker) place(ctx context.Context, bo *blockorder.BlockOrder, m market.Market, amount decimal.Decimal) error {
	e, err := w.engines.Get(m.Base.Symbol)
	if err != nil {
		return err
	}
	for _, part := range engine.SplitAmount(amount, e.MaxPaymentSize()) {
		om, err := statemachine.CreateOrder(ctx, w.orderDeps, w.env, order.Order{
			BlockOrderID:  bo.ID,
			LocalID:       newID(),
			BaseSymbol:    m.Base.Symbol,
			CounterSymbol: m.Counter.Symbol,
			Side:          bo.Side,
			BaseAmount:    part.String(),
			CounterAmount: bo.CounterAmount(m, part).String(),
		})
		if err != nil {
			return err
		}
		w.driveOrder(bo.ID, om)
	}
	return nil
}

// ownOrderIDs collects the relayer ids of the broker's live orders.
func (w *Worker) ownOrderIDs() (map[string]struct{}, error) {
	own := make(map[string]struct{})
	for rec, err := range statemachine.OrderRecords(w.activeOrders.Target(), store.Range{}) {
		if err != nil {
			return nil, err
		}
		if rec.Data.OrderID != "" {
			own[rec.Data.OrderID] = struct{}{}
		}
	}
	return own, nil
}
