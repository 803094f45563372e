package statemachine

import (
	"context"
	"iter"

	"brokerd/domain/order"
	"brokerd/engine"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/relayer"

	"golang.org/x/sync/errgroup"
)

const (
	OrderCreated   State = "created"
	OrderPlaced    State = "placed"
	OrderExecuting State = "executing"
	OrderCompleted State = "completed"
	OrderCancelled State = "cancelled"
	OrderRejected  State = "rejected"
)

// OrderActive lists the states in which an order still needs driving.
var OrderActive = []State{OrderCreated, OrderPlaced, OrderExecuting}

var orderDefinition = &Definition{
	Name: "order",
	Transitions: []Transition{
		{Name: "create", From: []State{None}, To: OrderCreated},
		{Name: "place", From: []State{OrderCreated}, To: OrderPlaced},
		{Name: "execute", From: []State{OrderPlaced}, To: OrderExecuting},
		{Name: "complete", From: []State{OrderExecuting}, To: OrderCompleted},
		{Name: "cancel", From: []State{OrderCreated, OrderPlaced}, To: OrderCancelled},
		{Name: "reject", From: OrderActive, To: OrderRejected},
	},
	Rejected: OrderRejected,
	Terminal: []State{OrderCompleted, OrderCancelled, OrderRejected},
}

// Env is what the machines call out to.
type Env struct {
	Relayer relayer.Relayer
	Engines engine.Registry
}

// OrderMachine places a maker order on the relayer and settles its fill.
type OrderMachine struct {
	*Machine[order.Order]
	env Env
}

// CreateOrder persists o in the created state.
func CreateOrder(ctx context.Context, deps Deps, env Env, o order.Order) (*OrderMachine, error) {
	m := RestoreOrder(deps, env, Record[order.Order]{State: None, Data: o})
	if err := m.Fire(ctx, "create", nil); err != nil {
		return nil, err
	}
	return m, nil
}

// RestoreOrder wraps a persisted record without touching the store.
func RestoreOrder(deps Deps, env Env, rec Record[order.Order]) *OrderMachine {
	id := rec.Data.BlockOrderID + "/" + rec.Data.LocalID
	return &OrderMachine{Machine: newMachine(orderDefinition, deps, id, rec.Data.Key(), rec), env: env}
}

// LoadOrders restores the order machines of a block order.
func LoadOrders(deps Deps, env Env, blockOrderID string) ([]*OrderMachine, error) {
	var out []*OrderMachine
	for rec, err := range OrderRecords(deps.Bucket, store.PrefixRange(order.Prefix(blockOrderID))) {
		if err != nil {
			return nil, err
		}
		out = append(out, RestoreOrder(deps, env, rec))
	}
	return out, nil
}

// OrderRecords decodes the order records of b within r.
func OrderRecords(b *store.Bucket, r store.Range) iter.Seq2[Record[order.Order], error] {
	return scanRecords[order.Order](b, r)
}

func (m *OrderMachine) Terminal() bool {
	return orderDefinition.IsTerminal(m.State())
}

// Place registers the order with the relayer, pays its invoices and
// places it in the book. The relayer order id is persisted as soon as it
// is known.
func (m *OrderMachine) Place(ctx context.Context) error {
	return m.Fire(ctx, "place", func(ctx context.Context, o *order.Order, checkpoint func() error) error {
		base, counter, err := addresses(ctx, m.env.Engines, o.BaseSymbol, o.CounterSymbol)
		if err != nil {
			return err
		}
		o.MakerBaseAddress, o.MakerCounterAddress = base, counter

		resp, err := m.env.Relayer.CreateOrder(ctx, relayer.CreateOrderRequest{
			BaseSymbol:          o.BaseSymbol,
			CounterSymbol:       o.CounterSymbol,
			BaseAmount:          o.BaseAmount,
			CounterAmount:       o.CounterAmount,
			Side:                o.Side,
			MakerBaseAddress:    base,
			MakerCounterAddress: counter,
		})
		if err != nil {
			return errors.Upstream(err, "create order")
		}
		o.OrderID = resp.OrderID
		o.FeePaymentRequest, o.FeeRequired = resp.FeePaymentRequest, resp.FeeRequired
		o.DepositPaymentRequest, o.DepositRequired = resp.DepositPaymentRequest, resp.DepositRequired
		if err := checkpoint(); err != nil {
			return err
		}

		outbound, _ := o.Outbound()
		refunds, err := payInvoices(ctx, m.env.Engines, outbound, &o.Invoices)
		if err != nil {
			return err
		}
		if err := checkpoint(); err != nil {
			return err
		}
		if err := m.env.Relayer.PlaceOrder(ctx, relayer.PlaceOrderRequest{OrderID: o.OrderID, Refunds: refunds}); err != nil {
			return errors.Upstream(err, "place order %s", o.OrderID)
		}
		return nil
	})
}

// AwaitUpdate blocks until the relayer fills or cancels the placed order.
func (m *OrderMachine) AwaitUpdate(ctx context.Context) (relayer.OrderUpdate, error) {
	rec := m.Record()
	if rec.State != OrderPlaced {
		return relayer.OrderUpdate{}, errors.Validation("order %s is %s, not placed", m.id, rec.State)
	}
	u, err := m.env.Relayer.SubscribeOrder(ctx, rec.Data.OrderID)
	if err != nil {
		return u, errors.Upstream(err, "subscribe to order %s", rec.Data.OrderID)
	}
	if u.Type == relayer.OrderFilled && u.Fill == nil {
		return u, errors.New(errors.UpstreamUnavailableError, "relayer filled order %s without fill terms", rec.Data.OrderID)
	}
	return u, nil
}

// Execute accepts the fill: the inbound engine prepares to receive the
// swap and the relayer is told to go ahead.
func (m *OrderMachine) Execute(ctx context.Context, fill relayer.FillTerms) error {
	return m.Fire(ctx, "execute", func(ctx context.Context, o *order.Order, checkpoint func() error) error {
		o.FillID = fill.FillID
		o.FillAmount = fill.FillAmount
		o.SwapHash = fill.SwapHash
		o.TakerAddress = fill.TakerAddress
		if err := checkpoint(); err != nil {
			return err
		}

		symbol, amount := o.FilledInbound()
		e, err := m.env.Engines.Get(symbol)
		if err != nil {
			return err
		}
		if err := e.PrepareSwap(ctx, o.SwapHash, amount); err != nil {
			return errors.Upstream(err, "%s prepare swap %s", symbol, o.SwapHash)
		}
		if err := m.env.Relayer.ExecuteOrder(ctx, o.OrderID); err != nil {
			return errors.Upstream(err, "execute order %s", o.OrderID)
		}
		return nil
	})
}

// Complete hands the settled swap preimage to the relayer.
func (m *OrderMachine) Complete(ctx context.Context) error {
	return m.Fire(ctx, "complete", func(ctx context.Context, o *order.Order, checkpoint func() error) error {
		symbol, _ := o.FilledInbound()
		e, err := m.env.Engines.Get(symbol)
		if err != nil {
			return err
		}
		preimage, err := e.GetSettledSwapPreimage(ctx, o.SwapHash)
		if err != nil {
			return errors.Upstream(err, "%s settled preimage of %s", symbol, o.SwapHash)
		}
		o.SwapPreimage = preimage
		if err := checkpoint(); err != nil {
			return err
		}
		if err := m.env.Relayer.CompleteOrder(ctx, o.OrderID, preimage); err != nil {
			return errors.Upstream(err, "complete order %s", o.OrderID)
		}
		return nil
	})
}

// Cancel cancels the order. An order the relayer already knows is
// cancelled there first, unless the relayer itself reported the
// cancellation. A failed cancel leaves the order as it was.
func (m *OrderMachine) Cancel(ctx context.Context, reason order.CancelReason) error {
	return m.Attempt(ctx, "cancel", func(ctx context.Context, o *order.Order, _ func() error) error {
		if o.OrderID != "" && reason != order.CancelByRelayer {
			if err := m.env.Relayer.CancelOrder(ctx, o.OrderID); err != nil {
				return errors.Upstream(err, "cancel order %s", o.OrderID)
			}
		}
		o.CancelReason = reason
		return nil
	})
}

// addresses fetches the broker's payment channel addresses for a pair.
func addresses(ctx context.Context, engines engine.Registry, baseSymbol, counterSymbol string) (base, counter string, err error) {
	be, err := engines.Get(baseSymbol)
	if err != nil {
		return "", "", err
	}
	ce, err := engines.Get(counterSymbol)
	if err != nil {
		return "", "", err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if base, err = be.GetPaymentChannelNetworkAddress(ctx); err != nil {
			return errors.Upstream(err, "%s address", baseSymbol)
		}
		return nil
	})
	g.Go(func() (err error) {
		if counter, err = ce.GetPaymentChannelNetworkAddress(ctx); err != nil {
			return errors.Upstream(err, "%s address", counterSymbol)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return base, counter, nil
}

// payInvoices pays whichever of the fee and deposit invoices are required
// through the engine of symbol and records the refund invoices on inv.
func payInvoices(ctx context.Context, engines engine.Registry, symbol string, inv *order.Invoices) (relayer.Refunds, error) {
	e, err := engines.Get(symbol)
	if err != nil {
		return relayer.Refunds{}, err
	}
	g, ctx := errgroup.WithContext(ctx)
	if inv.FeeRequired {
		g.Go(func() (err error) {
			inv.FeeRefundPaymentRequest, err = engine.PayWithRefund(ctx, e, inv.FeePaymentRequest)
			return err
		})
	}
	if inv.DepositRequired {
		g.Go(func() (err error) {
			inv.DepositRefundPaymentRequest, err = engine.PayWithRefund(ctx, e, inv.DepositPaymentRequest)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return relayer.Refunds{}, err
	}
	return relayer.Refunds{
		FeeRefundPaymentRequest:     inv.FeeRefundPaymentRequest,
		DepositRefundPaymentRequest: inv.DepositRefundPaymentRequest,
	}, nil
}
