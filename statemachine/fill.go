package statemachine

import (
	"context"
	"iter"

	"brokerd/domain/order"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/relayer"
)

const (
	FillCreated   State = "created"
	FillFilled    State = "filled"
	FillExecuted  State = "executed"
	FillCancelled State = "cancelled"
	FillRejected  State = "rejected"
)

// FillActive lists the states in which a fill still needs driving.
var FillActive = []State{FillCreated, FillFilled}

var fillDefinition = &Definition{
	Name: "fill",
	Transitions: []Transition{
		{Name: "create", From: []State{None}, To: FillCreated},
		{Name: "fill", From: []State{FillCreated}, To: FillFilled},
		{Name: "execute", From: []State{FillFilled}, To: FillExecuted},
		{Name: "cancel", From: []State{FillCreated}, To: FillCancelled},
		{Name: "reject", From: FillActive, To: FillRejected},
	},
	Rejected: FillRejected,
	Terminal: []State{FillExecuted, FillCancelled, FillRejected},
}

// FillMachine takes another maker's order and pays for it.
type FillMachine struct {
	*Machine[order.Fill]
	env Env
}

// CreateFill persists f in the created state.
func CreateFill(ctx context.Context, deps Deps, env Env, f order.Fill) (*FillMachine, error) {
	m := RestoreFill(deps, env, Record[order.Fill]{State: None, Data: f})
	if err := m.Fire(ctx, "create", nil); err != nil {
		return nil, err
	}
	return m, nil
}

// RestoreFill wraps a persisted record without touching the store.
func RestoreFill(deps Deps, env Env, rec Record[order.Fill]) *FillMachine {
	id := rec.Data.BlockOrderID + "/" + rec.Data.LocalID
	return &FillMachine{Machine: newMachine(fillDefinition, deps, id, rec.Data.Key(), rec), env: env}
}

// LoadFills restores the fill machines of a block order.
func LoadFills(deps Deps, env Env, blockOrderID string) ([]*FillMachine, error) {
	var out []*FillMachine
	for rec, err := range FillRecords(deps.Bucket, store.PrefixRange(order.Prefix(blockOrderID))) {
		if err != nil {
			return nil, err
		}
		out = append(out, RestoreFill(deps, env, rec))
	}
	return out, nil
}

// FillRecords decodes the fill records of b within r.
func FillRecords(b *store.Bucket, r store.Range) iter.Seq2[Record[order.Fill], error] {
	return scanRecords[order.Fill](b, r)
}

func (m *FillMachine) Terminal() bool {
	return fillDefinition.IsTerminal(m.State())
}

// Fill requests the fill from the relayer and pays its invoices. A relayer
// error code is kept on the record so the caller can tell whether the fill
// may be retried.
func (m *FillMachine) Fill(ctx context.Context) error {
	return m.Fire(ctx, "fill", func(ctx context.Context, f *order.Fill, checkpoint func() error) error {
		inbound, amount := f.Inbound()
		e, err := m.env.Engines.Get(inbound)
		if err != nil {
			return err
		}
		if f.SwapHash, err = e.CreateSwapHash(ctx, f.Order.OrderID, amount); err != nil {
			return errors.Upstream(err, "%s create swap hash", inbound)
		}
		base, counter, err := addresses(ctx, m.env.Engines, f.Order.BaseSymbol, f.Order.CounterSymbol)
		if err != nil {
			return err
		}
		f.TakerBaseAddress, f.TakerCounterAddress = base, counter
		if err := checkpoint(); err != nil {
			return err
		}

		resp, err := m.env.Relayer.CreateFill(ctx, relayer.CreateFillRequest{
			OrderID:             f.Order.OrderID,
			SwapHash:            f.SwapHash,
			FillAmount:          f.FillAmount,
			TakerBaseAddress:    base,
			TakerCounterAddress: counter,
		})
		if err != nil {
			f.ErrorCode = relayer.ErrorCode(err)
			return errors.Upstream(err, "create fill on %s", f.Order.OrderID)
		}
		f.FillID = resp.FillID
		f.FeePaymentRequest, f.FeeRequired = resp.FeePaymentRequest, resp.FeeRequired
		f.DepositPaymentRequest, f.DepositRequired = resp.DepositPaymentRequest, resp.DepositRequired
		if err := checkpoint(); err != nil {
			return err
		}

		outbound, _ := f.Outbound()
		refunds, err := payInvoices(ctx, m.env.Engines, outbound, &f.Invoices)
		if err != nil {
			return err
		}
		if err := checkpoint(); err != nil {
			return err
		}
		if err := m.env.Relayer.FillOrder(ctx, relayer.FillOrderRequest{FillID: f.FillID, Refunds: refunds}); err != nil {
			f.ErrorCode = relayer.ErrorCode(err)
			return errors.Upstream(err, "fill order %s", f.Order.OrderID)
		}
		return nil
	})
}

// AwaitExecute blocks until the relayer tells the taker to pay the maker.
func (m *FillMachine) AwaitExecute(ctx context.Context) (relayer.ExecuteInstruction, error) {
	rec := m.Record()
	if rec.State != FillFilled {
		return relayer.ExecuteInstruction{}, errors.Validation("fill %s is %s, not filled", m.id, rec.State)
	}
	in, err := m.env.Relayer.SubscribeExecute(ctx, rec.Data.FillID)
	if err != nil {
		return in, errors.Upstream(err, "subscribe to execution of fill %s", rec.Data.FillID)
	}
	return in, nil
}

// Execute pays the maker over the outbound engine.
func (m *FillMachine) Execute(ctx context.Context, in relayer.ExecuteInstruction) error {
	return m.Fire(ctx, "execute", func(ctx context.Context, f *order.Fill, checkpoint func() error) error {
		f.MakerAddress = in.MakerAddress
		if err := checkpoint(); err != nil {
			return err
		}
		outbound, amount := f.Outbound()
		e, err := m.env.Engines.Get(outbound)
		if err != nil {
			return err
		}
		if err := e.ExecuteSwap(ctx, f.MakerAddress, f.SwapHash, amount); err != nil {
			return errors.Upstream(err, "%s execute swap %s", outbound, f.SwapHash)
		}
		return nil
	})
}

// Cancel drops a fill that was never sent to the relayer.
func (m *FillMachine) Cancel(ctx context.Context, reason order.CancelReason) error {
	return m.Fire(ctx, "cancel", func(_ context.Context, f *order.Fill, _ func() error) error {
		f.CancelReason = reason
		return nil
	})
}

// Retryable reports whether the fill was rejected because the maker's
// order was gone, and its amount has not been handed on yet.
func (m *FillMachine) Retryable() bool {
	return FillAwaitsRetry(m.Record())
}

// MarkRetried records that a replacement fill took over the amount.
func (m *FillMachine) MarkRetried() error {
	return m.Update(func(f *order.Fill) { f.Retried = true })
}
