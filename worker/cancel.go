package worker

import (
	"context"
	"slices"
	"sync"

	"brokerd/domain/blockorder"
	"brokerd/domain/order"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/statemachine"

	"golang.org/x/sync/errgroup"
)

// CancelResult names the children a cancel reached. Orders are named by
// relayer id, or by local id when the relayer never assigned one.
type CancelResult struct {
	CancelledOrders      []string
	FailedToCancelOrders []string
}

func (r *CancelResult) merge(o CancelResult) {
	r.CancelledOrders = append(r.CancelledOrders, o.CancelledOrders...)
	r.FailedToCancelOrders = append(r.FailedToCancelOrders, o.FailedToCancelOrders...)
}

// CancelBlockOrder records the cancel intent and cancels every open child.
// Children that fail to cancel keep running and are reported; the block
// order stays ACTIVE until they end.
func (w *Worker) CancelBlockOrder(ctx context.Context, id string) (CancelResult, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	bo, err := w.get(id)
	if err != nil {
		return CancelResult{}, err
	}
	if bo.Terminal() {
		if bo.Status == blockorder.Cancelled {
			return CancelResult{}, nil
		}
		return CancelResult{}, errors.Validation("block order %s is already %s", id, bo.Status)
	}
	bo.CancelRequested = true
	if err := w.save(bo, false); err != nil {
		return CancelResult{}, err
	}

	res, err := w.cancelChildren(ctx, id, order.CancelByUser)
	if err != nil {
		return res, err
	}

	if err := w.refresh(bo); err != nil {
		return res, err
	}
	w.logger.Info("block order cancel requested",
		logger.NewField("blockOrderId", id),
		logger.NewField("cancelled", len(res.CancelledOrders)),
		logger.NewField("failed", len(res.FailedToCancelOrders)),
	)
	return res, nil
}

// cancelChildren cancels every open child of a block order. Orders are
// cancelled concurrently; those that fail keep running and are reported.
func (w *Worker) cancelChildren(ctx context.Context, id string, reason order.CancelReason) (CancelResult, error) {
	orders, fills, err := w.activeChildren(id)
	if err != nil {
		return CancelResult{}, err
	}

	var (
		mu  sync.Mutex
		res CancelResult
		g   errgroup.Group
	)
	for _, rec := range orders {
		if rec.State != statemachine.OrderCreated && rec.State != statemachine.OrderPlaced {
			continue
		}
		name := rec.Data.OrderID
		if name == "" {
			name = rec.Data.LocalID
		}
		m := w.orderMachine(rec)
		g.Go(func() error {
			err := m.Cancel(ctx, reason)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				w.logger.Warn("order not cancelled",
					logger.NewField("blockOrderId", id),
					logger.NewField("order", name),
					logger.NewField("error", err.Error()),
				)
				res.FailedToCancelOrders = append(res.FailedToCancelOrders, name)
				return nil
			}
			w.stopDriver(m.Key())
			res.CancelledOrders = append(res.CancelledOrders, name)
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range fills {
		if rec.State != statemachine.FillCreated {
			continue
		}
		m := w.fillMachine(rec)
		if err := m.Cancel(ctx, reason); err != nil {
			// The driver moved the fill on in the meantime.
			continue
		}
		w.stopDriver(m.Key())
	}

	slices.Sort(res.CancelledOrders)
	slices.Sort(res.FailedToCancelOrders)
	return res, nil
}

// CancelActiveOrders cancels every active block order of a market.
func (w *Worker) CancelActiveOrders(ctx context.Context, marketName string) (CancelResult, error) {
	if _, err := w.book(marketName); err != nil {
		return CancelResult{}, err
	}
	ids, err := w.activeIDs(marketName)
	if err != nil {
		return CancelResult{}, err
	}
	var res CancelResult
	for _, id := range ids {
		r, err := w.CancelBlockOrder(ctx, id)
		res.merge(r)
		if err != nil {
			return res, err
		}
	}
	slices.Sort(res.CancelledOrders)
	slices.Sort(res.FailedToCancelOrders)
	return res, nil
}

func (w *Worker) activeIDs(marketName string) ([]string, error) {
	var ids []string
	for kv, err := range w.activeBlockOrders.Scan(store.Range{}) {
		if err != nil {
			return nil, err
		}
		bo, err := blockorder.FromStorage(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		if bo.MarketName == marketName {
			ids = append(ids, bo.ID)
		}
	}
	return ids, nil
}

// activeChildren reads the live children of a block order from the active
// indexes.
func (w *Worker) activeChildren(id string) ([]statemachine.Record[order.Order], []statemachine.Record[order.Fill], error) {
	r := store.PrefixRange(order.Prefix(id))
	var orders []statemachine.Record[order.Order]
	for rec, err := range statemachine.OrderRecords(w.activeOrders.Target(), r) {
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, rec)
	}
	var fills []statemachine.Record[order.Fill]
	for rec, err := range statemachine.FillRecords(w.activeFills.Target(), r) {
		if err != nil {
			return nil, nil, err
		}
		fills = append(fills, rec)
	}
	return orders, fills, nil
}
