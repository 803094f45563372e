package worker

import (
	"context"
	"time"

	"brokerd/domain/order"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"
	"brokerd/statemachine"
)

// orderMachine returns the machine held by rec's driver, or restores one
// when nothing drives it. Two machines for one record would bypass the
// per-machine lock.
func (w *Worker) orderMachine(rec statemachine.Record[order.Order]) *statemachine.OrderMachine {
	w.mu.Lock()
	c, ok := w.children[string(rec.Data.Key())]
	w.mu.Unlock()
	if ok && c.order != nil {
		return c.order
	}
	return statemachine.RestoreOrder(w.orderDeps, w.env, rec)
}

func (w *Worker) fillMachine(rec statemachine.Record[order.Fill]) *statemachine.FillMachine {
	w.mu.Lock()
	c, ok := w.children[string(rec.Data.Key())]
	w.mu.Unlock()
	if ok && c.fill != nil {
		return c.fill
	}
	return statemachine.RestoreFill(w.fillDeps, w.env, rec)
}

func (w *Worker) track(key []byte, c *child) {
	w.mu.Lock()
	w.children[string(key)] = c
	w.mu.Unlock()
}

func (w *Worker) untrack(key []byte) {
	w.mu.Lock()
	delete(w.children, string(key))
	w.mu.Unlock()
}

// stopDriver ends the driver of a child that reached a terminal state from
// outside, e.g. through a user cancel.
func (w *Worker) stopDriver(key []byte) {
	w.mu.Lock()
	c, ok := w.children[string(key)]
	w.mu.Unlock()
	if ok && c.stop != nil {
		c.stop()
	}
}

func (w *Worker) driveOrder(blockOrderID string, m *statemachine.OrderMachine) {
	ctx, stop := context.WithCancel(w.ctx)
	w.track(m.Key(), &child{order: m, stop: stop})
	w.spawn(func() {
		defer stop()
		w.runOrder(ctx, m)
		w.untrack(m.Key())
		if m.Terminal() {
			w.childDone(blockOrderID)
		}
	})
}

func (w *Worker) driveFill(blockOrderID string, m *statemachine.FillMachine) {
	ctx, stop := context.WithCancel(w.ctx)
	w.track(m.Key(), &child{fill: m, stop: stop})
	w.spawn(func() {
		defer stop()
		w.runFill(ctx, m)
		w.untrack(m.Key())
		if !m.Terminal() {
			return
		}
		if m.Retryable() {
			w.retryFill(blockOrderID, m)
		}
		w.childDone(blockOrderID)
	})
}

// Transitions run detached from ctx: stopping the worker must not turn an
// interrupted relayer call into a rejected child. The machine's own
// timeout still bounds them. Only the waits between transitions end with
// ctx.
func (w *Worker) runOrder(ctx context.Context, m *statemachine.OrderMachine) {
	attempt := 0
	for !m.Terminal() && ctx.Err() == nil {
		var err error
		switch m.State() {
		case statemachine.OrderCreated:
			err = m.Place(context.WithoutCancel(ctx))
		case statemachine.OrderPlaced:
			var u relayer.OrderUpdate
			u, err = m.AwaitUpdate(ctx)
			if err != nil {
				break
			}
			switch u.Type {
			case relayer.OrderFilled:
				err = m.Execute(context.WithoutCancel(ctx), *u.Fill)
			case relayer.OrderCancelled:
				err = m.Cancel(context.WithoutCancel(ctx), order.CancelByRelayer)
			}
		case statemachine.OrderExecuting:
			err = m.Complete(context.WithoutCancel(ctx))
		}
		if err == nil {
			attempt = 0
			continue
		}
		if m.Terminal() || ctx.Err() != nil {
			return
		}
		// A dropped subscription or a lost race with a cancel; look again
		// after a pause.
		attempt++
		w.logger.Warn("order driver paused",
			logger.NewField("id", m.ID()),
			logger.NewField("attempt", attempt),
			logger.NewField("error", err.Error()),
		)
		if !w.sleep(ctx, attempt) {
			return
		}
	}
}

func (w *Worker) runFill(ctx context.Context, m *statemachine.FillMachine) {
	attempt := 0
	for !m.Terminal() && ctx.Err() == nil {
		var err error
		switch m.State() {
		case statemachine.FillCreated:
			err = m.Fill(context.WithoutCancel(ctx))
		case statemachine.FillFilled:
			var in relayer.ExecuteInstruction
			in, err = m.AwaitExecute(ctx)
			if err == nil {
				err = m.Execute(context.WithoutCancel(ctx), in)
			}
		}
		if err == nil {
			attempt = 0
			continue
		}
		if m.Terminal() || ctx.Err() != nil {
			return
		}
		attempt++
		w.logger.Warn("fill driver paused",
			logger.NewField("id", m.ID()),
			logger.NewField("attempt", attempt),
			logger.NewField("error", err.Error()),
		)
		if !w.sleep(ctx, attempt) {
			return
		}
	}
}

func (w *Worker) sleep(ctx context.Context, attempt int) bool {
	t := time.NewTimer(w.wait(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryFill hands the amount of a fill whose maker order vanished to a
// replacement, as long as the block order has retries left.
func (w *Worker) retryFill(blockOrderID string, m *statemachine.FillMachine) {
	unlock := w.locks.Lock(blockOrderID)
	defer unlock()

	bo, err := w.get(blockOrderID)
	if err != nil {
		w.logger.Error(err)
		return
	}
	if bo.Terminal() || bo.CancelRequested || bo.FillRetries >= w.fillRetries {
		return
	}
	if err := m.MarkRetried(); err != nil {
		w.logger.Error(err)
		return
	}
	bo.FillRetries++
	if err := w.save(bo, false); err != nil {
		w.logger.Error(err)
		return
	}
	w.logger.Info("retrying fill",
		logger.NewField("blockOrderId", bo.ID),
		logger.NewField("retry", bo.FillRetries),
	)
}

// childDone reworks the block order after one of its children ended: a
// partial fill or a retried fill leaves an amount to work, anything else
// just settles the status.
func (w *Worker) childDone(blockOrderID string) {
	if w.ctx.Err() != nil {
		return
	}
	w.workAsync(blockOrderID)
}

// workAsync works a block order in the background. An orderbook that is
// not in sync yet is waited for.
func (w *Worker) workAsync(id string) {
	w.spawn(func() {
		for attempt := 1; ; attempt++ {
			err := w.WorkBlockOrder(w.ctx, id)
			if err == nil || w.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, errors.UnavailableError) {
				w.logger.Error(err, logger.NewField("blockOrderId", id))
				return
			}
			if !w.sleep(w.ctx, attempt) {
				return
			}
		}
	})
}
