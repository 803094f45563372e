package engine

import (
	"context"

	"brokerd/pkg/errors"

	"golang.org/x/sync/errgroup"
)

// PayWithRefund pays paymentRequest and, concurrently, creates the refund
// invoice the relayer uses should the order or fill not go through.
func PayWithRefund(ctx context.Context, e Engine, paymentRequest string) (refund string, err error) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.CreateRefundInvoice(ctx, paymentRequest)
		if err != nil {
			return errors.Upstream(err, "%s create refund invoice", e.Symbol())
		}
		refund = r
		return nil
	})
	g.Go(func() error {
		if err := e.PayInvoice(ctx, paymentRequest); err != nil {
			return errors.Upstream(err, "%s pay invoice", e.Symbol())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return refund, nil
}
