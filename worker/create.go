package worker

import (
	"context"

	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// CreateBlockOrder validates p, persists a new ACTIVE block order and
// starts working it in the background.
func (w *Worker) CreateBlockOrder(ctx context.Context, p blockorder.Params) (string, error) {
	b, err := w.book(p.MarketName)
	if err != nil {
		return "", err
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	if !p.TimeInForce.Supported() {
		return "", errors.Unsupported("time in force %s is not supported", p.TimeInForce)
	}
	if p.TimeInForce == blockorder.PO && p.Price == nil {
		return "", errors.Unsupported("post-only block orders need a limit price")
	}
	m := b.Market()
	for _, symbol := range []string{m.Base.Symbol, m.Counter.Symbol} {
		if _, err := w.engines.Get(symbol); err != nil {
			return "", err
		}
	}

	bo := blockorder.New(newID(), p, w.now())
	if err := w.checkFunds(ctx, bo, b); err != nil {
		return "", err
	}
	if err := w.save(bo, true); err != nil {
		return "", err
	}
	w.logger.Info("block order created",
		logger.NewField("blockOrderId", bo.ID),
		logger.NewField("market", bo.MarketName),
		logger.NewField("side", bo.Side.String()),
		logger.NewField("amount", bo.Amount.String()),
		logger.NewField("timeInForce", string(bo.TimeInForce)),
	)
	w.workAsync(bo.ID)
	return bo.ID, nil
}

// checkFunds makes sure both engines can carry the new block order on top
// of everything already committed on the same side of the market. Market
// orders are priced at the current average of the opposite side.
func (w *Worker) checkFunds(ctx context.Context, bo *blockorder.BlockOrder, b Book) error {
	m := b.Market()
	base, err := bo.BaseAmount(m)
	if err != nil {
		return err
	}
	counter := bo.CounterAmount(m, base)
	if bo.IsMarketOrder() {
		avg, err := b.GetAveragePrice(bo.Side.Inverse(), base)
		if err != nil {
			return err
		}
		counter = avg.Mul(bo.Amount).Mul(m.Counter.QuantumsPerCommon).Round(0)
	}

	active, err := w.CalculateActiveFunds(bo.MarketName, bo.Side)
	if err != nil {
		return err
	}
	outSymbol, outAmount := m.Base.Symbol, base
	inSymbol, inAmount := m.Counter.Symbol, counter
	if bo.Side == market.Bid {
		outSymbol, outAmount, inSymbol, inAmount = inSymbol, inAmount, outSymbol, outAmount
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.sufficient(ctx, outSymbol, outAmount.Add(active.Outbound), true)
	})
	g.Go(func() error {
		return w.sufficient(ctx, inSymbol, inAmount.Add(active.Inbound), false)
	})
	return g.Wait()
}

func (w *Worker) sufficient(ctx context.Context, symbol string, amount decimal.Decimal, outbound bool) error {
	e, err := w.engines.Get(symbol)
	if err != nil {
		return err
	}
	address, err := w.relayer.GetPaymentChannelNetworkAddress(ctx, symbol)
	if err != nil {
		return errors.Upstream(err, "relayer %s address", symbol)
	}
	ok, err := e.IsBalanceSufficient(ctx, address, amount, outbound)
	if err != nil {
		return errors.Upstream(err, "%s balance check", symbol)
	}
	if !ok {
		direction := "inbound"
		if outbound {
			direction = "outbound"
		}
		return errors.Validation("insufficient %s %s balance for %s", direction, symbol, amount)
	}
	return nil
}
