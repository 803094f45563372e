package orderbook

import (
	"context"
	"io"
	"time"

	"brokerd/domain/market"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"
)

var errChecksumMismatch = errors.New(errors.IndexCorruptionError, "market checksum does not match the relayer's")

// Run keeps the log in sync with the relayer until ctx is done. A
// dropped stream is reopened with exponential backoff; a checksum mismatch
// throws the log away and replays the market from the start.
func (ob *Orderbook) Run(ctx context.Context) error {
	attempt := 0
	for {
		progressed, err := ob.watch(ctx)
		ob.setSynced(false)
		if ctx.Err() != nil {
			return nil
		}
		if progressed {
			attempt = 0
		}

		if errors.Is(err, errors.IndexCorruptionError) {
			ob.logger.Error(err)
			if err := ob.reset(); err != nil {
				ob.logger.Error(err)
			}
		} else {
			ob.logger.Warn("market watcher stopped", logger.NewField("error", err.Error()))
		}

		attempt++
		delay := ob.wait(attempt)
		ob.logger.Info("re-watching market", logger.NewField("attempt", attempt), logger.NewField("delay", delay.String()))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// watch consumes one relayer stream. progressed reports whether any
// response arrived, so that a healthy but later dropped stream resets the
// backoff.
func (ob *Orderbook) watch(ctx context.Context) (progressed bool, err error) {
	lastUpdated, sequence, err := ob.LastUpdate()
	if err != nil {
		return false, err
	}
	sum, err := ob.checksum()
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := ob.relayer.WatchMarket(ctx, relayer.WatchMarketRequest{
		BaseSymbol:    ob.market.Base.Symbol,
		CounterSymbol: ob.market.Counter.Symbol,
		LastUpdated:   lastUpdated,
		Sequence:      sequence,
	})
	if err != nil {
		return false, err
	}
	ob.logger.Info("watching market", logger.NewField("lastUpdated", lastUpdated))

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return progressed, errors.New(errors.UpstreamUnavailableError, "relayer ended the market stream")
		}
		if err != nil {
			return progressed, errors.Upstream(err, "receive market event")
		}
		progressed = true

		switch resp.Type {
		case relayer.StartOfEvents:
			ob.logger.Debug("relayer is replaying the market from the start")
			if err := ob.reset(); err != nil {
				return progressed, err
			}
			sum.Reset()
		case relayer.ExistingEvent, relayer.NewEvent:
			if err := ob.append(resp.MarketEvent, &sum); err != nil {
				return progressed, err
			}
			if resp.Type == relayer.NewEvent && len(resp.Checksum) > 0 && !sum.Matches(resp.Checksum) {
				return progressed, errChecksumMismatch
			}
		case relayer.ExistingEventsDone:
			if len(resp.Checksum) > 0 && !sum.Matches(resp.Checksum) {
				return progressed, errChecksumMismatch
			}
			ob.setSynced(true)
			ob.logger.Info("market is up to date")
		default:
			ob.logger.Debug("ignoring unknown market response", logger.NewField("type", resp.Type.String()))
		}
	}
}

func (ob *Orderbook) append(e market.Event, sum *market.Checksum) error {
	added, err := ob.log.Append(e)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	sum.Process(e.OrderID)
	ob.metrics.MarketEvents.WithLabelValues(ob.market.Name, e.Type.String()).Inc()
	return nil
}

// checksum folds every stored event, matching what the relayer has sent.
func (ob *Orderbook) checksum() (market.Checksum, error) {
	var sum market.Checksum
	for e, err := range ob.log.Since(0) {
		if err != nil {
			return sum, err
		}
		sum.Process(e.OrderID)
	}
	return sum, nil
}
