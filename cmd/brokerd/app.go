package main

import (
	"os"

	"brokerd/config"
	"brokerd/domain/market"
	"brokerd/infra/metrics"
	"brokerd/infra/store"
	"brokerd/orderbook"
	"brokerd/pkg/logger"
	"brokerd/relayer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds what both commands need: configuration, logging, metrics and
// the store with one orderbook per configured market.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	db       *store.DB
	books    []*orderbook.Orderbook
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(logger.WithLoggingLevel(cfg.App.LogLevel))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := store.Open(store.Options{Dir: cfg.App.DataDir})
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, registry: reg, metrics: m, db: db}, nil
}

// openBooks creates one orderbook per configured market. rel may be nil
// when the books are never run.
func (a *app) openBooks(rel relayer.Relayer) error {
	currencies := market.NewCurrencies(a.cfg.QuantumsPerCommon())
	for _, name := range a.cfg.Markets {
		mkt, err := market.New(name, currencies)
		if err != nil {
			return err
		}
		a.books = append(a.books, orderbook.New(orderbook.Config{
			Market:  mkt,
			DB:      a.db,
			Relayer: rel,
			Logger:  a.log,
			Metrics: a.metrics,
		}))
	}
	return nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.log.Error(err)
	}
	_ = a.log.Sync()
}
