package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"brokerd/api/grpcserver"
	"brokerd/config"
	"brokerd/engine"
	"brokerd/infra/kafka"
	"brokerd/infra/outbox"
	"brokerd/jobs/broadcaster"
	"brokerd/pkg/backoff"
	"brokerd/pkg/logger"
	"brokerd/relayer"
	"brokerd/service"
	"brokerd/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the broker daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return start(ctx)
		},
	}
}

func start(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log
	cfg := a.cfg

	rel, err := relayer.Dial(cfg.Relayer.Host, cfg.Relayer.CallTimeout)
	if err != nil {
		return err
	}
	defer rel.Close()

	var engines []engine.Engine
	for symbol, host := range cfg.Engines {
		c, err := engine.Dial(engine.ClientConfig{
			Symbol:         symbol,
			Host:           host,
			MaxPaymentSize: cfg.MaxPaymentSize(symbol),
			CallTimeout:    cfg.Engine.CallTimeout,
		})
		if err != nil {
			return err
		}
		defer c.Close()
		engines = append(engines, c)
	}
	registry := engine.NewRegistry(engines...)

	if err := relayer.WaitForHealthy(ctx, rel, log, backoff.Delay); err != nil {
		return err
	}

	if err := a.openBooks(rel); err != nil {
		return err
	}
	books := make([]worker.Book, 0, len(a.books))
	for _, b := range a.books {
		if err := b.Initialize(); err != nil {
			return err
		}
		books = append(books, b)
	}

	var (
		box *outbox.Outbox
		bc  *broadcaster.Broadcaster
	)
	if len(cfg.Kafka.Brokers) > 0 {
		if box, err = outbox.Open(a.db); err != nil {
			return err
		}
		pub, err := newPublisher(cfg.Kafka, log)
		if err != nil {
			return err
		}
		bc = broadcaster.New(broadcaster.Config{
			Outbox:     box,
			Publisher:  pub,
			Logger:     log,
			Metrics:    a.metrics,
			Interval:   cfg.Kafka.Interval,
			MaxRetries: cfg.Kafka.MaxRetries,
		})
		defer bc.Close()
	}

	w := worker.New(worker.Config{
		DB:          a.db,
		Books:       books,
		Relayer:     rel,
		Engines:     registry,
		Outbox:      box,
		Logger:      log,
		Metrics:     a.metrics,
		FillRetries: cfg.Worker.FillRetries,
		CallTimeout: cfg.Engine.CallTimeout,
	})
	defer w.Close()
	// Block orders resumed before the books sync wait for them.
	if err := w.Initialize(ctx); err != nil {
		return err
	}

	svc := service.NewBrokerService(service.Config{
		Worker:  w,
		Books:   a.books,
		Relayer: rel,
		Engines: registry,
		Logger:  log,
	})
	api := grpcserver.NewServer(grpcserver.Config{Service: svc, Logger: log, Metrics: a.metrics})
	grpcSrv := api.GRPCServer()
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, b := range a.books {
		g.Go(func() error { return b.Run(ctx) })
	}
	if bc != nil {
		g.Go(func() error { return bc.Run(ctx) })
	}
	g.Go(func() error {
		log.Info("grpc server listening", logger.NewField("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		log.Info("metrics server listening", logger.NewField("addr", cfg.Metrics.Addr))
		if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		api.Shutdown()
		stopGRPC(grpcSrv.GracefulStop, grpcSrv.Stop)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(sctx)
	})

	log.Info("broker started",
		logger.NewField("markets", cfg.Markets),
		logger.NewField("engines", registry.Symbols()),
		logger.NewField("kafka", bc != nil),
	)
	return g.Wait()
}

// stopGRPC waits for in-flight calls, then cuts open streams once the
// shutdown timeout passes.
func stopGRPC(graceful, hard func()) {
	done := make(chan struct{})
	go func() {
		graceful()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		hard()
		<-done
	}
}

// newPublisher selects the Kafka client library.
func newPublisher(cfg config.KafkaConfig, log logger.Interface) (broadcaster.Publisher, error) {
	if cfg.Client == "kafka-go" {
		return kafka.NewProducer(kafka.Config{
			Brokers:      cfg.Brokers,
			Topic:        cfg.Topic,
			WriteTimeout: cfg.WriteTimeout,
			Logger:       log,
		}), nil
	}
	return broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
}
