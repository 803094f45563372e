// Package broadcaster drains the outbox into Kafka.
package broadcaster

import (
	"context"
	"time"

	"brokerd/infra/metrics"
	"brokerd/infra/outbox"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"

	"github.com/IBM/sarama"
)

// Publisher delivers one message and returns once it is acknowledged.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// SaramaPublisher publishes through a sarama SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaPublisher connects a SyncProducer that waits for all replicas.
func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Upstream(err, "connect to kafka")
	}
	return NewSaramaPublisherFrom(producer, topic), nil
}

func NewSaramaPublisherFrom(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(value),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	_, _, err := p.producer.SendMessage(msg)
	return errors.Upstream(err, "kafka send to %s", p.topic)
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}

type Config struct {
	Outbox    *outbox.Outbox
	Publisher Publisher
	Logger    logger.Interface
	Metrics   *metrics.Metrics
	Interval  time.Duration
	// MaxRetries is the number of failed publishes after which a record
	// is parked as FAILED.
	MaxRetries int
}

type Broadcaster struct {
	outbox     *outbox.Outbox
	publisher  Publisher
	logger     logger.Interface
	metrics    *metrics.Metrics
	interval   time.Duration
	maxRetries uint32
}

func New(cfg Config) *Broadcaster {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Broadcaster{
		outbox:     cfg.Outbox,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With(logger.NewField("job", "broadcaster")),
		metrics:    cfg.Metrics,
		interval:   cfg.Interval,
		maxRetries: uint32(cfg.MaxRetries),
	}
}

// Run publishes pending records every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("broadcaster started", logger.NewField("interval", b.interval.String()))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("broadcaster stopped")
			return nil
		case <-ticker.C:
			if err := b.PublishPending(ctx); err != nil {
				b.logger.Error(err)
			}
		}
	}
}

// PublishPending makes one pass over the outbox. NEW records are published;
// SENT records were interrupted mid-publish and go out again, so consumers
// must tolerate duplicates.
func (b *Broadcaster) PublishPending(ctx context.Context) error {
	return b.outbox.ScanByState(func(rec outbox.Record) error {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.outbox.Update(rec, outbox.StateSent); err != nil {
			return err
		}

		if err := b.publisher.Publish(ctx, rec.Key, rec.Payload); err != nil {
			rec.Retries++
			next := outbox.StateNew
			outcome := "retry"
			if rec.Retries >= b.maxRetries {
				next = outbox.StateFailed
				outcome = "failed"
			}
			b.metrics.OutboxPublished.WithLabelValues(outcome).Inc()
			b.logger.Warn("outbox publish failed",
				logger.NewField("seq", rec.Seq),
				logger.NewField("retries", rec.Retries),
				logger.NewField("error", err.Error()),
			)
			return b.outbox.Update(rec, next)
		}

		b.metrics.OutboxPublished.WithLabelValues("acked").Inc()
		return b.outbox.Delete(rec.Seq)
	}, outbox.StateNew, outbox.StateSent)
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
