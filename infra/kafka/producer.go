// Package kafka publishes block order notifications with segmentio/kafka-go.
package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"brokerd/pkg/errors"
	"brokerd/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// ContentType is set on every message; outbox payloads are JSON status
// events.
const ContentType = "application/json"

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds one publish including the wait for acks.
	WriteTimeout time.Duration
	Logger       logger.Interface
}

// Producer sends one notification per Publish and returns once every
// in-sync replica has it. Messages are keyed by block order id, so one
// block order's notifications share a partition and stay ordered.
type Producer struct {
	w      writer
	topic  string
	logger logger.Interface
	now    func() time.Time
}

func NewProducer(cfg Config) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	log := cfg.Logger.With(logger.NewField("component", "kafka"), logger.NewField("topic", cfg.Topic))
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			log.Warn(fmt.Sprintf(msg, args...))
		}),
	}, cfg.Topic, log)
}

func newProducer(w writer, topic string, log logger.Interface) *Producer {
	return &Producer{w: w, topic: topic, logger: log, now: time.Now}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    p.now(),
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(ContentType)}},
	}
	err := p.w.WriteMessages(ctx, msg)
	if err == nil {
		p.logger.DebugContext(ctx, "notification published", logger.NewField("key", string(key)))
		return nil
	}
	// A single message fails as WriteErrors of length one; report its cause.
	var werrs kafka.WriteErrors
	if stderrors.As(err, &werrs) && len(werrs) == 1 && werrs[0] != nil {
		err = werrs[0]
	}
	return errors.Upstream(err, "kafka write to %s", p.topic)
}

func (p *Producer) Close() error {
	if err := p.w.Close(); err != nil {
		return errors.Upstream(err, "close kafka writer for %s", p.topic)
	}
	return nil
}
