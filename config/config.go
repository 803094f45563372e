package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config represents the daemon configuration. It is loaded once at startup
// and passed down explicitly.
type Config struct {
	App     AppConfig     `envPrefix:"APP_"`
	GRPC    GRPCConfig    `envPrefix:"GRPC_"`
	Metrics MetricsConfig `envPrefix:"METRICS_"`
	Relayer RelayerConfig `envPrefix:"RELAYER_"`
	Engine  EngineConfig  `envPrefix:"ENGINE_"`
	Worker  WorkerConfig  `envPrefix:"WORKER_"`
	Kafka   KafkaConfig   `envPrefix:"KAFKA_"`

	// Markets lists the tracked markets as BASE/COUNTER.
	Markets []string `env:"MARKETS" envSeparator:"," envDefault:"BTC/LTC"`
	// Currencies maps a symbol to its quantums per common unit.
	Currencies map[string]string `env:"CURRENCIES" envSeparator:"," envKeyValSeparator:"=" envDefault:"BTC=100000000,LTC=100000000"`
	// Engines maps a symbol to the address of its engine.
	Engines map[string]string `env:"ENGINES" envSeparator:"," envKeyValSeparator:"="`
}

// AppConfig represents the application configuration.
type AppConfig struct {
	Name     string `env:"NAME" envDefault:"brokerd"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DataDir  string `env:"DATA_DIR" envDefault:"./data"`
}

type GRPCConfig struct {
	Addr string `env:"ADDR" envDefault:":27492"`
}

type MetricsConfig struct {
	Addr string `env:"ADDR" envDefault:":9090"`
}

type RelayerConfig struct {
	Host        string        `env:"HOST" envDefault:"localhost:28492"`
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
}

type EngineConfig struct {
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"30s"`
	// MaxPayment maps a symbol to the largest single payment, in quantums.
	MaxPayment map[string]string `env:"MAX_PAYMENT" envSeparator:"," envKeyValSeparator:"=" envDefault:"BTC=4294967,LTC=16106127"`
}

type WorkerConfig struct {
	FillRetries int `env:"FILL_RETRIES" envDefault:"3"`
}

// KafkaConfig configures the block order notification broadcaster. An empty
// broker list disables it.
type KafkaConfig struct {
	Brokers    []string      `env:"BROKERS" envSeparator:","`
	Topic      string        `env:"TOPIC" envDefault:"block-orders"`
	Client     string        `env:"CLIENT" envDefault:"sarama"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"5"`
	Interval   time.Duration `env:"INTERVAL" envDefault:"250ms"`
	// WriteTimeout bounds one kafka-go publish.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	for _, m := range c.Markets {
		parts := strings.Split(m, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid market %q", m)
		}
		for _, sym := range parts {
			if _, ok := c.Currencies[sym]; !ok {
				return fmt.Errorf("market %s: no currency configured for %s", m, sym)
			}
		}
	}
	for sym, q := range c.Currencies {
		d, err := decimal.NewFromString(q)
		if err != nil || !d.IsPositive() || !d.IsInteger() {
			return fmt.Errorf("currency %s: invalid quantums per common unit %q", sym, q)
		}
	}
	for sym, q := range c.Engine.MaxPayment {
		if d, err := decimal.NewFromString(q); err != nil || !d.IsPositive() {
			return fmt.Errorf("engine %s: invalid max payment %q", sym, q)
		}
	}
	switch c.Kafka.Client {
	case "sarama", "kafka-go":
	default:
		return fmt.Errorf("unknown kafka client %q", c.Kafka.Client)
	}
	return nil
}

// QuantumsPerCommon returns the parsed currency table.
func (c *Config) QuantumsPerCommon() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Currencies))
	for sym, q := range c.Currencies {
		out[sym] = decimal.RequireFromString(q)
	}
	return out
}

// MaxPaymentSize returns the max payment of an engine, or zero when unlimited.
func (c *Config) MaxPaymentSize(symbol string) decimal.Decimal {
	q, ok := c.Engine.MaxPayment[symbol]
	if !ok {
		return decimal.Zero
	}
	return decimal.RequireFromString(q)
}
