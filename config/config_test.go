package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC/LTC"}, cfg.Markets)
	assert.Equal(t, "sarama", cfg.Kafka.Client)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "100000000", cfg.QuantumsPerCommon()["BTC"].String())
	assert.Equal(t, "4294967", cfg.MaxPaymentSize("BTC").String())
	assert.True(t, cfg.MaxPaymentSize("ETH").IsZero())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MARKETS", "BTC/LTC,ETH/BTC")
	t.Setenv("CURRENCIES", "BTC=100000000,LTC=100000000,ETH=1000000000000000000")
	t.Setenv("ENGINES", "BTC=localhost:10009,LTC=localhost:10010")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KAFKA_CLIENT", "kafka-go")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.Markets, 2)
	assert.Equal(t, "localhost:10010", cfg.Engines["LTC"])
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "malformed market", env: map[string]string{"MARKETS": "BTCLTC"}},
		{name: "unknown currency", env: map[string]string{"MARKETS": "BTC/XMR"}},
		{name: "bad quantums", env: map[string]string{"CURRENCIES": "BTC=0,LTC=1"}},
		{name: "bad kafka client", env: map[string]string{"KAFKA_CLIENT": "confluent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
