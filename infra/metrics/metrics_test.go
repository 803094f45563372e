package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IndexRebuilt("BTC/LTC/orderbook")
	m.IndexRebuilt("BTC/LTC/orderbook")
	m.IndexFailed("BTC/LTC/asks")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexRebuilds.WithLabelValues("BTC/LTC/orderbook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexFailures.WithLabelValues("BTC/LTC/asks")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNopIsIndependent(t *testing.T) {
	a, b := Nop(), Nop()
	a.BlockOrders.WithLabelValues("ACTIVE").Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BlockOrders.WithLabelValues("ACTIVE")))
}
