package order

import (
	"bytes"
	"testing"

	"brokerd/domain/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	k := Key("bo-1", "child-2")
	assert.True(t, bytes.HasPrefix(k, Prefix("bo-1")))
	assert.False(t, bytes.HasPrefix(Key("bo-10", "a"), Prefix("bo-1")))

	bo, local, err := ParseKey(k)
	require.NoError(t, err)
	assert.Equal(t, "bo-1", bo)
	assert.Equal(t, "child-2", local)
}

func TestOrderLegs(t *testing.T) {
	o := &Order{
		BaseSymbol:    "BTC",
		CounterSymbol: "LTC",
		Side:          market.Bid,
		BaseAmount:    "1000",
		CounterAmount: "50000",
		FillAmount:    "400",
	}
	sym, amt := o.Outbound()
	assert.Equal(t, "LTC", sym)
	assert.Equal(t, "50000", amt.String())
	sym, amt = o.Inbound()
	assert.Equal(t, "BTC", sym)
	assert.Equal(t, "1000", amt.String())
	assert.Equal(t, "20000", o.CounterFillAmount().String())
	assert.Equal(t, "50", o.QuantumPrice().String())

	o.Side = market.Ask
	sym, amt = o.FilledInbound()
	assert.Equal(t, "LTC", sym)
	assert.Equal(t, "20000", amt.String())
	sym, amt = o.FilledOutbound()
	assert.Equal(t, "BTC", sym)
	assert.Equal(t, "400", amt.String())
}

func TestFillLegs(t *testing.T) {
	f := &Fill{
		Order: market.Order{
			OrderID:       "maker-1",
			Side:          market.Ask,
			BaseAmount:    "300",
			CounterAmount: "1000",
			BaseSymbol:    "BTC",
			CounterSymbol: "LTC",
		},
		FillAmount: "100",
	}
	assert.Equal(t, market.Bid, f.TakerSide())
	assert.Equal(t, "333", f.CounterFillAmount().String())

	sym, amt := f.Inbound()
	assert.Equal(t, "BTC", sym)
	assert.Equal(t, "100", amt.String())
	sym, amt = f.Outbound()
	assert.Equal(t, "LTC", sym)
	assert.Equal(t, "333", amt.String())
}
