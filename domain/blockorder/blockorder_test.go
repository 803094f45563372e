package blockorder

import (
	"testing"
	"time"

	"brokerd/domain/market"
	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testMarket(t *testing.T) market.Market {
	t.Helper()
	m, err := market.New("BTC/LTC", market.NewCurrencies(map[string]decimal.Decimal{
		"BTC": d("100000000"),
		"LTC": d("100000000"),
	}))
	require.NoError(t, err)
	return m
}

func TestDeriveStatus(t *testing.T) {
	amount := d("100")
	tests := []struct {
		name     string
		bo       BlockOrder
		children []Child
		want     Status
	}{
		{
			name: "no children yet",
			want: Active,
		},
		{
			name: "all completed",
			children: []Child{
				{Outcome: Succeeded, Filled: d("60")},
				{Outcome: Succeeded, Filled: d("40")},
			},
			want: Completed,
		},
		{
			name: "completed and rejected",
			children: []Child{
				{Outcome: Succeeded, Filled: d("60")},
				{Outcome: ChildFailed},
			},
			want: PartiallyCompleted,
		},
		{
			name: "completed beats a late rejection",
			children: []Child{
				{Outcome: Succeeded, Filled: d("100")},
				{Outcome: ChildFailed},
			},
			want: Completed,
		},
		{
			name: "one child in flight",
			children: []Child{
				{Outcome: ChildFailed},
				{Outcome: InFlight},
			},
			want: Active,
		},
		{
			name:     "only rejected",
			children: []Child{{Outcome: ChildFailed}},
			want:     Failed,
		},
		{
			name:     "cancelled by relayer",
			children: []Child{{Outcome: ChildCancelled}},
			want:     Cancelled,
		},
		{
			name:     "cancel requested, children gone",
			bo:       BlockOrder{CancelRequested: true},
			children: []Child{{Outcome: Void}},
			want:     Cancelled,
		},
		{
			name: "cancel requested after partial fill",
			bo:   BlockOrder{CancelRequested: true},
			children: []Child{
				{Outcome: Succeeded, Filled: d("30")},
				{Outcome: ChildCancelled},
			},
			want: PartiallyCompleted,
		},
		{
			name: "work failed without children",
			bo:   BlockOrder{FailureReason: "insufficient depth"},
			want: Failed,
		},
		{
			name:     "void children are ignored",
			children: []Child{{Outcome: Void}, {Outcome: Succeeded, Filled: d("10")}},
			want:     Active,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bo.DeriveStatus(amount, tt.children))
		})
	}
}

func TestDeriveStatusIsPure(t *testing.T) {
	bo := BlockOrder{Status: Cancelled}
	children := []Child{{Outcome: Succeeded, Filled: d("5")}, {Outcome: Succeeded, Filled: d("5")}}
	assert.Equal(t, Completed, bo.DeriveStatus(d("10"), children))
	assert.Equal(t, Completed, bo.DeriveStatus(d("10"), children))
}

func TestFailureOf(t *testing.T) {
	assert.Empty(t, FailureOf(nil))
	assert.Empty(t, FailureOf([]Child{{Outcome: InFlight}, {Outcome: ChildCancelled}, {Outcome: Void}}))
	assert.Equal(t, "fill order maker-1: timeout", FailureOf([]Child{
		{Outcome: Succeeded, Filled: d("5")},
		{Outcome: ChildFailed, Reason: "fill order maker-1: timeout"},
	}))
	assert.Equal(t, "child rejected", FailureOf([]Child{{Outcome: ChildFailed}}))
}

func TestParamsValidate(t *testing.T) {
	price := d("0.01")
	negative := d("-1")
	tests := []struct {
		name string
		p    Params
		ok   bool
	}{
		{name: "limit", p: Params{Side: market.Bid, Amount: d("1"), Price: &price, TimeInForce: GTC}, ok: true},
		{name: "market", p: Params{Side: market.Ask, Amount: d("1"), TimeInForce: GTC}, ok: true},
		{name: "fok is valid but unsupported", p: Params{Side: market.Ask, Amount: d("1"), TimeInForce: FOK}, ok: true},
		{name: "bad side", p: Params{Amount: d("1"), TimeInForce: GTC}},
		{name: "zero amount", p: Params{Side: market.Bid, Amount: d("0"), TimeInForce: GTC}},
		{name: "negative price", p: Params{Side: market.Bid, Amount: d("1"), Price: &negative, TimeInForce: GTC}},
		{name: "unknown tif", p: Params{Side: market.Bid, Amount: d("1"), TimeInForce: "GTD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.ValidationError))
		})
	}
	assert.False(t, FOK.Supported())
	assert.True(t, PO.Supported())
}

func TestAmounts(t *testing.T) {
	m := testMarket(t)
	price := d("0.5")
	bo := New("bo-1", Params{MarketName: m.Name, Side: market.Bid, Amount: d("0.2"), Price: &price, TimeInForce: GTC}, time.Now())

	base, err := bo.BaseAmount(m)
	require.NoError(t, err)
	assert.Equal(t, "20000000", base.String())
	assert.Equal(t, "0.5", bo.QuantumPrice(m).String())
	assert.Equal(t, "10000000", bo.CounterAmount(m, base).String())

	bo.Amount = d("0.000000001")
	_, err = bo.BaseAmount(m)
	assert.True(t, errors.Is(err, errors.ValidationError))
}

func TestStorageRoundTrip(t *testing.T) {
	price := d("101.5")
	bo := New("01HZX", Params{MarketName: "BTC/LTC", Side: market.Ask, Amount: d("2"), Price: &price, TimeInForce: PO}, time.Unix(1700000000, 0))
	bo.CancelRequested = true

	v, err := bo.Value()
	require.NoError(t, err)
	got, err := FromStorage(bo.Key(), v)
	require.NoError(t, err)

	assert.Equal(t, bo.ID, got.ID)
	assert.Equal(t, market.Ask, got.Side)
	assert.True(t, got.Amount.Equal(bo.Amount))
	require.NotNil(t, got.Price)
	assert.True(t, got.Price.Equal(price))
	assert.Equal(t, PO, got.TimeInForce)
	assert.Equal(t, Active, got.Status)
	assert.True(t, got.CancelRequested)
	assert.True(t, got.CreatedAt.Equal(bo.CreatedAt))

	_, err = FromStorage([]byte("x"), []byte(`{"status":"BOGUS","side":"BID"}`))
	assert.Error(t, err)
}
