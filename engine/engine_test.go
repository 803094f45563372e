package engine_test

import (
	"context"
	stderrors "errors"
	"testing"

	"brokerd/engine"
	engine_mock "brokerd/engine/mock"
	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRegistry(t *testing.T) {
	ctrl := gomock.NewController(t)
	btc := engine_mock.NewMockEngine(ctrl)
	btc.EXPECT().Symbol().Return("BTC").AnyTimes()
	ltc := engine_mock.NewMockEngine(ctrl)
	ltc.EXPECT().Symbol().Return("LTC").AnyTimes()

	r := engine.NewRegistry(ltc, btc)
	assert.Equal(t, []string{"BTC", "LTC"}, r.Symbols())

	got, err := r.Get("BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", got.Symbol())

	_, err = r.Get("XMR")
	assert.True(t, errors.Is(err, errors.NotFoundError))
}

func TestSplitAmount(t *testing.T) {
	d := decimal.NewFromInt
	tests := []struct {
		name   string
		amount decimal.Decimal
		max    decimal.Decimal
		want   []string
	}{
		{name: "unlimited", amount: d(10), max: decimal.Zero, want: []string{"10"}},
		{name: "fits", amount: d(10), max: d(10), want: []string{"10"}},
		{name: "even", amount: d(9), max: d(3), want: []string{"3", "3", "3"}},
		{name: "remainder", amount: d(10), max: d(4), want: []string{"4", "4", "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, p := range engine.SplitAmount(tt.amount, tt.max) {
				got = append(got, p.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayWithRefund(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := engine_mock.NewMockEngine(ctrl)
	e.EXPECT().Symbol().Return("BTC").AnyTimes()
	e.EXPECT().CreateRefundInvoice(gomock.Any(), "lnbc-fee").Return("lnbc-refund", nil)
	e.EXPECT().PayInvoice(gomock.Any(), "lnbc-fee").Return(nil)

	refund, err := engine.PayWithRefund(context.Background(), e, "lnbc-fee")
	require.NoError(t, err)
	assert.Equal(t, "lnbc-refund", refund)
}

func TestPayWithRefundFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	e := engine_mock.NewMockEngine(ctrl)
	e.EXPECT().Symbol().Return("BTC").AnyTimes()
	e.EXPECT().CreateRefundInvoice(gomock.Any(), gomock.Any()).Return("lnbc-refund", nil).AnyTimes()
	e.EXPECT().PayInvoice(gomock.Any(), gomock.Any()).Return(stderrors.New("no route"))

	_, err := engine.PayWithRefund(context.Background(), e, "lnbc-fee")
	assert.True(t, errors.Is(err, errors.UpstreamUnavailableError))
}
