// Package engine describes the per-currency payment channel network engines
// the broker settles swaps through.
package engine

import (
	"context"
	"sort"

	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
)

// Engine is an opaque remote capability for one currency. Amounts are in
// integer quantums.
//
//go:generate mockgen -source engine.go -destination=mock/engine_mock.go -package=engine_mock
type Engine interface {
	Symbol() string
	// MaxPaymentSize is the largest amount a single payment may carry; zero
	// means unlimited.
	MaxPaymentSize() decimal.Decimal

	GetPaymentChannelNetworkAddress(ctx context.Context) (string, error)
	IsBalanceSufficient(ctx context.Context, address string, amount decimal.Decimal, outbound bool) (bool, error)

	PayInvoice(ctx context.Context, paymentRequest string) error
	CreateRefundInvoice(ctx context.Context, paymentRequest string) (string, error)

	CreateSwapHash(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)
	PrepareSwap(ctx context.Context, swapHash string, amount decimal.Decimal) error
	ExecuteSwap(ctx context.Context, makerAddress, swapHash string, amount decimal.Decimal) error
	GetSettledSwapPreimage(ctx context.Context, swapHash string) (string, error)
}

// Registry maps currency symbols to their engine.
type Registry map[string]Engine

// NewRegistry indexes engines by symbol.
func NewRegistry(engines ...Engine) Registry {
	r := make(Registry, len(engines))
	for _, e := range engines {
		r[e.Symbol()] = e
	}
	return r
}

// Get returns the engine for symbol or a NotFound error.
func (r Registry) Get(symbol string) (Engine, error) {
	e, ok := r[symbol]
	if !ok {
		return nil, errors.NotFound("no engine exists for %s", symbol)
	}
	return e, nil
}

// Symbols lists the registered symbols in order.
func (r Registry) Symbols() []string {
	out := make([]string, 0, len(r))
	for s := range r {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SplitAmount divides amount into chunks no larger than max. A zero max
// yields amount unchanged.
func SplitAmount(amount, max decimal.Decimal) []decimal.Decimal {
	if !max.IsPositive() || amount.LessThanOrEqual(max) {
		return []decimal.Decimal{amount}
	}
	var parts []decimal.Decimal
	for rest := amount; rest.IsPositive(); rest = rest.Sub(max) {
		parts = append(parts, decimal.Min(rest, max))
	}
	return parts
}
