package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Market is a trading pair such as BTC/LTC. Amounts are denominated in the
// base currency; prices in counter per base.
type Market struct {
	Name    string
	Base    Currency
	Counter Currency
}

// Currency describes how a symbol's integer quantums relate to its common
// unit (e.g. 100000000 satoshis per BTC).
type Currency struct {
	Symbol            string
	QuantumsPerCommon decimal.Decimal
}

// Currencies is a symbol lookup table.
type Currencies map[string]Currency

// NewCurrencies builds the lookup table from a symbol → quantums map.
func NewCurrencies(quantums map[string]decimal.Decimal) Currencies {
	out := make(Currencies, len(quantums))
	for sym, q := range quantums {
		out[sym] = Currency{Symbol: sym, QuantumsPerCommon: q}
	}
	return out
}

// SplitName splits "BASE/COUNTER".
func SplitName(name string) (base, counter string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid market name %q", name)
	}
	return parts[0], parts[1], nil
}

// New resolves a market name against the configured currencies.
func New(name string, currencies Currencies) (Market, error) {
	base, counter, err := SplitName(name)
	if err != nil {
		return Market{}, err
	}
	b, ok := currencies[base]
	if !ok {
		return Market{}, fmt.Errorf("market %s: unknown currency %s", name, base)
	}
	c, ok := currencies[counter]
	if !ok {
		return Market{}, fmt.Errorf("market %s: unknown currency %s", name, counter)
	}
	return Market{Name: name, Base: b, Counter: c}, nil
}

// ToQuantums converts a common-unit amount of c into integer quantums. It
// fails when the amount has more precision than the currency can carry.
func (c Currency) ToQuantums(common decimal.Decimal) (decimal.Decimal, error) {
	q := common.Mul(c.QuantumsPerCommon)
	if !q.IsInteger() {
		return decimal.Zero, fmt.Errorf("amount %s is too precise for %s", common, c.Symbol)
	}
	return q, nil
}

// ToCommon converts integer quantums into common units.
func (c Currency) ToCommon(quantums decimal.Decimal) decimal.Decimal {
	return quantums.DivRound(c.QuantumsPerCommon, commonPrecision)
}

const commonPrecision = 16
