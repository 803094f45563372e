package market

import (
	"bytes"
	"fmt"

	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"
)

// Order is an open order of the relayer's book as known from the event log.
// Amounts are integer quantums of the respective currency.
type Order struct {
	OrderID       string `json:"orderId"`
	CreatedAt     string `json:"createdAt"`
	BaseAmount    string `json:"baseAmount"`
	CounterAmount string `json:"counterAmount"`
	Side          Side   `json:"side"`
	BaseSymbol    string `json:"baseSymbol"`
	CounterSymbol string `json:"counterSymbol"`
}

// OrderFromEvent builds the open order a PLACED event introduces.
func OrderFromEvent(e Event, m Market) (Order, error) {
	if e.Type != EventPlaced {
		return Order{}, errors.Validation("event %s is %s, not PLACED", e.EventID, e.Type)
	}
	return Order{
		OrderID:       e.OrderID,
		CreatedAt:     e.Timestamp,
		BaseAmount:    e.Payload.BaseAmount,
		CounterAmount: e.Payload.CounterAmount,
		Side:          e.Payload.Side,
		BaseSymbol:    m.Base.Symbol,
		CounterSymbol: m.Counter.Symbol,
	}, nil
}

func (o Order) Base() decimal.Decimal {
	d, _ := decimal.NewFromString(o.BaseAmount)
	return d
}

func (o Order) Counter() decimal.Decimal {
	d, _ := decimal.NewFromString(o.CounterAmount)
	return d
}

// QuantumPrice is the price in counter quantums per base quantum, rounded
// to PriceScale fractional digits.
func (o Order) QuantumPrice() (decimal.Decimal, error) {
	base, err := decimal.NewFromString(o.BaseAmount)
	if err != nil || !base.IsPositive() {
		return decimal.Zero, errors.Validation("order %s has invalid base amount %q", o.OrderID, o.BaseAmount)
	}
	counter, err := decimal.NewFromString(o.CounterAmount)
	if err != nil || counter.IsNegative() {
		return decimal.Zero, errors.Validation("order %s has invalid counter amount %q", o.OrderID, o.CounterAmount)
	}
	return counter.DivRound(base, PriceScale), nil
}

// Price is the price in common units of the counter currency per common
// unit of the base currency.
func (o Order) Price(m Market) decimal.Decimal {
	num := o.Counter().Mul(m.Base.QuantumsPerCommon)
	den := o.Base().Mul(m.Counter.QuantumsPerCommon)
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, commonPrecision)
}

// Amount is the base amount in common units.
func (o Order) Amount(m Market) decimal.Decimal {
	return m.Base.ToCommon(o.Base())
}

const (
	fieldOrderID            protowire.Number = 1
	fieldOrderCreatedAt     protowire.Number = 2
	fieldOrderBaseAmount    protowire.Number = 3
	fieldOrderCounterAmount protowire.Number = 4
	fieldOrderSide          protowire.Number = 5
	fieldOrderBaseSymbol    protowire.Number = 6
	fieldOrderCounterSymbol protowire.Number = 7
)

// Value encodes the order in protobuf wire format.
func (o Order) Value() []byte {
	var b []byte
	for _, f := range []struct {
		num protowire.Number
		v   string
	}{
		{fieldOrderID, o.OrderID},
		{fieldOrderCreatedAt, o.CreatedAt},
		{fieldOrderBaseAmount, o.BaseAmount},
		{fieldOrderCounterAmount, o.CounterAmount},
		{fieldOrderBaseSymbol, o.BaseSymbol},
		{fieldOrderCounterSymbol, o.CounterSymbol},
	} {
		b = protowire.AppendTag(b, f.num, protowire.BytesType)
		b = protowire.AppendString(b, f.v)
	}
	b = protowire.AppendTag(b, fieldOrderSide, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(o.Side))
}

// OrderFromStorage decodes an order value written by Value and stored
// under key. The key is the order id, or ends with ":" and the order id
// in a price index; a record filed under another order is an error.
func OrderFromStorage(key, value []byte) (Order, error) {
	var o Order
	err := consumeFields(value, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType {
			switch num {
			case fieldOrderID:
				return consumeString(b, &o.OrderID)
			case fieldOrderCreatedAt:
				return consumeString(b, &o.CreatedAt)
			case fieldOrderBaseAmount:
				return consumeString(b, &o.BaseAmount)
			case fieldOrderCounterAmount:
				return consumeString(b, &o.CounterAmount)
			case fieldOrderBaseSymbol:
				return consumeString(b, &o.BaseSymbol)
			case fieldOrderCounterSymbol:
				return consumeString(b, &o.CounterSymbol)
			}
		}
		if num == fieldOrderSide && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			o.Side = Side(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}
	if !storedUnder(key, o.OrderID) {
		return Order{}, fmt.Errorf("order %s stored under key %q", o.OrderID, key)
	}
	return o, nil
}

func storedUnder(key []byte, orderID string) bool {
	if orderID == "" {
		return false
	}
	id := []byte(orderID)
	if bytes.Equal(key, id) {
		return true
	}
	return bytes.HasSuffix(key, id) && key[len(key)-len(id)-1] == ':'
}
