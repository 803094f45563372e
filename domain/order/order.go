// Package order holds the records behind a block order's children: the
// maker orders the broker places on the relayer and the fills it takes
// against other makers.
package order

import (
	"brokerd/domain/market"

	"github.com/google/orderedcode"
	"github.com/shopspring/decimal"
)

// CancelReason records who cancelled a child.
type CancelReason string

const (
	CancelByUser     CancelReason = "user"
	CancelByRelayer  CancelReason = "relayer"
	CancelByRecovery CancelReason = "recovery"
	// CancelByFailure marks siblings cancelled because the block order failed.
	CancelByFailure CancelReason = "failure"
)

// Key orders children under their block order.
func Key(blockOrderID, localID string) []byte {
	k, _ := orderedcode.Append(nil, blockOrderID, localID)
	return k
}

// Prefix selects every child key of a block order.
func Prefix(blockOrderID string) []byte {
	k, _ := orderedcode.Append(nil, blockOrderID)
	return k
}

// ParseKey splits a key produced by Key.
func ParseKey(key []byte) (blockOrderID, localID string, err error) {
	_, err = orderedcode.Parse(string(key), &blockOrderID, &localID)
	return blockOrderID, localID, err
}

// Invoices the relayer handed out and the refunds returned for them.
type Invoices struct {
	FeePaymentRequest           string `json:"feePaymentRequest,omitempty"`
	FeeRequired                 bool   `json:"feeRequired,omitempty"`
	DepositPaymentRequest       string `json:"depositPaymentRequest,omitempty"`
	DepositRequired             bool   `json:"depositRequired,omitempty"`
	FeeRefundPaymentRequest     string `json:"feeRefundPaymentRequest,omitempty"`
	DepositRefundPaymentRequest string `json:"depositRefundPaymentRequest,omitempty"`
}

// Order is a maker order placed on the relayer. Amounts are quantums.
type Order struct {
	BlockOrderID  string      `json:"blockOrderId"`
	LocalID       string      `json:"localId"`
	OrderID       string      `json:"orderId,omitempty"`
	BaseSymbol    string      `json:"baseSymbol"`
	CounterSymbol string      `json:"counterSymbol"`
	Side          market.Side `json:"side"`
	BaseAmount    string      `json:"baseAmount"`
	CounterAmount string      `json:"counterAmount"`

	MakerBaseAddress    string `json:"makerBaseAddress,omitempty"`
	MakerCounterAddress string `json:"makerCounterAddress,omitempty"`
	Invoices

	// Set once the relayer reports a fill.
	FillID       string `json:"fillId,omitempty"`
	FillAmount   string `json:"fillAmount,omitempty"`
	SwapHash     string `json:"swapHash,omitempty"`
	TakerAddress string `json:"takerAddress,omitempty"`
	SwapPreimage string `json:"swapPreimage,omitempty"`

	CancelReason CancelReason `json:"cancelReason,omitempty"`
}

func (o *Order) Key() []byte {
	return Key(o.BlockOrderID, o.LocalID)
}

func (o *Order) base() decimal.Decimal {
	d, _ := decimal.NewFromString(o.BaseAmount)
	return d
}

func (o *Order) counter() decimal.Decimal {
	d, _ := decimal.NewFromString(o.CounterAmount)
	return d
}

// Filled is the base amount the relayer filled, zero before a fill.
func (o *Order) Filled() decimal.Decimal {
	d, err := decimal.NewFromString(o.FillAmount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CounterFillAmount prices the filled base amount at the order's price.
func (o *Order) CounterFillAmount() decimal.Decimal {
	base := o.base()
	if base.IsZero() {
		return decimal.Zero
	}
	return o.counter().Mul(o.Filled()).Div(base).Round(0)
}

// Inbound is what the maker receives when the order executes.
func (o *Order) Inbound() (symbol string, amount decimal.Decimal) {
	if o.Side == market.Bid {
		return o.BaseSymbol, o.base()
	}
	return o.CounterSymbol, o.counter()
}

// Outbound is what the maker pays when the order executes.
func (o *Order) Outbound() (symbol string, amount decimal.Decimal) {
	if o.Side == market.Bid {
		return o.CounterSymbol, o.counter()
	}
	return o.BaseSymbol, o.base()
}

// FilledInbound is the inbound leg of the filled portion.
func (o *Order) FilledInbound() (symbol string, amount decimal.Decimal) {
	if o.Side == market.Bid {
		return o.BaseSymbol, o.Filled()
	}
	return o.CounterSymbol, o.CounterFillAmount()
}

// QuantumPrice is counter quantums per base quantum.
func (o *Order) QuantumPrice() decimal.Decimal {
	base := o.base()
	if base.IsZero() {
		return decimal.Zero
	}
	return o.counter().DivRound(base, market.PriceScale)
}

// FilledOutbound is the outbound leg of the filled portion.
func (o *Order) FilledOutbound() (symbol string, amount decimal.Decimal) {
	if o.Side == market.Bid {
		return o.CounterSymbol, o.CounterFillAmount()
	}
	return o.BaseSymbol, o.Filled()
}
