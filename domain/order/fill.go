package order

import (
	"brokerd/domain/market"

	"github.com/shopspring/decimal"
)

// Fill takes (part of) another maker's order. Order holds the maker's
// terms as indexed by the orderbook; FillAmount is in base quantums.
type Fill struct {
	BlockOrderID string       `json:"blockOrderId"`
	LocalID      string       `json:"localId"`
	FillID       string       `json:"fillId,omitempty"`
	Order        market.Order `json:"order"`
	FillAmount   string       `json:"fillAmount"`

	SwapHash            string `json:"swapHash,omitempty"`
	TakerBaseAddress    string `json:"takerBaseAddress,omitempty"`
	TakerCounterAddress string `json:"takerCounterAddress,omitempty"`
	Invoices

	MakerAddress string `json:"makerAddress,omitempty"`

	// ErrorCode is the relayer code the fill was rejected with.
	ErrorCode string `json:"errorCode,omitempty"`
	// Retried marks a rejected fill whose amount was handed to a new one.
	Retried      bool         `json:"retried,omitempty"`
	CancelReason CancelReason `json:"cancelReason,omitempty"`
}

func (f *Fill) Key() []byte {
	return Key(f.BlockOrderID, f.LocalID)
}

func (f *Fill) BaseFillAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(f.FillAmount)
	return d
}

// CounterFillAmount prices the fill at the maker's price, rounded to
// whole quantums.
func (f *Fill) CounterFillAmount() decimal.Decimal {
	base := f.Order.Base()
	if base.IsZero() {
		return decimal.Zero
	}
	return f.Order.Counter().Mul(f.BaseFillAmount()).Div(base).Round(0)
}

// Inbound is what the taker receives: the side opposite the maker's.
func (f *Fill) Inbound() (symbol string, amount decimal.Decimal) {
	if f.Order.Side == market.Bid {
		return f.Order.CounterSymbol, f.CounterFillAmount()
	}
	return f.Order.BaseSymbol, f.BaseFillAmount()
}

// Outbound is what the taker pays.
func (f *Fill) Outbound() (symbol string, amount decimal.Decimal) {
	if f.Order.Side == market.Bid {
		return f.Order.BaseSymbol, f.BaseFillAmount()
	}
	return f.Order.CounterSymbol, f.CounterFillAmount()
}

// TakerSide is the side of the block order that created the fill.
func (f *Fill) TakerSide() market.Side {
	return f.Order.Side.Inverse()
}

func (f *Fill) QuantumPrice() decimal.Decimal {
	p, _ := f.Order.QuantumPrice()
	return p
}
