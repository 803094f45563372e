// Package blockorder models the user-level unit of work: one request to buy
// or sell an amount on a market, worked through any number of relayer
// orders and fills.
package blockorder

import (
	"encoding/json"
	"time"

	"brokerd/domain/market"
	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
)

type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	PO  TimeInForce = "PO"
	FOK TimeInForce = "FOK"
	IOC TimeInForce = "IOC"
)

// Supported reports whether the broker can honour tif. Only variants that
// are safe to cancel after a partial fill are accepted.
func (tif TimeInForce) Supported() bool {
	return tif == GTC || tif == PO
}

func (tif TimeInForce) Valid() bool {
	switch tif {
	case GTC, PO, FOK, IOC:
		return true
	}
	return false
}

type BlockOrder struct {
	ID          string           `json:"-"`
	MarketName  string           `json:"marketName"`
	Side        market.Side      `json:"side"`
	Amount      decimal.Decimal  `json:"amount"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	TimeInForce TimeInForce      `json:"timeInForce"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`

	// CancelRequested records a user cancellation so the derived status
	// can tell it apart from a relayer-initiated one.
	CancelRequested bool `json:"cancelRequested,omitempty"`
	// FailureReason is set when working the block order failed outside
	// any child, e.g. for lack of depth.
	FailureReason string `json:"failureReason,omitempty"`
	// FillRetries counts fills reworked after the maker's order vanished.
	FillRetries int `json:"fillRetries,omitempty"`
}

// Params are the client supplied terms of a new block order, in common
// units.
type Params struct {
	MarketName  string
	Side        market.Side
	Amount      decimal.Decimal
	Price       *decimal.Decimal
	TimeInForce TimeInForce
}

// Validate checks the terms that do not depend on broker state.
func (p Params) Validate() error {
	if !p.Side.Valid() {
		return errors.Validation("%s is not a valid side for a block order", p.Side)
	}
	if !p.Amount.IsPositive() {
		return errors.Validation("amount must be positive, got %s", p.Amount)
	}
	if p.Price != nil && !p.Price.IsPositive() {
		return errors.Validation("limit price must be positive, got %s", p.Price)
	}
	if !p.TimeInForce.Valid() {
		return errors.Validation("unknown time in force %q", p.TimeInForce)
	}
	return nil
}

func New(id string, p Params, now time.Time) *BlockOrder {
	return &BlockOrder{
		ID:          id,
		MarketName:  p.MarketName,
		Side:        p.Side,
		Amount:      p.Amount,
		Price:       p.Price,
		TimeInForce: p.TimeInForce,
		Status:      Active,
		CreatedAt:   now.UTC(),
	}
}

func (b *BlockOrder) IsMarketOrder() bool {
	return b.Price == nil
}

func (b *BlockOrder) Terminal() bool {
	return b.Status != Active
}

// BaseAmount is Amount in base currency quantums.
func (b *BlockOrder) BaseAmount(m market.Market) (decimal.Decimal, error) {
	q, err := m.Base.ToQuantums(b.Amount)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ValidationError, err, "block order %s", b.ID)
	}
	return q, nil
}

// QuantumPrice converts the limit price into counter quantums per base
// quantum, the unit the orderbook indexes by.
func (b *BlockOrder) QuantumPrice(m market.Market) *decimal.Decimal {
	if b.Price == nil {
		return nil
	}
	p := b.Price.Mul(m.Counter.QuantumsPerCommon).DivRound(m.Base.QuantumsPerCommon, market.PriceScale)
	return &p
}

// CounterAmount prices a base quantity at the limit price, in counter
// quantums rounded to an integer.
func (b *BlockOrder) CounterAmount(m market.Market, base decimal.Decimal) decimal.Decimal {
	p := b.QuantumPrice(m)
	if p == nil {
		return decimal.Zero
	}
	return base.Mul(*p).Round(0)
}

func (b *BlockOrder) Key() []byte {
	return []byte(b.ID)
}

func (b *BlockOrder) Value() ([]byte, error) {
	v, err := json.Marshal(b)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, err, "encode block order %s", b.ID)
	}
	return v, nil
}

func FromStorage(key, value []byte) (*BlockOrder, error) {
	b := &BlockOrder{}
	if err := json.Unmarshal(value, b); err != nil {
		return nil, errors.Wrap(errors.InternalError, err, "decode block order %s", key)
	}
	if !b.Status.Valid() {
		return nil, errors.New(errors.InternalError, "block order %s has invalid status %q", key, b.Status)
	}
	b.ID = string(key)
	return b, nil
}
