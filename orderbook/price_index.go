package orderbook

import (
	"iter"

	"brokerd/domain/market"
	"brokerd/infra/index"
	"brokerd/infra/store"
	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
)

// PriceIndex is the ask or bid side of the book ordered best price first.
type PriceIndex struct {
	side   market.Side
	subset *index.Subset
}

// KeyForPrice returns the sortable key prefix of orders at price.
func (p *PriceIndex) KeyForPrice(price decimal.Decimal) (string, error) {
	return market.PriceKey(p.side, price)
}

// StreamOrdersAtPriceOrBetter yields orders from the best price up to and
// including price. A nil price yields the whole side. The sequence reads
// the index afresh on every iteration.
func (p *PriceIndex) StreamOrdersAtPriceOrBetter(price *decimal.Decimal) iter.Seq2[market.Order, error] {
	return func(yield func(market.Order, error) bool) {
		var r store.Range
		if price != nil {
			pk, err := p.KeyForPrice(*price)
			if err != nil {
				yield(market.Order{}, err)
				return
			}
			r.LT = store.PrefixEnd([]byte(pk + ":"))
		}
		for kv, err := range p.subset.Scan(r) {
			if err != nil {
				yield(market.Order{}, err)
				return
			}
			o, err := market.OrderFromStorage(kv.Key, kv.Value)
			if err != nil {
				yield(market.Order{}, errors.Wrap(errors.IndexCorruptionError, err, "decode %s index record", p.side))
				return
			}
			if !yield(o, nil) {
				return
			}
		}
	}
}
