package orderbook

import (
	"brokerd/domain/market"
	"brokerd/infra/index"
)

// openOrders projects the event log onto the set of open orders: a PLACED
// event adds the order, CANCELLED and FILLED remove it.
func openOrders(m market.Market) index.Projection {
	return index.ProjectionFunc(func(key, value []byte) (index.Operation, error) {
		e, err := market.EventFromStorage(key, value)
		if err != nil {
			return index.Operation{}, err
		}
		switch e.Type {
		case market.EventPlaced:
			o, err := market.OrderFromEvent(e, m)
			if err != nil {
				return index.Operation{}, err
			}
			return index.PutOp([]byte(o.OrderID), o.Value()), nil
		case market.EventCancelled, market.EventFilled:
			return index.DeleteOp([]byte(e.OrderID)), nil
		default:
			return index.Operation{}, nil
		}
	})
}

// priceOrdered keeps the open orders of one side keyed by price, best
// first, ties in order id order.
func priceOrdered(side market.Side) index.Projection {
	return index.ProjectionFunc(func(key, value []byte) (index.Operation, error) {
		o, err := market.OrderFromStorage(key, value)
		if err != nil {
			return index.Operation{}, err
		}
		if o.Side != side {
			return index.Operation{}, nil
		}
		price, err := o.QuantumPrice()
		if err != nil {
			return index.Operation{}, err
		}
		pk, err := market.PriceKey(side, price)
		if err != nil {
			return index.Operation{}, err
		}
		return index.PutOp(priceIndexKey(pk, o.OrderID), value), nil
	})
}

func priceIndexKey(priceKey, orderID string) []byte {
	return []byte(priceKey + ":" + orderID)
}
