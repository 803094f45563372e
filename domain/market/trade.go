package market

import "time"

// Trade is a FILLED event as reported to clients.
type Trade struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	Timestamp string `json:"timestamp"`
	Datetime  string `json:"datetime"`
	Market    string `json:"market"`
	// Side, Amount and Price are present only when the relayer attached
	// the fill terms to the event.
	Side   string `json:"side,omitempty"`
	Amount string `json:"amount,omitempty"`
	Price  string `json:"price,omitempty"`
}

// TradeFromEvent converts a FILLED event.
func TradeFromEvent(e Event, m Market) Trade {
	t := Trade{
		ID:        e.EventID,
		OrderID:   e.OrderID,
		Timestamp: e.Timestamp,
		Datetime:  e.Time().Format(time.RFC3339Nano),
		Market:    m.Name,
	}
	if e.Payload.BaseAmount != "" && e.Payload.CounterAmount != "" {
		o := Order{BaseAmount: e.Payload.BaseAmount, CounterAmount: e.Payload.CounterAmount}
		t.Amount = o.Amount(m).String()
		t.Price = o.Price(m).String()
	}
	if e.Payload.Side.Valid() {
		t.Side = e.Payload.Side.String()
	}
	return t
}
