package worker

import (
	"slices"
	"time"

	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/domain/order"
	"brokerd/infra/store"
	"brokerd/statemachine"

	"github.com/shopspring/decimal"
)

// Details is a block order together with its children.
type Details struct {
	*blockorder.BlockOrder
	Orders []statemachine.Record[order.Order]
	Fills  []statemachine.Record[order.Fill]
}

func (w *Worker) GetBlockOrder(id string) (Details, error) {
	bo, err := w.get(id)
	if err != nil {
		return Details{}, err
	}
	d := Details{BlockOrder: bo}
	r := store.PrefixRange(order.Prefix(id))
	for rec, err := range statemachine.OrderRecords(w.orderDeps.Bucket, r) {
		if err != nil {
			return Details{}, err
		}
		d.Orders = append(d.Orders, rec)
	}
	for rec, err := range statemachine.FillRecords(w.fillDeps.Bucket, r) {
		if err != nil {
			return Details{}, err
		}
		d.Fills = append(d.Fills, rec)
	}
	return d, nil
}

// GetBlockOrders lists the block orders of a market, oldest first.
func (w *Worker) GetBlockOrders(marketName string) ([]*blockorder.BlockOrder, error) {
	if _, err := w.book(marketName); err != nil {
		return nil, err
	}
	var out []*blockorder.BlockOrder
	for kv, err := range w.blockOrders.Scan(store.Range{}) {
		if err != nil {
			return nil, err
		}
		bo, err := blockorder.FromStorage(kv.Key, kv.Value)
		if err != nil {
			return nil, err
		}
		if bo.MarketName == marketName {
			out = append(out, bo)
		}
	}
	return out, nil
}

// Trade is a child that moved funds, seen from the broker.
type Trade struct {
	ID            string          `json:"id"`
	BlockOrderID  string          `json:"blockOrderId"`
	Type          string          `json:"type"`
	Side          market.Side     `json:"side"`
	State         string          `json:"state"`
	BaseSymbol    string          `json:"baseSymbol"`
	CounterSymbol string          `json:"counterSymbol"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	At            time.Time       `json:"at"`
}

// GetTrades lists orders that are executing or completed and fills that
// executed, in the order they reached that state.
func (w *Worker) GetTrades() ([]Trade, error) {
	var out []Trade
	for rec, err := range statemachine.OrderRecords(w.orderDeps.Bucket, store.Range{}) {
		if err != nil {
			return nil, err
		}
		if rec.State != statemachine.OrderExecuting && rec.State != statemachine.OrderCompleted {
			continue
		}
		o := rec.Data
		out = append(out, Trade{
			ID:            o.OrderID,
			BlockOrderID:  o.BlockOrderID,
			Type:          "order",
			Side:          o.Side,
			State:         string(rec.State),
			BaseSymbol:    o.BaseSymbol,
			CounterSymbol: o.CounterSymbol,
			Amount:        o.Filled(),
			Price:         o.QuantumPrice(),
			At:            reachedAt(rec.History, statemachine.OrderExecuting),
		})
	}
	for rec, err := range statemachine.FillRecords(w.fillDeps.Bucket, store.Range{}) {
		if err != nil {
			return nil, err
		}
		if rec.State != statemachine.FillExecuted {
			continue
		}
		f := rec.Data
		out = append(out, Trade{
			ID:            f.FillID,
			BlockOrderID:  f.BlockOrderID,
			Type:          "fill",
			Side:          f.TakerSide(),
			State:         string(rec.State),
			BaseSymbol:    f.Order.BaseSymbol,
			CounterSymbol: f.Order.CounterSymbol,
			Amount:        f.BaseFillAmount(),
			Price:         f.QuantumPrice(),
			At:            reachedAt(rec.History, statemachine.FillExecuted),
		})
	}
	slices.SortStableFunc(out, func(a, b Trade) int { return a.At.Compare(b.At) })
	return out, nil
}

func reachedAt(history []statemachine.HistoryEntry, state statemachine.State) time.Time {
	for _, h := range history {
		if h.To == state {
			return h.At
		}
	}
	return time.Time{}
}

// Funds are quantums committed by live children: Outbound is what the
// broker will pay, Inbound what it will receive.
type Funds struct {
	Outbound decimal.Decimal
	Inbound  decimal.Decimal
}

// CalculateActiveFunds sums what the live children on one side of a market
// have committed.
func (w *Worker) CalculateActiveFunds(marketName string, side market.Side) (Funds, error) {
	b, err := w.book(marketName)
	if err != nil {
		return Funds{}, err
	}
	m := b.Market()
	sameMarket := func(base, counter string) bool {
		return base == m.Base.Symbol && counter == m.Counter.Symbol
	}

	funds := Funds{Outbound: decimal.Zero, Inbound: decimal.Zero}
	for rec, err := range statemachine.OrderRecords(w.activeOrders.Target(), store.Range{}) {
		if err != nil {
			return Funds{}, err
		}
		o := rec.Data
		if o.Side != side || !sameMarket(o.BaseSymbol, o.CounterSymbol) {
			continue
		}
		var out, in decimal.Decimal
		if rec.State == statemachine.OrderExecuting {
			_, out = o.FilledOutbound()
			_, in = o.FilledInbound()
		} else {
			_, out = o.Outbound()
			_, in = o.Inbound()
		}
		funds.Outbound = funds.Outbound.Add(out)
		funds.Inbound = funds.Inbound.Add(in)
	}
	for rec, err := range statemachine.FillRecords(w.activeFills.Target(), store.Range{}) {
		if err != nil {
			return Funds{}, err
		}
		f := rec.Data
		if f.TakerSide() != side || !sameMarket(f.Order.BaseSymbol, f.Order.CounterSymbol) {
			continue
		}
		_, out := f.Outbound()
		_, in := f.Inbound()
		funds.Outbound = funds.Outbound.Add(out)
		funds.Inbound = funds.Inbound.Add(in)
	}
	return funds, nil
}
