package grpcserver

import (
	"context"
	"time"

	"brokerd/api/pb"
	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/domain/order"
	"brokerd/orderbook"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/service"
	"brokerd/statemachine"
	"brokerd/worker"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

// -------------------- Conversions --------------------

func blockOrderParams(req pb.Message) (blockorder.Params, error) {
	side, err := market.ParseSide(req.Str("side"))
	if err != nil {
		return blockorder.Params{}, errors.Wrap(errors.ValidationError, err, "side")
	}
	amount, err := decimal.NewFromString(req.Str("amount"))
	if err != nil {
		return blockorder.Params{}, errors.Wrap(errors.ValidationError, err, "amount %q", req.Str("amount"))
	}
	p := blockorder.Params{
		MarketName:  req.Str("market"),
		Side:        side,
		Amount:      amount,
		TimeInForce: blockorder.TimeInForce(req.Str("time_in_force")),
	}
	if p.TimeInForce == "" {
		p.TimeInForce = blockorder.GTC
	}
	// An empty price is a market order.
	if raw := req.Str("price"); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return blockorder.Params{}, errors.Wrap(errors.ValidationError, err, "price %q", raw)
		}
		p.Price = &price
	}
	return p, nil
}

func toCancelResponse(r worker.CancelResult) pb.Message {
	return pb.Broker.New("CancelResponse").
		AddStr("cancelled_orders", r.CancelledOrders...).
		AddStr("failed_to_cancel_orders", r.FailedToCancelOrders...)
}

func toBlockOrder(bo *blockorder.BlockOrder) pb.Message {
	out := pb.Broker.New("BlockOrder").
		SetStr("block_order_id", bo.ID).
		SetStr("market", bo.MarketName).
		SetStr("side", bo.Side.String()).
		SetStr("amount", bo.Amount.String()).
		SetStr("time_in_force", string(bo.TimeInForce)).
		SetStr("status", string(bo.Status)).
		SetStr("datetime", bo.CreatedAt.UTC().Format(time.RFC3339Nano)).
		SetStr("failure_reason", bo.FailureReason)
	if bo.Price != nil {
		out.SetStr("price", bo.Price.String())
	}
	return out
}

func child(id, state, amount string, price decimal.Decimal, errMsg string, h []statemachine.HistoryEntry) pb.Message {
	return pb.Broker.New("Child").
		SetStr("id", id).
		SetStr("state", state).
		SetStr("amount", amount).
		SetStr("price", price.String()).
		SetStr("error", errMsg).
		SetStr("updated", lastTransition(h))
}

func toOrderChild(rec statemachine.Record[order.Order]) pb.Message {
	o := rec.Data
	id := o.OrderID
	if id == "" {
		id = o.LocalID
	}
	return child(id, string(rec.State), o.BaseAmount, o.QuantumPrice(), rec.Error, rec.History)
}

func toFillChild(rec statemachine.Record[order.Fill]) pb.Message {
	f := rec.Data
	id := f.FillID
	if id == "" {
		id = f.LocalID
	}
	return child(id, string(rec.State), f.FillAmount, f.QuantumPrice(), rec.Error, rec.History)
}

func lastTransition(h []statemachine.HistoryEntry) string {
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1].At.UTC().Format(time.RFC3339Nano)
}

func toTrade(t worker.Trade) pb.Message {
	return pb.Broker.New("BlockOrderTrade").
		SetStr("id", t.ID).
		SetStr("block_order_id", t.BlockOrderID).
		SetStr("type", t.Type).
		SetStr("side", t.Side.String()).
		SetStr("state", t.State).
		SetStr("base_symbol", t.BaseSymbol).
		SetStr("counter_symbol", t.CounterSymbol).
		SetStr("amount", t.Amount.String()).
		SetStr("price", t.Price.String()).
		SetStr("datetime", t.At.UTC().Format(time.RFC3339Nano))
}

func toMarketTrade(t market.Trade) pb.Message {
	return pb.Broker.New("MarketTrade").
		SetStr("id", t.ID).
		SetStr("order_id", t.OrderID).
		SetStr("timestamp", t.Timestamp).
		SetStr("datetime", t.Datetime).
		SetStr("market", t.Market).
		SetStr("side", t.Side).
		SetStr("amount", t.Amount).
		SetStr("price", t.Price)
}

func toPriceAmounts(out pb.Message, field string, levels []service.PriceAmount) {
	for _, l := range levels {
		out.Add(field, pb.Broker.New("PriceAmount").
			SetStr("price", l.Price.String()).
			SetStr("amount", l.Amount.String()))
	}
}

func toOrder(o market.Order) pb.Message {
	return pb.Broker.New("Order").
		SetStr("order_id", o.OrderID).
		SetStr("created_at", o.CreatedAt).
		SetStr("base_amount", o.BaseAmount).
		SetStr("counter_amount", o.CounterAmount).
		SetStr("side", o.Side.String()).
		SetStr("base_symbol", o.BaseSymbol).
		SetStr("counter_symbol", o.CounterSymbol)
}

// -------------------- Handlers --------------------

func (s *Server) createBlockOrder(ctx context.Context, req pb.Message) (pb.Message, error) {
	p, err := blockOrderParams(req)
	if err != nil {
		return pb.Message{}, err
	}
	id, err := s.svc.CreateBlockOrder(ctx, p)
	if err != nil {
		return pb.Message{}, err
	}
	return pb.Broker.New("CreateBlockOrderResponse").SetStr("block_order_id", id), nil
}

func (s *Server) cancelBlockOrder(ctx context.Context, req pb.Message) (pb.Message, error) {
	res, err := s.svc.CancelBlockOrder(ctx, req.Str("block_order_id"))
	if err != nil {
		return pb.Message{}, err
	}
	return toCancelResponse(res), nil
}

func (s *Server) cancelAllBlockOrders(ctx context.Context, req pb.Message) (pb.Message, error) {
	res, err := s.svc.CancelAllBlockOrders(ctx, req.Str("market"))
	if err != nil {
		return pb.Message{}, err
	}
	return toCancelResponse(res), nil
}

func (s *Server) getBlockOrder(_ context.Context, req pb.Message) (pb.Message, error) {
	d, err := s.svc.GetBlockOrder(req.Str("block_order_id"))
	if err != nil {
		return pb.Message{}, err
	}
	out := toBlockOrder(d.BlockOrder)
	for _, rec := range d.Orders {
		out.Add("orders", toOrderChild(rec))
	}
	for _, rec := range d.Fills {
		out.Add("fills", toFillChild(rec))
	}
	return out, nil
}

func (s *Server) getBlockOrders(_ context.Context, req pb.Message) (pb.Message, error) {
	bos, err := s.svc.GetBlockOrders(req.Str("market"))
	if err != nil {
		return pb.Message{}, err
	}
	out := pb.Broker.New("BlockOrdersResponse")
	for _, bo := range bos {
		out.Add("block_orders", toBlockOrder(bo))
	}
	return out, nil
}

func (s *Server) getTradeHistory(context.Context, pb.Message) (pb.Message, error) {
	trades, err := s.svc.GetTradeHistory()
	if err != nil {
		return pb.Message{}, err
	}
	out := pb.Broker.New("TradeHistoryResponse")
	for _, t := range trades {
		out.Add("trades", toTrade(t))
	}
	return out, nil
}

func (s *Server) getOrderbook(_ context.Context, req pb.Message) (pb.Message, error) {
	ob, err := s.svc.GetOrderbook(req.Str("market"))
	if err != nil {
		return pb.Message{}, err
	}
	out := pb.Broker.New("OrderbookResponse").
		SetStr("timestamp", ob.Timestamp).
		SetStr("datetime", ob.Datetime)
	toPriceAmounts(out, "bids", ob.Bids)
	toPriceAmounts(out, "asks", ob.Asks)
	return out, nil
}

func (s *Server) getTrades(_ context.Context, req pb.Message) (pb.Message, error) {
	var since time.Time
	if raw := req.Str("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return pb.Message{}, errors.Wrap(errors.ValidationError, err, "since %q", raw)
		}
		since = t
	}
	limit := int(req.Int("limit"))
	if limit < 0 {
		return pb.Message{}, errors.Validation("limit must not be negative, got %d", limit)
	}
	trades, err := s.svc.GetTrades(req.Str("market"), since, limit)
	if err != nil {
		return pb.Message{}, err
	}
	out := pb.Broker.New("TradesResponse")
	for _, t := range trades {
		out.Add("trades", toMarketTrade(t))
	}
	return out, nil
}

func (s *Server) getSupportedMarkets(ctx context.Context, _ pb.Message) (pb.Message, error) {
	markets, err := s.svc.GetSupportedMarkets(ctx)
	if err != nil {
		return pb.Message{}, err
	}
	out := pb.Broker.New("MarketsResponse")
	for _, m := range markets {
		out.Add("markets", pb.Broker.New("Market").
			SetStr("id", m.ID).
			SetStr("symbol", m.Symbol).
			SetStr("base", m.Base).
			SetStr("counter", m.Counter).
			SetBool("active", m.Active))
	}
	return out, nil
}

func (s *Server) getActiveFunds(_ context.Context, req pb.Message) (pb.Message, error) {
	side, err := market.ParseSide(req.Str("side"))
	if err != nil {
		return pb.Message{}, errors.Wrap(errors.ValidationError, err, "side")
	}
	funds, err := s.svc.GetActiveFunds(req.Str("market"), side)
	if err != nil {
		return pb.Message{}, err
	}
	return pb.Broker.New("ActiveFundsResponse").
		SetStr("outbound_symbol", funds.OutboundSymbol).
		SetStr("active_outbound_amount", funds.Outbound.String()).
		SetStr("inbound_symbol", funds.InboundSymbol).
		SetStr("active_inbound_amount", funds.Inbound.String()), nil
}

func (s *Server) healthCheck(ctx context.Context, _ pb.Message) (pb.Message, error) {
	h := s.svc.HealthCheck(ctx)
	out := pb.Broker.New("HealthCheckResponse").SetStr("relayer_status", h.RelayerStatus)
	for _, e := range h.EngineStatus {
		out.Add("engine_status", pb.Broker.New("EngineStatus").
			SetStr("symbol", e.Symbol).
			SetStr("status", e.Status))
	}
	for _, o := range h.OrderbookStatus {
		out.Add("orderbook_status", pb.Broker.New("OrderbookStatus").
			SetStr("market", o.Market).
			SetStr("status", o.Status))
	}
	return out, nil
}

func watchMarketHandler(srv any, stream grpc.ServerStream) error {
	req := pb.Broker.New("MarketRequest")
	if err := stream.RecvMsg(req.Message); err != nil {
		return err
	}
	return srv.(*Server).watchMarket(req.Str("market"), stream)
}

// watchMarket streams the book's backlog, a SYNC marker and then live
// changes until the client goes away or the subscription is dropped.
func (s *Server) watchMarket(marketName string, stream grpc.ServerStream) error {
	ctx := stream.Context()
	sub, err := s.svc.WatchMarket(ctx, marketName)
	if err != nil {
		return err
	}
	sent := 0
	for ev := range sub.C {
		resp := pb.Broker.New("WatchMarketResponse").SetStr("type", ev.Type.String())
		if ev.Type != orderbook.FeedSync {
			resp.SetMsg("order", toOrder(ev.Order))
		}
		if err := stream.SendMsg(resp.Message); err != nil {
			return err
		}
		sent++
	}
	if err := sub.Err(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.DebugContext(ctx, "market stream closed",
		logger.NewField("market", marketName),
		logger.NewField("sent", sent),
	)
	return nil
}
