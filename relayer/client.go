package relayer

import (
	"context"
	"time"

	"brokerd/api/pb"
	"brokerd/domain/market"
	"brokerd/pkg/errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	makerService     = "/relayer.MakerService/"
	takerService     = "/relayer.TakerService/"
	orderbookService = "/relayer.OrderBookService/"
	infoService      = "/relayer.InfoService/"
	healthService    = "/relayer.HealthService/"
	pcnService       = "/relayer.PaymentChannelNetworkService/"
)

var serverStream = &grpc.StreamDesc{ServerStreams: true}

// Client talks to the relayer over gRPC.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial creates a client for host. Unary calls are bounded by timeout.
func Dial(host string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(host, opts...)
	if err != nil {
		return nil, errors.Upstream(err, "dial relayer %s", host)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req pb.Message, resp string) (pb.Message, error) {
	out := pb.Relayer.New(resp)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Invoke(ctx, method, req.Message, out.Message); err != nil {
		return out, wrapErr(err, method)
	}
	return out, nil
}

func (c *Client) stream(ctx context.Context, method string, req pb.Message) (grpc.ClientStream, error) {
	cs, err := c.conn.NewStream(ctx, serverStream, method)
	if err != nil {
		return nil, wrapErr(err, method)
	}
	if err := cs.SendMsg(req.Message); err != nil {
		return nil, wrapErr(err, method)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, wrapErr(err, method)
	}
	return cs, nil
}

// first opens a server stream and returns its first message.
func (c *Client) first(ctx context.Context, method string, req pb.Message, resp string) (pb.Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := pb.Relayer.New(resp)
	cs, err := c.stream(ctx, method, req)
	if err != nil {
		return out, err
	}
	if err := cs.RecvMsg(out.Message); err != nil {
		return out, wrapErr(err, method)
	}
	return out, nil
}

func wrapErr(err error, method string) error {
	if s, ok := status.FromError(err); ok {
		if coded, ok := parseCoded(s.Message()); ok {
			return errors.Upstream(coded, "relayer %s", method)
		}
	}
	return errors.Upstream(err, "relayer %s", method)
}

func empty() pb.Message {
	return pb.Relayer.New("Empty")
}

func orderRef(orderID string) pb.Message {
	return pb.Relayer.New("OrderRequest").SetStr("order_id", orderID)
}

func invoices(m pb.Message) Invoices {
	return Invoices{
		FeePaymentRequest:     m.Str("fee_payment_request"),
		FeeRequired:           m.Bool("fee_required"),
		DepositPaymentRequest: m.Str("deposit_payment_request"),
		DepositRequired:       m.Bool("deposit_required"),
	}
}

func withRefunds(m pb.Message, r Refunds) pb.Message {
	return m.SetStr("fee_refund_payment_request", r.FeeRefundPaymentRequest).
		SetStr("deposit_refund_payment_request", r.DepositRefundPaymentRequest)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.invoke(ctx, healthService+"Check", empty(), "Empty")
	return err
}

func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	resp, err := c.invoke(ctx, infoService+"GetPublicKey", empty(), "GetPublicKeyResponse")
	return resp.Str("public_key"), err
}

func (c *Client) GetMarkets(ctx context.Context) ([]string, error) {
	resp, err := c.invoke(ctx, infoService+"GetMarkets", empty(), "GetMarketsResponse")
	if err != nil {
		return nil, err
	}
	return resp.Strs("markets"), nil
}

func (c *Client) GetPaymentChannelNetworkAddress(ctx context.Context, symbol string) (string, error) {
	req := pb.Relayer.New("GetAddressRequest").SetStr("symbol", symbol)
	resp, err := c.invoke(ctx, pcnService+"GetAddress", req, "GetAddressResponse")
	return resp.Str("address"), err
}

func (c *Client) CreateOrder(ctx context.Context, r CreateOrderRequest) (CreateOrderResponse, error) {
	req := pb.Relayer.New("CreateOrderRequest").
		SetStr("base_symbol", r.BaseSymbol).
		SetStr("counter_symbol", r.CounterSymbol).
		SetStr("base_amount", r.BaseAmount).
		SetStr("counter_amount", r.CounterAmount).
		SetStr("side", r.Side.String()).
		SetStr("maker_base_address", r.MakerBaseAddress).
		SetStr("maker_counter_address", r.MakerCounterAddress)
	resp, err := c.invoke(ctx, makerService+"CreateOrder", req, "CreateOrderResponse")
	if err != nil {
		return CreateOrderResponse{}, err
	}
	return CreateOrderResponse{OrderID: resp.Str("order_id"), Invoices: invoices(resp)}, nil
}

func (c *Client) PlaceOrder(ctx context.Context, r PlaceOrderRequest) error {
	req := withRefunds(pb.Relayer.New("PlaceOrderRequest").SetStr("order_id", r.OrderID), r.Refunds)
	_, err := c.invoke(ctx, makerService+"PlaceOrder", req, "Empty")
	return err
}

func (c *Client) SubscribeOrder(ctx context.Context, orderID string) (OrderUpdate, error) {
	resp, err := c.first(ctx, makerService+"SubscribeOrder", orderRef(orderID), "SubscribeOrderResponse")
	if err != nil {
		return OrderUpdate{}, err
	}
	u := OrderUpdate{Type: OrderUpdateType(resp.Int("type"))}
	if resp.Present("fill") {
		f := resp.Msg("fill")
		u.Fill = &FillTerms{
			FillID:       f.Str("fill_id"),
			FillAmount:   f.Str("fill_amount"),
			SwapHash:     f.Str("swap_hash"),
			TakerAddress: f.Str("taker_address"),
		}
	}
	return u, nil
}

func (c *Client) ExecuteOrder(ctx context.Context, orderID string) error {
	_, err := c.invoke(ctx, makerService+"ExecuteOrder", orderRef(orderID), "Empty")
	return err
}

func (c *Client) CompleteOrder(ctx context.Context, orderID, swapPreimage string) error {
	req := pb.Relayer.New("CompleteOrderRequest").
		SetStr("order_id", orderID).
		SetStr("swap_preimage", swapPreimage)
	_, err := c.invoke(ctx, makerService+"CompleteOrder", req, "Empty")
	return err
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.invoke(ctx, makerService+"CancelOrder", orderRef(orderID), "Empty")
	return err
}

func (c *Client) CreateFill(ctx context.Context, r CreateFillRequest) (CreateFillResponse, error) {
	req := pb.Relayer.New("CreateFillRequest").
		SetStr("order_id", r.OrderID).
		SetStr("swap_hash", r.SwapHash).
		SetStr("fill_amount", r.FillAmount).
		SetStr("taker_base_address", r.TakerBaseAddress).
		SetStr("taker_counter_address", r.TakerCounterAddress)
	resp, err := c.invoke(ctx, takerService+"CreateFill", req, "CreateFillResponse")
	if err != nil {
		return CreateFillResponse{}, err
	}
	return CreateFillResponse{FillID: resp.Str("fill_id"), Invoices: invoices(resp)}, nil
}

func (c *Client) FillOrder(ctx context.Context, r FillOrderRequest) error {
	req := withRefunds(pb.Relayer.New("FillOrderRequest").SetStr("fill_id", r.FillID), r.Refunds)
	_, err := c.invoke(ctx, takerService+"FillOrder", req, "Empty")
	return err
}

func (c *Client) SubscribeExecute(ctx context.Context, fillID string) (ExecuteInstruction, error) {
	req := pb.Relayer.New("SubscribeExecuteRequest").SetStr("fill_id", fillID)
	resp, err := c.first(ctx, takerService+"SubscribeExecute", req, "SubscribeExecuteResponse")
	if err != nil {
		return ExecuteInstruction{}, err
	}
	return ExecuteInstruction{MakerAddress: resp.Str("maker_address")}, nil
}

// WatchMarket opens the market event stream. The stream lives until ctx is
// done or the relayer ends it.
func (c *Client) WatchMarket(ctx context.Context, r WatchMarketRequest) (MarketStream, error) {
	req := pb.Relayer.New("WatchMarketRequest").
		SetStr("base_symbol", r.BaseSymbol).
		SetStr("counter_symbol", r.CounterSymbol).
		SetStr("last_updated", r.LastUpdated).
		SetUint("sequence", r.Sequence)
	cs, err := c.stream(ctx, orderbookService+"WatchMarket", req)
	if err != nil {
		return nil, err
	}
	return &marketStream{cs: cs}, nil
}

type marketStream struct {
	cs grpc.ClientStream
}

func (s *marketStream) Recv() (*WatchMarketResponse, error) {
	msg := pb.Relayer.New("WatchMarketResponse")
	if err := s.cs.RecvMsg(msg.Message); err != nil {
		return nil, err
	}
	resp := &WatchMarketResponse{
		Type:     ResponseType(msg.Int("type")),
		Checksum: msg.Bytes("checksum"),
	}
	if msg.Present("market_event") {
		e, err := marketEvent(msg.Msg("market_event"))
		if err != nil {
			return nil, errors.Upstream(err, "relayer %sWatchMarket", orderbookService)
		}
		resp.MarketEvent = e
	}
	return resp, nil
}

func marketEvent(m pb.Message) (market.Event, error) {
	typ, err := market.ParseEventType(m.Str("type"))
	if err != nil {
		return market.Event{}, err
	}
	e := market.Event{
		EventID:     m.Str("event_id"),
		OrderID:     m.Str("order_id"),
		Timestamp:   m.Str("timestamp"),
		EventNumber: m.Uint("event_number"),
		Type:        typ,
	}
	if m.Present("payload") {
		p := m.Msg("payload")
		e.Payload.BaseAmount = p.Str("base_amount")
		e.Payload.CounterAmount = p.Str("counter_amount")
		if side := p.Str("side"); side != "" {
			if e.Payload.Side, err = market.ParseSide(side); err != nil {
				return market.Event{}, err
			}
		}
	}
	return e, nil
}
