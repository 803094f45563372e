package relayer_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"brokerd/api/pb"
	"brokerd/domain/market"
	"brokerd/pkg/errors"
	"brokerd/relayer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// handler answers one method of the fake relayer: it decodes a request of
// type req and sends zero or more responses.
type handler struct {
	req   string
	serve func(req pb.Message, send func(pb.Message) error) error
}

func startRelayer(t *testing.T, handlers map[string]handler) *relayer.Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		h, ok := handlers[method]
		if !ok {
			return status.Errorf(codes.Unimplemented, "%s", method)
		}
		req := pb.Relayer.New(h.req)
		if err := stream.RecvMsg(req.Message); err != nil {
			return err
		}
		return h.serve(req, func(m pb.Message) error { return stream.SendMsg(m.Message) })
	}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := relayer.Dial("passthrough:///relayer", time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCreateOrder(t *testing.T) {
	var got pb.Message
	c := startRelayer(t, map[string]handler{
		"/relayer.MakerService/CreateOrder": {req: "CreateOrderRequest", serve: func(req pb.Message, send func(pb.Message) error) error {
			got = req
			return send(pb.Relayer.New("CreateOrderResponse").
				SetStr("order_id", "order-1").
				SetStr("fee_payment_request", "lnbc-fee").
				SetBool("fee_required", true))
		}},
	})

	resp, err := c.CreateOrder(context.Background(), relayer.CreateOrderRequest{
		BaseSymbol:    "BTC",
		CounterSymbol: "LTC",
		BaseAmount:    "1000",
		CounterAmount: "50000",
		Side:          market.Bid,
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.True(t, resp.FeeRequired)
	assert.Equal(t, "lnbc-fee", resp.FeePaymentRequest)
	assert.False(t, resp.DepositRequired)
	assert.Equal(t, "BID", got.Str("side"))
	assert.Equal(t, "1000", got.Str("base_amount"))
}

func TestClientPlaceOrderSendsRefunds(t *testing.T) {
	var got pb.Message
	c := startRelayer(t, map[string]handler{
		"/relayer.MakerService/PlaceOrder": {req: "PlaceOrderRequest", serve: func(req pb.Message, send func(pb.Message) error) error {
			got = req
			return send(pb.Relayer.New("Empty"))
		}},
	})

	err := c.PlaceOrder(context.Background(), relayer.PlaceOrderRequest{
		OrderID: "order-1",
		Refunds: relayer.Refunds{FeeRefundPaymentRequest: "lnbc-refund"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", got.Str("order_id"))
	assert.Equal(t, "lnbc-refund", got.Str("fee_refund_payment_request"))
	assert.Empty(t, got.Str("deposit_refund_payment_request"))
}

func TestClientCodedError(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.TakerService/FillOrder": {req: "FillOrderRequest", serve: func(pb.Message, func(pb.Message) error) error {
			return status.Error(codes.FailedPrecondition, "ORDER_NOT_PLACED: order is no longer in the book")
		}},
	})

	err := c.FillOrder(context.Background(), relayer.FillOrderRequest{FillID: "fill-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.UpstreamUnavailableError))
	assert.Equal(t, relayer.CodeOrderNotPlaced, relayer.ErrorCode(err))
}

func TestClientUncodedError(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.MakerService/CancelOrder": {req: "OrderRequest", serve: func(pb.Message, func(pb.Message) error) error {
			return status.Error(codes.Internal, "something broke")
		}},
	})

	err := c.CancelOrder(context.Background(), "order-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.UpstreamUnavailableError))
	assert.Empty(t, relayer.ErrorCode(err))
}

func TestClientSubscribeOrder(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.MakerService/SubscribeOrder": {req: "OrderRequest", serve: func(req pb.Message, send func(pb.Message) error) error {
			if req.Str("order_id") != "order-1" {
				return status.Error(codes.NotFound, "no such order")
			}
			fill := pb.Relayer.New("FillTerms").
				SetStr("fill_id", "fill-9").
				SetStr("fill_amount", "400").
				SetStr("swap_hash", "hash")
			return send(pb.Relayer.New("SubscribeOrderResponse").SetInt("type", 1).SetMsg("fill", fill))
		}},
	})

	u, err := c.SubscribeOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, relayer.OrderFilled, u.Type)
	require.NotNil(t, u.Fill)
	assert.Equal(t, "fill-9", u.Fill.FillID)
	assert.Equal(t, "400", u.Fill.FillAmount)
}

func TestClientSubscribeOrderCancelledHasNoFill(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.MakerService/SubscribeOrder": {req: "OrderRequest", serve: func(_ pb.Message, send func(pb.Message) error) error {
			return send(pb.Relayer.New("SubscribeOrderResponse").SetInt("type", 2))
		}},
	})

	u, err := c.SubscribeOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, relayer.OrderCancelled, u.Type)
	assert.Nil(t, u.Fill)
}

func TestClientGetMarkets(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.InfoService/GetMarkets": {req: "Empty", serve: func(_ pb.Message, send func(pb.Message) error) error {
			return send(pb.Relayer.New("GetMarketsResponse").AddStr("markets", "BTC/LTC", "ETH/BTC"))
		}},
	})

	markets, err := c.GetMarkets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/LTC", "ETH/BTC"}, markets)
}

func TestClientWatchMarket(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.OrderBookService/WatchMarket": {req: "WatchMarketRequest", serve: func(req pb.Message, send func(pb.Message) error) error {
			if req.Str("base_symbol") != "BTC" {
				return status.Error(codes.InvalidArgument, "bad market")
			}
			if err := send(pb.Relayer.New("WatchMarketResponse").SetInt("type", 1)); err != nil {
				return err
			}
			payload := pb.Relayer.New("MarketEventPayload").
				SetStr("base_amount", "10").
				SetStr("counter_amount", "20").
				SetStr("side", "ASK")
			event := pb.Relayer.New("MarketEvent").
				SetStr("event_id", "e1").
				SetStr("order_id", "o1").
				SetStr("timestamp", "1000").
				SetUint("event_number", 7).
				SetStr("type", "PLACED").
				SetMsg("payload", payload)
			return send(pb.Relayer.New("WatchMarketResponse").
				SetInt("type", 2).
				SetMsg("market_event", event).
				SetBytes("checksum", []byte{1, 2}))
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.WatchMarket(ctx, relayer.WatchMarketRequest{BaseSymbol: "BTC", CounterSymbol: "LTC"})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, relayer.StartOfEvents, resp.Type)

	resp, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, relayer.ExistingEvent, resp.Type)
	assert.Equal(t, "o1", resp.MarketEvent.OrderID)
	assert.Equal(t, uint64(7), resp.MarketEvent.EventNumber)
	assert.Equal(t, market.EventPlaced, resp.MarketEvent.Type)
	assert.Equal(t, market.Ask, resp.MarketEvent.Payload.Side)
	assert.Equal(t, []byte{1, 2}, resp.Checksum)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClientWatchMarketRejectsUnknownEventType(t *testing.T) {
	c := startRelayer(t, map[string]handler{
		"/relayer.OrderBookService/WatchMarket": {req: "WatchMarketRequest", serve: func(_ pb.Message, send func(pb.Message) error) error {
			event := pb.Relayer.New("MarketEvent").SetStr("order_id", "o1").SetStr("type", "EXPLODED")
			return send(pb.Relayer.New("WatchMarketResponse").SetInt("type", 4).SetMsg("market_event", event))
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := c.WatchMarket(ctx, relayer.WatchMarketRequest{BaseSymbol: "BTC", CounterSymbol: "LTC"})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.True(t, errors.Is(err, errors.UpstreamUnavailableError), "got %v", err)
}
