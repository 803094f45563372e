package engine

import (
	"context"
	"time"

	"brokerd/api/pb"
	"brokerd/pkg/errors"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const service = "/engine.EngineService/"

// Client is an Engine reached over gRPC.
type Client struct {
	symbol     string
	maxPayment decimal.Decimal
	conn       *grpc.ClientConn
	timeout    time.Duration
}

type ClientConfig struct {
	Symbol         string
	Host           string
	MaxPaymentSize decimal.Decimal
	CallTimeout    time.Duration
}

func Dial(cfg ClientConfig, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Upstream(err, "dial %s engine at %s", cfg.Symbol, cfg.Host)
	}
	return &Client{
		symbol:     cfg.Symbol,
		maxPayment: cfg.MaxPaymentSize,
		conn:       conn,
		timeout:    cfg.CallTimeout,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Symbol() string {
	return c.symbol
}

func (c *Client) MaxPaymentSize() decimal.Decimal {
	return c.maxPayment
}

func (c *Client) call(ctx context.Context, method string, req pb.Message, resp string) (pb.Message, error) {
	out := pb.Engine.New(resp)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Invoke(ctx, service+method, req.Message, out.Message); err != nil {
		return out, errors.Upstream(err, "%s engine %s", c.symbol, method)
	}
	return out, nil
}

func swapRequest() pb.Message {
	return pb.Engine.New("SwapRequest")
}

func invoice(paymentRequest string) pb.Message {
	return pb.Engine.New("Invoice").SetStr("payment_request", paymentRequest)
}

func (c *Client) GetPaymentChannelNetworkAddress(ctx context.Context) (string, error) {
	resp, err := c.call(ctx, "GetPaymentChannelNetworkAddress", pb.Engine.New("Empty"), "AddressResponse")
	return resp.Str("address"), err
}

func (c *Client) IsBalanceSufficient(ctx context.Context, address string, amount decimal.Decimal, outbound bool) (bool, error) {
	req := pb.Engine.New("BalanceRequest").
		SetStr("address", address).
		SetStr("amount", amount.String()).
		SetBool("outbound", outbound)
	resp, err := c.call(ctx, "IsBalanceSufficient", req, "BalanceResponse")
	return resp.Bool("sufficient"), err
}

func (c *Client) PayInvoice(ctx context.Context, paymentRequest string) error {
	_, err := c.call(ctx, "PayInvoice", invoice(paymentRequest), "Empty")
	return err
}

func (c *Client) CreateRefundInvoice(ctx context.Context, paymentRequest string) (string, error) {
	resp, err := c.call(ctx, "CreateRefundInvoice", invoice(paymentRequest), "Invoice")
	return resp.Str("payment_request"), err
}

func (c *Client) CreateSwapHash(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	req := swapRequest().SetStr("order_id", orderID).SetStr("amount", amount.String())
	resp, err := c.call(ctx, "CreateSwapHash", req, "SwapHashResponse")
	return resp.Str("swap_hash"), err
}

func (c *Client) PrepareSwap(ctx context.Context, swapHash string, amount decimal.Decimal) error {
	req := swapRequest().SetStr("swap_hash", swapHash).SetStr("amount", amount.String())
	_, err := c.call(ctx, "PrepareSwap", req, "Empty")
	return err
}

func (c *Client) ExecuteSwap(ctx context.Context, makerAddress, swapHash string, amount decimal.Decimal) error {
	req := swapRequest().
		SetStr("maker_address", makerAddress).
		SetStr("swap_hash", swapHash).
		SetStr("amount", amount.String())
	_, err := c.call(ctx, "ExecuteSwap", req, "Empty")
	return err
}

func (c *Client) GetSettledSwapPreimage(ctx context.Context, swapHash string) (string, error) {
	resp, err := c.call(ctx, "GetSettledSwapPreimage", swapRequest().SetStr("swap_hash", swapHash), "PreimageResponse")
	return resp.Str("swap_preimage"), err
}
