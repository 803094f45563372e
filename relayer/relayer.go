// Package relayer describes the remote matching relayer the broker trades
// through and provides a gRPC client for it.
package relayer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"brokerd/domain/market"
)

// Relayer is the subset of the relayer's maker, taker, orderbook and info
// services the broker consumes. Unary calls are expected to honour ctx
// deadlines; Subscribe* and WatchMarket block until the relayer reports an
// outcome or ctx is done.
type Relayer interface {
	HealthCheck(ctx context.Context) error
	GetPublicKey(ctx context.Context) (string, error)
	GetMarkets(ctx context.Context) ([]string, error)
	GetPaymentChannelNetworkAddress(ctx context.Context, symbol string) (string, error)

	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResponse, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) error
	SubscribeOrder(ctx context.Context, orderID string) (OrderUpdate, error)
	ExecuteOrder(ctx context.Context, orderID string) error
	CompleteOrder(ctx context.Context, orderID, swapPreimage string) error
	CancelOrder(ctx context.Context, orderID string) error

	CreateFill(ctx context.Context, req CreateFillRequest) (CreateFillResponse, error)
	FillOrder(ctx context.Context, req FillOrderRequest) error
	SubscribeExecute(ctx context.Context, fillID string) (ExecuteInstruction, error)

	WatchMarket(ctx context.Context, req WatchMarketRequest) (MarketStream, error)
}

type CreateOrderRequest struct {
	BaseSymbol          string
	CounterSymbol       string
	BaseAmount          string
	CounterAmount       string
	Side                market.Side
	MakerBaseAddress    string
	MakerCounterAddress string
}

// Invoices the relayer asks a maker or taker to pay before the order or fill
// becomes live.
type Invoices struct {
	FeePaymentRequest     string
	FeeRequired           bool
	DepositPaymentRequest string
	DepositRequired       bool
}

type CreateOrderResponse struct {
	OrderID string
	Invoices
}

// Refunds carries the refund invoices matching the paid Invoices.
type Refunds struct {
	FeeRefundPaymentRequest     string
	DepositRefundPaymentRequest string
}

type PlaceOrderRequest struct {
	OrderID string
	Refunds
}

type OrderUpdateType uint8

const (
	OrderFilled OrderUpdateType = iota + 1
	OrderCancelled
)

// OrderUpdate is the outcome of a placed order.
type OrderUpdate struct {
	Type OrderUpdateType
	Fill *FillTerms
}

// FillTerms describe how a taker filled a maker's order.
type FillTerms struct {
	FillID       string
	FillAmount   string
	SwapHash     string
	TakerAddress string
}

type CreateFillRequest struct {
	OrderID             string
	SwapHash            string
	FillAmount          string
	TakerBaseAddress    string
	TakerCounterAddress string
}

type CreateFillResponse struct {
	FillID string
	Invoices
}

type FillOrderRequest struct {
	FillID string
	Refunds
}

// ExecuteInstruction tells a taker to pay the maker.
type ExecuteInstruction struct {
	MakerAddress string
}

type WatchMarketRequest struct {
	BaseSymbol    string
	CounterSymbol string
	LastUpdated   string
	Sequence      uint64
}

type ResponseType uint8

const (
	StartOfEvents ResponseType = iota + 1
	ExistingEvent
	ExistingEventsDone
	NewEvent
)

func (t ResponseType) String() string {
	switch t {
	case StartOfEvents:
		return "START_OF_EVENTS"
	case ExistingEvent:
		return "EXISTING_EVENT"
	case ExistingEventsDone:
		return "EXISTING_EVENTS_DONE"
	case NewEvent:
		return "NEW_EVENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

type WatchMarketResponse struct {
	Type        ResponseType
	MarketEvent market.Event
	// Checksum is the relayer's XOR of sha256(orderId) over every event it
	// has sent, present on EXISTING_EVENTS_DONE and NEW_EVENT.
	Checksum []byte
}

// MarketStream yields watch responses until the relayer ends the stream,
// reported as io.EOF.
type MarketStream interface {
	Recv() (*WatchMarketResponse, error)
}

// CodeOrderNotPlaced is returned by FillOrder when the maker's order is not
// (yet or any longer) in the book. The fill may be retried against
// another order.
const CodeOrderNotPlaced = "ORDER_NOT_PLACED"

// CodedError is a relayer business error with a machine-readable code.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return e.Code + ": " + e.Message
}

// parseCoded recognises messages of the form "CODE: message".
func parseCoded(msg string) (*CodedError, bool) {
	code, rest, ok := strings.Cut(msg, ":")
	if !ok || code == "" || strings.ToUpper(code) != code || strings.ContainsAny(code, " \t") {
		return nil, false
	}
	return &CodedError{Code: code, Message: strings.TrimSpace(rest)}, true
}

// ErrorCode returns the relayer code carried by err, if any.
func ErrorCode(err error) string {
	var coded *CodedError
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
