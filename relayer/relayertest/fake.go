// Package relayertest provides an in-memory Relayer for tests.
package relayertest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"brokerd/relayer"
)

// Fake is an in-memory relayer. The Fn fields override the default
// behaviour of the matching method and must be set before first use.
type Fake struct {
	PublicKey    string
	Markets      []string
	OrderInvoice relayer.Invoices
	FillInvoice  relayer.Invoices

	HealthCheckFn   func() error
	CreateOrderFn   func(relayer.CreateOrderRequest) (relayer.CreateOrderResponse, error)
	PlaceOrderFn    func(relayer.PlaceOrderRequest) error
	ExecuteOrderFn  func(orderID string) error
	CompleteOrderFn func(orderID, preimage string) error
	CancelOrderFn   func(orderID string) error
	CreateFillFn    func(relayer.CreateFillRequest) (relayer.CreateFillResponse, error)
	FillOrderFn     func(relayer.FillOrderRequest) error
	// SubscribeExecuteFn answers immediately when set; otherwise the call
	// blocks until Execute is called for the fill.
	SubscribeExecuteFn func(fillID string) (relayer.ExecuteInstruction, error)

	mu       sync.Mutex
	seq      int
	calls    map[string]int
	orders   []relayer.CreateOrderRequest
	fills    []relayer.CreateFillRequest
	updates  map[string]chan relayer.OrderUpdate
	executes map[string]chan relayer.ExecuteInstruction
	watches  []relayer.WatchMarketRequest
	streams  chan *Stream
}

func New() *Fake {
	return &Fake{
		PublicKey: "relayer-pubkey",
		calls:     make(map[string]int),
		updates:   make(map[string]chan relayer.OrderUpdate),
		executes:  make(map[string]chan relayer.ExecuteInstruction),
		streams:   make(chan *Stream, 16),
	}
}

var _ relayer.Relayer = (*Fake)(nil)

func (f *Fake) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

// Calls reports how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// CreatedOrders returns every CreateOrder request in call order.
func (f *Fake) CreatedOrders() []relayer.CreateOrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relayer.CreateOrderRequest(nil), f.orders...)
}

// CreatedFills returns every CreateFill request in call order.
func (f *Fake) CreatedFills() []relayer.CreateFillRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relayer.CreateFillRequest(nil), f.fills...)
}

func (f *Fake) nextID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) updateCh(orderID string) chan relayer.OrderUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.updates[orderID]
	if !ok {
		ch = make(chan relayer.OrderUpdate, 1)
		f.updates[orderID] = ch
	}
	return ch
}

func (f *Fake) executeCh(fillID string) chan relayer.ExecuteInstruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.executes[fillID]
	if !ok {
		ch = make(chan relayer.ExecuteInstruction, 1)
		f.executes[fillID] = ch
	}
	return ch
}

// UpdateOrder delivers u to the (current or next) SubscribeOrder call for
// orderID.
func (f *Fake) UpdateOrder(orderID string, u relayer.OrderUpdate) {
	f.updateCh(orderID) <- u
}

// Execute releases the SubscribeExecute call for fillID.
func (f *Fake) Execute(fillID string, in relayer.ExecuteInstruction) {
	f.executeCh(fillID) <- in
}

func (f *Fake) HealthCheck(context.Context) error {
	f.record("HealthCheck")
	if f.HealthCheckFn != nil {
		return f.HealthCheckFn()
	}
	return nil
}

func (f *Fake) GetPublicKey(context.Context) (string, error) {
	f.record("GetPublicKey")
	return f.PublicKey, nil
}

func (f *Fake) GetMarkets(context.Context) ([]string, error) {
	f.record("GetMarkets")
	return f.Markets, nil
}

func (f *Fake) GetPaymentChannelNetworkAddress(_ context.Context, symbol string) (string, error) {
	f.record("GetPaymentChannelNetworkAddress")
	return "relayer-" + symbol, nil
}

func (f *Fake) CreateOrder(_ context.Context, req relayer.CreateOrderRequest) (relayer.CreateOrderResponse, error) {
	f.record("CreateOrder")
	f.mu.Lock()
	f.orders = append(f.orders, req)
	f.mu.Unlock()
	if f.CreateOrderFn != nil {
		return f.CreateOrderFn(req)
	}
	return relayer.CreateOrderResponse{OrderID: f.nextID("order"), Invoices: f.OrderInvoice}, nil
}

func (f *Fake) PlaceOrder(_ context.Context, req relayer.PlaceOrderRequest) error {
	f.record("PlaceOrder")
	if f.PlaceOrderFn != nil {
		return f.PlaceOrderFn(req)
	}
	return nil
}

func (f *Fake) SubscribeOrder(ctx context.Context, orderID string) (relayer.OrderUpdate, error) {
	f.record("SubscribeOrder")
	select {
	case u := <-f.updateCh(orderID):
		return u, nil
	case <-ctx.Done():
		return relayer.OrderUpdate{}, ctx.Err()
	}
}

func (f *Fake) ExecuteOrder(_ context.Context, orderID string) error {
	f.record("ExecuteOrder")
	if f.ExecuteOrderFn != nil {
		return f.ExecuteOrderFn(orderID)
	}
	return nil
}

func (f *Fake) CompleteOrder(_ context.Context, orderID, preimage string) error {
	f.record("CompleteOrder")
	if f.CompleteOrderFn != nil {
		return f.CompleteOrderFn(orderID, preimage)
	}
	return nil
}

func (f *Fake) CancelOrder(_ context.Context, orderID string) error {
	f.record("CancelOrder")
	if f.CancelOrderFn != nil {
		return f.CancelOrderFn(orderID)
	}
	return nil
}

func (f *Fake) CreateFill(_ context.Context, req relayer.CreateFillRequest) (relayer.CreateFillResponse, error) {
	f.record("CreateFill")
	f.mu.Lock()
	f.fills = append(f.fills, req)
	f.mu.Unlock()
	if f.CreateFillFn != nil {
		return f.CreateFillFn(req)
	}
	return relayer.CreateFillResponse{FillID: f.nextID("fill"), Invoices: f.FillInvoice}, nil
}

func (f *Fake) FillOrder(_ context.Context, req relayer.FillOrderRequest) error {
	f.record("FillOrder")
	if f.FillOrderFn != nil {
		return f.FillOrderFn(req)
	}
	return nil
}

func (f *Fake) SubscribeExecute(ctx context.Context, fillID string) (relayer.ExecuteInstruction, error) {
	f.record("SubscribeExecute")
	if f.SubscribeExecuteFn != nil {
		return f.SubscribeExecuteFn(fillID)
	}
	select {
	case in := <-f.executeCh(fillID):
		return in, nil
	case <-ctx.Done():
		return relayer.ExecuteInstruction{}, ctx.Err()
	}
}

// PushStream queues s as the answer to the next WatchMarket call.
func (f *Fake) PushStream(s *Stream) {
	f.streams <- s
}

// WatchRequests returns every WatchMarket request in call order.
func (f *Fake) WatchRequests() []relayer.WatchMarketRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relayer.WatchMarketRequest(nil), f.watches...)
}

// WatchMarket blocks until a stream has been pushed or ctx is done.
func (f *Fake) WatchMarket(ctx context.Context, req relayer.WatchMarketRequest) (relayer.MarketStream, error) {
	f.record("WatchMarket")
	f.mu.Lock()
	f.watches = append(f.watches, req)
	f.mu.Unlock()
	select {
	case s := <-f.streams:
		return &boundStream{ctx: ctx, s: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream is a scripted market stream.
type Stream struct {
	ch chan streamItem
}

type streamItem struct {
	resp *relayer.WatchMarketResponse
	err  error
}

func NewStream() *Stream {
	return &Stream{ch: make(chan streamItem, 256)}
}

func (s *Stream) Send(resp relayer.WatchMarketResponse) {
	s.ch <- streamItem{resp: &resp}
}

// End makes the next Recv return io.EOF.
func (s *Stream) End() {
	s.ch <- streamItem{err: io.EOF}
}

func (s *Stream) Fail(err error) {
	s.ch <- streamItem{err: err}
}

type boundStream struct {
	ctx context.Context
	s   *Stream
}

func (b *boundStream) Recv() (*relayer.WatchMarketResponse, error) {
	select {
	case it := <-b.s.ch:
		return it.resp, it.err
	case <-b.ctx.Done():
		return nil, b.ctx.Err()
	}
}
