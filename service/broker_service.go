package service

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"brokerd/domain/blockorder"
	"brokerd/domain/market"
	"brokerd/engine"
	"brokerd/orderbook"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
	"brokerd/relayer"
	"brokerd/worker"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Worker  *worker.Worker
	Books   []*orderbook.Orderbook
	Relayer relayer.Relayer
	Engines engine.Registry
	Logger  logger.Interface
	Now     func() time.Time
}

// BrokerService is the only write entry point into the broker.
type BrokerService struct {
	worker  *worker.Worker
	books   map[string]*orderbook.Orderbook
	relayer relayer.Relayer
	engines engine.Registry
	logger  logger.Interface
	now     func() time.Time
}

func NewBrokerService(cfg Config) *BrokerService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	books := make(map[string]*orderbook.Orderbook, len(cfg.Books))
	for _, b := range cfg.Books {
		books[b.Market().Name] = b
	}
	return &BrokerService{
		worker:  cfg.Worker,
		books:   books,
		relayer: cfg.Relayer,
		engines: cfg.Engines,
		logger:  cfg.Logger.With(logger.NewField("component", "service")),
		now:     cfg.Now,
	}
}

func (s *BrokerService) book(name string) (*orderbook.Orderbook, error) {
	b, ok := s.books[name]
	if !ok {
		return nil, errors.Unsupported("%s is not being tracked as a market", name)
	}
	return b, nil
}

//
// Commands
//

func (s *BrokerService) CreateBlockOrder(ctx context.Context, p blockorder.Params) (string, error) {
	return s.worker.CreateBlockOrder(ctx, p)
}

func (s *BrokerService) CancelBlockOrder(ctx context.Context, id string) (worker.CancelResult, error) {
	return s.worker.CancelBlockOrder(ctx, id)
}

func (s *BrokerService) CancelAllBlockOrders(ctx context.Context, marketName string) (worker.CancelResult, error) {
	return s.worker.CancelActiveOrders(ctx, marketName)
}

//
// Block order queries
//

func (s *BrokerService) GetBlockOrder(id string) (worker.Details, error) {
	return s.worker.GetBlockOrder(id)
}

func (s *BrokerService) GetBlockOrders(marketName string) ([]*blockorder.BlockOrder, error) {
	return s.worker.GetBlockOrders(marketName)
}

func (s *BrokerService) GetTradeHistory() ([]worker.Trade, error) {
	return s.worker.GetTrades()
}

// ActiveFunds are the amounts committed by live children, in common units.
type ActiveFunds struct {
	OutboundSymbol string          `json:"outboundSymbol"`
	Outbound       decimal.Decimal `json:"activeOutboundAmount"`
	InboundSymbol  string          `json:"inboundSymbol"`
	Inbound        decimal.Decimal `json:"activeInboundAmount"`
}

func (s *BrokerService) GetActiveFunds(marketName string, side market.Side) (ActiveFunds, error) {
	b, err := s.book(marketName)
	if err != nil {
		return ActiveFunds{}, err
	}
	if !side.Valid() {
		return ActiveFunds{}, errors.Validation("%s is not a valid side", side)
	}
	funds, err := s.worker.CalculateActiveFunds(marketName, side)
	if err != nil {
		return ActiveFunds{}, err
	}
	m := b.Market()
	out, in := m.Base, m.Counter
	if side == market.Bid {
		out, in = in, out
	}
	return ActiveFunds{
		OutboundSymbol: out.Symbol,
		Outbound:       out.ToCommon(funds.Outbound),
		InboundSymbol:  in.Symbol,
		Inbound:        in.ToCommon(funds.Inbound),
	}, nil
}

//
// Market data
//

// PriceAmount is one open order in common units.
type PriceAmount struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type Orderbook struct {
	// Timestamp is the time of the snapshot in nanoseconds since the epoch.
	Timestamp string        `json:"timestamp"`
	Datetime  string        `json:"datetime"`
	Bids      []PriceAmount `json:"bids"`
	Asks      []PriceAmount `json:"asks"`
}

// GetOrderbook returns every open order of a market, bids best first and
// asks best first.
func (s *BrokerService) GetOrderbook(marketName string) (Orderbook, error) {
	b, err := s.book(marketName)
	if err != nil {
		return Orderbook{}, err
	}
	entries, err := b.All()
	if err != nil {
		return Orderbook{}, err
	}
	now := s.now().UTC()
	res := Orderbook{
		Timestamp: strconv.FormatInt(now.UnixNano(), 10),
		Datetime:  now.Format(time.RFC3339Nano),
		Bids:      []PriceAmount{},
		Asks:      []PriceAmount{},
	}
	for _, e := range entries {
		pa := PriceAmount{Price: e.Price, Amount: e.Amount}
		if e.Side == market.Bid {
			res.Bids = append(res.Bids, pa)
		} else {
			res.Asks = append(res.Asks, pa)
		}
	}
	slices.SortStableFunc(res.Bids, func(a, b PriceAmount) int { return b.Price.Cmp(a.Price) })
	slices.SortStableFunc(res.Asks, func(a, b PriceAmount) int { return a.Price.Cmp(b.Price) })
	return res, nil
}

// WatchMarket subscribes to a market's open orders.
func (s *BrokerService) WatchMarket(ctx context.Context, marketName string) (*orderbook.Subscription, error) {
	b, err := s.book(marketName)
	if err != nil {
		return nil, err
	}
	return b.Watch(ctx)
}

func (s *BrokerService) GetTrades(marketName string, since time.Time, limit int) ([]market.Trade, error) {
	b, err := s.book(marketName)
	if err != nil {
		return nil, err
	}
	return b.GetTrades(since, limit)
}

type MarketInfo struct {
	ID      string `json:"id"`
	Symbol  string `json:"symbol"`
	Base    string `json:"base"`
	Counter string `json:"counter"`
	Active  bool   `json:"active"`
}

// GetSupportedMarkets lists the relayer's markets this broker tracks.
func (s *BrokerService) GetSupportedMarkets(ctx context.Context) ([]MarketInfo, error) {
	names, err := s.relayer.GetMarkets(ctx)
	if err != nil {
		return nil, errors.Upstream(err, "get markets from relayer")
	}
	out := []MarketInfo{}
	for _, name := range names {
		b, ok := s.books[name]
		if !ok {
			continue
		}
		m := b.Market()
		out = append(out, MarketInfo{
			ID:      name,
			Symbol:  name,
			Base:    m.Base.Symbol,
			Counter: m.Counter.Symbol,
			Active:  true,
		})
	}
	return out, nil
}

//
// Health
//

const (
	StatusOK          = "OK"
	StatusUnavailable = "UNAVAILABLE"
	StatusNotSynced   = "NOT_SYNCED"
)

type EngineStatus struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

type OrderbookStatus struct {
	Market string `json:"market"`
	Status string `json:"status"`
}

type Health struct {
	RelayerStatus   string            `json:"relayerStatus"`
	EngineStatus    []EngineStatus    `json:"engineStatus"`
	OrderbookStatus []OrderbookStatus `json:"orderbookStatus"`
}

// HealthCheck checks the relayer and every engine concurrently. Failures
// are reported as statuses, never as an error.
func (s *BrokerService) HealthCheck(ctx context.Context) Health {
	h := Health{RelayerStatus: StatusOK}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.Go(func() error {
		if err := s.relayer.HealthCheck(ctx); err != nil {
			s.logger.Error(errors.Upstream(err, "relayer health check"))
			mu.Lock()
			h.RelayerStatus = StatusUnavailable
			mu.Unlock()
		}
		return nil
	})
	for _, symbol := range s.engines.Symbols() {
		e := s.engines[symbol]
		g.Go(func() error {
			status := StatusOK
			if _, err := e.GetPaymentChannelNetworkAddress(ctx); err != nil {
				s.logger.Warn("engine unavailable",
					logger.NewField("symbol", symbol),
					logger.NewField("error", err.Error()),
				)
				status = StatusUnavailable
			}
			mu.Lock()
			h.EngineStatus = append(h.EngineStatus, EngineStatus{Symbol: symbol, Status: status})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(h.EngineStatus, func(a, b EngineStatus) int { return strings.Compare(a.Symbol, b.Symbol) })

	for name, b := range s.books {
		status := StatusOK
		if !b.Synced() {
			status = StatusNotSynced
		}
		h.OrderbookStatus = append(h.OrderbookStatus, OrderbookStatus{Market: name, Status: status})
	}
	slices.SortFunc(h.OrderbookStatus, func(a, b OrderbookStatus) int { return strings.Compare(a.Market, b.Market) })
	return h
}

