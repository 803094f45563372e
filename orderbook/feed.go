package orderbook

import (
	"context"
	"sync"

	"brokerd/domain/market"
	"brokerd/infra/store"
	"brokerd/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrOutOfCapacity ends a subscription that fell too far behind.
	ErrOutOfCapacity = errors.New(errors.UnavailableError, "orderbook subscriber is too slow")
	// ErrResynced ends every subscription when the book is rebuilt; the
	// subscriber has to start over from a fresh backlog.
	ErrResynced = errors.New(errors.UnavailableError, "orderbook was rebuilt")
)

type FeedEventType uint8

const (
	FeedAdd FeedEventType = iota + 1
	FeedDelete
	// FeedSync separates the backlog from live updates.
	FeedSync
)

func (t FeedEventType) String() string {
	switch t {
	case FeedAdd:
		return "ADD"
	case FeedDelete:
		return "DELETE"
	case FeedSync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

type FeedEvent struct {
	Type  FeedEventType
	Order market.Order
}

// Subscription delivers the book as a backlog of adds, a sync marker and
// then live changes. C is closed when the subscription ends; Err tells why.
type Subscription struct {
	C <-chan FeedEvent

	out     chan FeedEvent
	backlog []FeedEvent
	live    chan FeedEvent
	done    chan struct{}

	once    sync.Once
	mu      sync.Mutex
	err     error
	unwatch func()
	onStop  func(*Subscription)
}

// Err returns the reason the subscription ended, nil while it runs or
// when it ended because its context was cancelled.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// stop may be called with the store's write lock held, so the watcher is
// removed asynchronously.
func (s *Subscription) stop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		go s.unwatch()
		if s.onStop != nil {
			s.onStop(s)
		}
	})
}

// onChange runs inside the store's commit path and never blocks.
func (s *Subscription) onChange(c store.Change) {
	ev := FeedEvent{Type: FeedAdd}
	value := c.Value
	if c.Type == store.OpDelete {
		ev.Type = FeedDelete
		value = c.Prev
	}
	o, err := market.OrderFromStorage(c.Key, value)
	if err != nil {
		s.stop(errors.Wrap(errors.IndexCorruptionError, err, "decode orderbook change"))
		return
	}
	ev.Order = o
	select {
	case s.live <- ev:
	default:
		s.stop(ErrOutOfCapacity)
	}
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.out)
	send := func(ev FeedEvent) bool {
		select {
		case s.out <- ev:
			return true
		case <-s.done:
			return false
		case <-ctx.Done():
			s.stop(nil)
			return false
		}
	}
	for _, ev := range s.backlog {
		if !send(ev) {
			return
		}
	}
	s.backlog = nil
	if !send(FeedEvent{Type: FeedSync}) {
		return
	}
	for {
		select {
		case ev := <-s.live:
			if !send(ev) {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			s.stop(nil)
			return
		}
	}
}

type feed struct {
	capacity    int
	subscribers prometheus.Gauge

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newFeed(capacity int, subscribers prometheus.Gauge) *feed {
	return &feed{capacity: capacity, subscribers: subscribers, subs: make(map[*Subscription]struct{})}
}

// subscribe snapshots the book and registers for changes atomically, so
// every change after the snapshot is delivered exactly once.
func (f *feed) subscribe(ctx context.Context, book *store.Bucket) (*Subscription, error) {
	out := make(chan FeedEvent)
	s := &Subscription{
		C:      out,
		out:    out,
		live:   make(chan FeedEvent, f.capacity),
		done:   make(chan struct{}),
		onStop: f.remove,
	}
	err := book.DB().Exclusive(func(tx *store.Tx) error {
		for kv, err := range tx.Scan(book, store.Range{}) {
			if err != nil {
				return err
			}
			o, err := market.OrderFromStorage(kv.Key, kv.Value)
			if err != nil {
				return errors.Wrap(errors.IndexCorruptionError, err, "decode orderbook record")
			}
			s.backlog = append(s.backlog, FeedEvent{Type: FeedAdd, Order: o})
		}
		s.unwatch = tx.Watch(book, s.onChange)
		return nil
	})
	if err != nil {
		if s.unwatch != nil {
			s.unwatch()
		}
		return nil, err
	}

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	f.subscribers.Inc()
	// A change may have overflowed the buffer before registration.
	select {
	case <-s.done:
		f.remove(s)
	default:
	}

	go s.run(ctx)
	return s, nil
}

func (f *feed) remove(s *Subscription) {
	f.mu.Lock()
	_, ok := f.subs[s]
	delete(f.subs, s)
	f.mu.Unlock()
	if ok {
		f.subscribers.Dec()
	}
}

func (f *feed) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// closeAll ends every subscription with err.
func (f *feed) closeAll(err error) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s.stop(err)
	}
}
