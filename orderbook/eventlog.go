package orderbook

import (
	"iter"

	"brokerd/domain/market"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
)

// EventLog is the append-only record of a market's events, keyed by
// timestamp then event id.
type EventLog struct {
	bucket *store.Bucket
}

func NewEventLog(b *store.Bucket) *EventLog {
	return &EventLog{bucket: b}
}

func (l *EventLog) Bucket() *store.Bucket {
	return l.bucket
}

// Append stores e unless an event with the same key exists. It reports
// whether the event was new. Concurrent appends of one event store it
// once.
func (l *EventLog) Append(e market.Event) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	key, err := e.Key()
	if err != nil {
		return false, err
	}
	return l.bucket.PutIfAbsent(key, e.Value())
}

// Last returns the most recent event, or nil for an empty log.
func (l *EventLog) Last() (*market.Event, error) {
	for kv, err := range l.bucket.Scan(store.Range{Reverse: true, Limit: 1}) {
		if err != nil {
			return nil, err
		}
		e, err := market.EventFromStorage(kv.Key, kv.Value)
		if err != nil {
			return nil, errors.Wrap(errors.InternalError, err, "decode last event")
		}
		return &e, nil
	}
	return nil, nil
}

// Since yields events with a timestamp at or after nanos, oldest first.
func (l *EventLog) Since(nanos uint64) iter.Seq2[market.Event, error] {
	return func(yield func(market.Event, error) bool) {
		from, err := market.KeyFrom(nanos)
		if err != nil {
			yield(market.Event{}, errors.Wrap(errors.InternalError, err, "encode log key"))
			return
		}
		for kv, err := range l.bucket.Scan(store.Range{GTE: from}) {
			if err != nil {
				yield(market.Event{}, err)
				return
			}
			e, err := market.EventFromStorage(kv.Key, kv.Value)
			if err != nil {
				yield(market.Event{}, errors.Wrap(errors.InternalError, err, "decode event"))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}
