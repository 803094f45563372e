package market

import (
	"fmt"
	"strconv"
	"time"

	"brokerd/pkg/errors"

	"github.com/google/orderedcode"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"
)

type EventType uint8

const (
	EventUnspecified EventType = iota
	EventPlaced
	EventCancelled
	EventFilled
)

func (t EventType) String() string {
	switch t {
	case EventPlaced:
		return "PLACED"
	case EventCancelled:
		return "CANCELLED"
	case EventFilled:
		return "FILLED"
	default:
		return "UNSPECIFIED"
	}
}

func ParseEventType(v string) (EventType, error) {
	switch v {
	case "PLACED":
		return EventPlaced, nil
	case "CANCELLED":
		return EventCancelled, nil
	case "FILLED":
		return EventFilled, nil
	default:
		return EventUnspecified, fmt.Errorf("invalid event type %q", v)
	}
}

func (t EventType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EventType) UnmarshalText(b []byte) error {
	v, err := ParseEventType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Payload carries the order terms. It is required on PLACED and optional
// trade information on FILLED.
type Payload struct {
	BaseAmount    string `json:"baseAmount,omitempty"`
	CounterAmount string `json:"counterAmount,omitempty"`
	Side          Side   `json:"side,omitempty"`
}

// Event is one entry of a market's append-only log.
type Event struct {
	EventID     string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	Timestamp   string    `json:"timestamp"`
	EventNumber uint64    `json:"eventNumber"`
	Type        EventType `json:"type"`
	Payload     Payload   `json:"payload"`
}

// Nanos parses the nanosecond timestamp.
func (e Event) Nanos() (uint64, error) {
	n, err := strconv.ParseUint(e.Timestamp, 10, 64)
	if err != nil {
		return 0, errors.Validation("event %s: invalid timestamp %q", e.EventID, e.Timestamp)
	}
	return n, nil
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	n, _ := e.Nanos()
	return time.Unix(0, int64(n)).UTC()
}

// Validate checks the fields a stored event must carry.
func (e Event) Validate() error {
	if e.EventID == "" || e.OrderID == "" {
		return errors.Validation("event is missing its id or order id")
	}
	if _, err := e.Nanos(); err != nil {
		return err
	}
	switch e.Type {
	case EventPlaced:
		if !e.Payload.Side.Valid() {
			return errors.Validation("placed event %s has no side", e.EventID)
		}
		for _, amt := range []string{e.Payload.BaseAmount, e.Payload.CounterAmount} {
			d, err := decimal.NewFromString(amt)
			if err != nil || !d.IsPositive() {
				return errors.Validation("placed event %s has invalid amount %q", e.EventID, amt)
			}
		}
	case EventCancelled, EventFilled:
	default:
		return errors.Validation("event %s has unknown type", e.EventID)
	}
	return nil
}

// Key is the log key: ordered by timestamp, ties broken by event id.
func (e Event) Key() ([]byte, error) {
	n, err := e.Nanos()
	if err != nil {
		return nil, err
	}
	return orderedcode.Append(nil, n, e.EventID)
}

// KeyFrom returns the smallest log key with a timestamp at or after nanos.
func KeyFrom(nanos uint64) ([]byte, error) {
	return orderedcode.Append(nil, nanos)
}

const (
	fieldEventOrderID       protowire.Number = 1
	fieldEventType          protowire.Number = 2
	fieldEventNumber        protowire.Number = 3
	fieldEventBaseAmount    protowire.Number = 4
	fieldEventCounterAmount protowire.Number = 5
	fieldEventSide          protowire.Number = 6
)

// Value encodes the non-key fields in protobuf wire format.
func (e Event) Value() []byte {
	b := protowire.AppendTag(nil, fieldEventOrderID, protowire.BytesType)
	b = protowire.AppendString(b, e.OrderID)
	b = protowire.AppendTag(b, fieldEventType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	if e.EventNumber != 0 {
		b = protowire.AppendTag(b, fieldEventNumber, protowire.VarintType)
		b = protowire.AppendVarint(b, e.EventNumber)
	}
	if e.Payload.BaseAmount != "" {
		b = protowire.AppendTag(b, fieldEventBaseAmount, protowire.BytesType)
		b = protowire.AppendString(b, e.Payload.BaseAmount)
	}
	if e.Payload.CounterAmount != "" {
		b = protowire.AppendTag(b, fieldEventCounterAmount, protowire.BytesType)
		b = protowire.AppendString(b, e.Payload.CounterAmount)
	}
	if e.Payload.Side != SideUnspecified {
		b = protowire.AppendTag(b, fieldEventSide, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Payload.Side))
	}
	return b
}

// EventFromStorage decodes a log record.
func EventFromStorage(key, value []byte) (Event, error) {
	var (
		e     Event
		nanos uint64
	)
	if _, err := orderedcode.Parse(string(key), &nanos, &e.EventID); err != nil {
		return Event{}, fmt.Errorf("decode event key: %w", err)
	}
	e.Timestamp = strconv.FormatUint(nanos, 10)

	err := consumeFields(value, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEventOrderID && typ == protowire.BytesType:
			return consumeString(b, &e.OrderID)
		case num == fieldEventType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Type = EventType(v)
			return n, nil
		case num == fieldEventNumber && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.EventNumber = v
			return n, nil
		case num == fieldEventBaseAmount && typ == protowire.BytesType:
			return consumeString(b, &e.Payload.BaseAmount)
		case num == fieldEventCounterAmount && typ == protowire.BytesType:
			return consumeString(b, &e.Payload.CounterAmount)
		case num == fieldEventSide && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Payload.Side = Side(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", e.EventID, err)
	}
	return e, nil
}

// consumeFields walks a protobuf message, handing every field to fn. fn
// returns the number of bytes consumed or a negative protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, nil
	}
	*dst = v
	return n, nil
}
