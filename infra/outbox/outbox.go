// Package outbox stages notifications in the store, in the same batch as
// the write they describe, until a broadcaster hands them to Kafka.
package outbox

import (
	"encoding/binary"
	"slices"
	"sync/atomic"
	"time"

	"brokerd/infra/store"
	"brokerd/pkg/errors"

	"github.com/google/orderedcode"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Record is one staged message. Key is the Kafka message key.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Key         []byte
	Payload     []byte
}

const headerLen = 1 + 4 + 8 + 2

// binary encoding: [state:1][retries:4][lastAttempt:8][keyLen:2][key][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen, headerLen+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(r.Key)))
	buf = append(buf, r.Key...)
	return append(buf, r.Payload...)
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New(errors.InternalError, "outbox record %d: short header", seq)
	}
	keyLen := int(binary.BigEndian.Uint16(b[13:15]))
	if len(b) < headerLen+keyLen {
		return Record{}, errors.New(errors.InternalError, "outbox record %d: short key", seq)
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Key:         append([]byte(nil), b[headerLen:headerLen+keyLen]...),
		Payload:     append([]byte(nil), b[headerLen+keyLen:]...),
	}, nil
}

func keyFor(seq uint64) []byte {
	k, _ := orderedcode.Append(nil, seq)
	return k
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	if _, err := orderedcode.Parse(string(b), &seq); err != nil {
		return 0, errors.Wrap(errors.InternalError, err, "parse outbox key %x", b)
	}
	return seq, nil
}

// Outbox is safe for concurrent use. Sequence numbers are strictly
// increasing across Stage calls but may skip values when a staged op is
// never committed.
type Outbox struct {
	bucket *store.Bucket
	last   atomic.Uint64
	now    func() time.Time
}

// Open resumes numbering after the newest staged record.
func Open(db *store.DB) (*Outbox, error) {
	b := db.Bucket("outbox")
	var last uint64
	for kv, err := range b.Scan(store.Range{Reverse: true, Limit: 1}) {
		if err != nil {
			return nil, err
		}
		if last, err = parseKey(kv.Key); err != nil {
			return nil, err
		}
	}
	o := &Outbox{bucket: b, now: time.Now}
	o.last.Store(last)
	return o, nil
}

func (o *Outbox) Bucket() *store.Bucket {
	return o.bucket
}

// Stage returns the op that adds a NEW record. Commit it in the same
// store.DB.Write as the change it announces.
func (o *Outbox) Stage(key, payload []byte) store.Op {
	seq := o.last.Add(1)
	return store.Put(o.bucket, keyFor(seq), encodeRecord(Record{Seq: seq, State: StateNew, Key: key, Payload: payload}))
}

// LastSeq returns the number of the most recently staged record.
func (o *Outbox) LastSeq() uint64 {
	return o.last.Load()
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	v, err := o.bucket.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	return decodeRecord(seq, v)
}

// Update stores rec with the given state, stamping the attempt time.
func (o *Outbox) Update(rec Record, state State) error {
	rec.State = state
	rec.LastAttempt = o.now().UnixNano()
	return o.bucket.Put(keyFor(rec.Seq), encodeRecord(rec))
}

// Delete removes an acknowledged record.
func (o *Outbox) Delete(seq uint64) error {
	return o.bucket.Delete(keyFor(seq))
}

// ScanByState calls fn for every record in one of states, oldest first.
// Records are collected before fn runs, so fn may update or delete them.
func (o *Outbox) ScanByState(fn func(rec Record) error, states ...State) error {
	var recs []Record
	for kv, err := range o.bucket.Scan(store.Range{}) {
		if err != nil {
			return err
		}
		seq, err := parseKey(kv.Key)
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, kv.Value)
		if err != nil {
			return err
		}
		if slices.Contains(states, rec.State) {
			recs = append(recs, rec)
		}
	}
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
