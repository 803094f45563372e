package store

import (
	"bytes"
	"iter"

	"brokerd/pkg/errors"

	"github.com/cockroachdb/pebble"
)

type OpType uint8

const (
	OpPut OpType = iota + 1
	OpDelete
)

// Op is a single mutation of a bucket.
type Op struct {
	Type   OpType
	Bucket *Bucket
	Key    []byte
	Value  []byte
}

func Put(b *Bucket, key, value []byte) Op {
	return Op{Type: OpPut, Bucket: b, Key: key, Value: value}
}

func Delete(b *Bucket, key []byte) Op {
	return Op{Type: OpDelete, Bucket: b, Key: key}
}

// Change is an Op together with the value it replaces. Prev is nil when the
// key did not exist.
type Change struct {
	Op
	Prev []byte
}

// Hook derives further ops from a change. It runs inside the writing batch
// and must not call back into the DB.
type Hook func(c Change) []Op

// KV is one record yielded by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Range selects keys k with GTE <= k < LT. Nil bounds are open.
type Range struct {
	GTE     []byte
	LT      []byte
	Reverse bool
	// Limit caps the number of records; zero means no limit.
	Limit int
}

// PrefixRange selects every key starting with prefix.
func PrefixRange(prefix []byte) Range {
	return Range{GTE: prefix, LT: PrefixEnd(prefix)}
}

// Bucket is a namespaced view of the DB.
type Bucket struct {
	db     *DB
	prefix []byte
	name   string
}

func (b *Bucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	return append(append(out, b.prefix...), k...)
}

func (b *Bucket) DB() *DB {
	return b.db
}

func (b *Bucket) Get(key []byte) ([]byte, error) {
	return get(b.db.db, b.key(key))
}

func (b *Bucket) Put(key, value []byte) error {
	return b.db.Write(Put(b, key, value))
}

// PutIfAbsent stores value unless key exists and reports whether it did.
func (b *Bucket) PutIfAbsent(key, value []byte) (bool, error) {
	return b.db.insert(Put(b, key, value))
}

func (b *Bucket) Delete(key []byte) error {
	return b.db.Write(Delete(b, key))
}

// Scan iterates committed records in r. The sequence is lazy and may be
// ranged over repeatedly; each pass opens a fresh iterator.
func (b *Bucket) Scan(r Range) iter.Seq2[KV, error] {
	return scan(b.db.db, b, r)
}

// Pre installs a hook that runs before every write to b. The returned func
// removes it.
func (b *Bucket) Pre(fn Hook) (remove func()) {
	h := &hook{fn: fn}
	b.db.mu.Lock()
	b.db.addHook(b, h)
	b.db.mu.Unlock()
	return func() { b.db.removeHook(b, h) }
}

// Watch calls fn after every committed change to b, in commit order, while
// writes are blocked. fn must not block or write.
func (b *Bucket) Watch(fn func(Change)) (cancel func()) {
	w := &watcher{fn: fn}
	b.db.mu.Lock()
	b.db.addWatcher(b, w)
	b.db.mu.Unlock()
	return func() { b.db.removeWatcher(b, w) }
}

type iterSource interface {
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func scan(src iterSource, b *Bucket, r Range) iter.Seq2[KV, error] {
	return func(yield func(KV, error) bool) {
		opts := &pebble.IterOptions{
			LowerBound: b.prefix,
			UpperBound: PrefixEnd(b.prefix),
		}
		if r.GTE != nil {
			opts.LowerBound = b.key(r.GTE)
		}
		if r.LT != nil {
			opts.UpperBound = b.key(r.LT)
		}

		it, err := src.NewIter(opts)
		if err != nil {
			yield(KV{}, errors.Wrap(errors.InternalError, err, "open iterator"))
			return
		}
		defer it.Close()

		valid := it.First()
		step := it.Next
		if r.Reverse {
			valid = it.Last()
			step = it.Prev
		}

		n := 0
		for ; valid; valid = step() {
			if r.Limit > 0 && n >= r.Limit {
				return
			}
			kv := KV{
				Key:   bytes.Clone(it.Key()[len(b.prefix):]),
				Value: bytes.Clone(it.Value()),
			}
			if !yield(kv, nil) {
				return
			}
			n++
		}
		if err := it.Error(); err != nil {
			yield(KV{}, errors.Wrap(errors.InternalError, err, "iterate"))
		}
	}
}
