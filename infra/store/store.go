package store

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"brokerd/pkg/errors"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/orderedcode"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New(errors.NotFoundError, "key not found")

// maxHookDepth bounds recursive hook chains (source → index → index ...).
const maxHookDepth = 8

type Options struct {
	Dir      string
	InMemory bool
	// NoSync skips fsync on commit. Tests only.
	NoSync bool
}

// DB is an ordered key/value store partitioned into buckets. Every write
// goes through a single mutex so hooks observe a linear history.
type DB struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	mu       sync.Mutex
	hooks    map[string][]*hook
	watchers map[string][]*watcher
}

type hook struct {
	fn Hook
}

type watcher struct {
	fn func(Change)
}

// Open opens (or creates) the store.
func Open(opts Options) (*DB, error) {
	po := &pebble.Options{}
	dir := opts.Dir
	if opts.InMemory {
		po.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, err, "open store %s", opts.Dir)
	}

	wo := pebble.Sync
	if opts.NoSync {
		wo = pebble.NoSync
	}
	return &DB{
		db:        db,
		writeOpts: wo,
		hooks:     make(map[string][]*hook),
		watchers:  make(map[string][]*watcher),
	}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Bucket returns the namespace identified by path. Buckets never overlap:
// the prefix is the orderedcode encoding of the joined path, and encoded
// strings are prefix-free.
func (d *DB) Bucket(path ...string) *Bucket {
	name := strings.Join(path, "/")
	prefix, err := orderedcode.Append(nil, name)
	if err != nil {
		panic(err) // strings always encode
	}
	return &Bucket{db: d, prefix: prefix, name: name}
}

// Write applies ops atomically. Pre-hooks registered on each op's bucket run
// inside the same batch; watchers are notified after commit.
func (d *DB) Write(ops ...Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(ops)
}

// insert applies a put like Write unless its key already holds a value,
// checking and writing under the same lock.
func (d *DB) insert(op Op) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := get(d.db, op.Bucket.key(op.Key)); err == nil {
		return false, nil
	} else if err != ErrNotFound {
		return false, err
	}
	if err := d.write([]Op{op}); err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) write(ops []Op) error {
	batch := d.db.NewIndexedBatch()
	defer batch.Close()

	var applied []Change
	for _, op := range ops {
		if err := d.apply(batch, op, 0, &applied); err != nil {
			return err
		}
	}
	if err := batch.Commit(d.writeOpts); err != nil {
		return errors.Wrap(errors.InternalError, err, "commit batch")
	}
	d.notify(applied)
	return nil
}

func (d *DB) apply(batch *pebble.Batch, op Op, depth int, applied *[]Change) error {
	if depth > maxHookDepth {
		return errors.New(errors.InternalError, "hook chain deeper than %d", maxHookDepth)
	}
	full := op.Bucket.key(op.Key)

	prev, err := get(batch, full)
	if err != nil && err != ErrNotFound {
		return err
	}
	c := Change{Op: op, Prev: prev}

	for _, h := range d.hooks[op.Bucket.name] {
		for _, derived := range h.fn(c) {
			if err := d.apply(batch, derived, depth+1, applied); err != nil {
				return err
			}
		}
	}

	switch op.Type {
	case OpPut:
		err = batch.Set(full, op.Value, nil)
	case OpDelete:
		err = batch.Delete(full, nil)
	}
	if err != nil {
		return errors.Wrap(errors.InternalError, err, "stage write")
	}
	*applied = append(*applied, c)
	return nil
}

// notify runs under d.mu so watchers see changes in commit order.
func (d *DB) notify(changes []Change) {
	for _, c := range changes {
		if c.Type == OpDelete && c.Prev == nil {
			continue
		}
		for _, w := range d.watchers[c.Bucket.name] {
			w.fn(c)
		}
	}
}

// Exclusive runs fn with all writes blocked. Mutations made through tx are
// committed as one batch when fn returns nil and discarded otherwise.
func (d *DB) Exclusive(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := d.db.NewBatch()
	defer batch.Close()

	tx := &Tx{db: d, batch: batch}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(d.writeOpts); err != nil {
		return errors.Wrap(errors.InternalError, err, "commit exclusive batch")
	}
	for _, f := range tx.onCommit {
		f()
	}
	return nil
}

func (d *DB) addHook(b *Bucket, h *hook) {
	d.hooks[b.name] = append(d.hooks[b.name], h)
}

func (d *DB) removeHook(b *Bucket, h *hook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hs := d.hooks[b.name]
	for i, x := range hs {
		if x == h {
			d.hooks[b.name] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

func (d *DB) addWatcher(b *Bucket, w *watcher) {
	d.watchers[b.name] = append(d.watchers[b.name], w)
}

func (d *DB) removeWatcher(b *Bucket, w *watcher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.watchers[b.name]
	for i, x := range ws {
		if x == w {
			d.watchers[b.name] = append(ws[:i:i], ws[i+1:]...)
			return
		}
	}
}

type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(r reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(errors.InternalError, err, "get")
	}
	defer closer.Close()
	// Non-nil even for empty values: a nil Prev means "absent".
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
