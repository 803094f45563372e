package store

import (
	"iter"

	"brokerd/pkg/errors"

	"github.com/cockroachdb/pebble"
)

// Tx is the handle passed to DB.Exclusive. Reads see committed state only;
// writes are staged raw, bypassing hooks and watchers.
type Tx struct {
	db       *DB
	batch    *pebble.Batch
	onCommit []func()
}

// Clear stages the removal of every key in b.
func (tx *Tx) Clear(b *Bucket) error {
	end := PrefixEnd(b.prefix)
	if err := tx.batch.DeleteRange(b.prefix, end, nil); err != nil {
		return errors.Wrap(errors.InternalError, err, "clear bucket")
	}
	return nil
}

func (tx *Tx) Put(b *Bucket, key, value []byte) error {
	if err := tx.batch.Set(b.key(key), value, nil); err != nil {
		return errors.Wrap(errors.InternalError, err, "stage put")
	}
	return nil
}

func (tx *Tx) Delete(b *Bucket, key []byte) error {
	if err := tx.batch.Delete(b.key(key), nil); err != nil {
		return errors.Wrap(errors.InternalError, err, "stage delete")
	}
	return nil
}

func (tx *Tx) Scan(b *Bucket, r Range) iter.Seq2[KV, error] {
	return scan(tx.db.db, b, r)
}

// Pre installs a hook on b that becomes active when the transaction
// commits. The returned func removes it and must not be called from inside
// an Exclusive callback.
func (tx *Tx) Pre(b *Bucket, fn Hook) (remove func()) {
	h := &hook{fn: fn}
	tx.onCommit = append(tx.onCommit, func() { tx.db.addHook(b, h) })
	return func() { tx.db.removeHook(b, h) }
}

// Watch registers fn immediately. Because writes are blocked, a snapshot
// read in the same transaction and the watcher together observe every
// change exactly once.
func (tx *Tx) Watch(b *Bucket, fn func(Change)) (cancel func()) {
	w := &watcher{fn: fn}
	tx.db.addWatcher(b, w)
	return func() { tx.db.removeWatcher(b, w) }
}
