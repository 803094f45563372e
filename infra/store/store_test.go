package store

import (
	stderrors "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Options{InMemory: true, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func collect(t *testing.T, b *Bucket, r Range) []string {
	t.Helper()
	var keys []string
	for kv, err := range b.Scan(r) {
		require.NoError(t, err)
		keys = append(keys, string(kv.Key))
	}
	return keys
}

func TestBucketCRUD(t *testing.T) {
	db := openTest(t)
	b := db.Bucket("orders")

	_, err := b.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put([]byte("a"), []byte("1")))
	v, err := b.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	require.NoError(t, b.Delete([]byte("a")))
	_, err = b.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBucketsAreIsolated(t *testing.T) {
	db := openTest(t)
	a := db.Bucket("a")
	ab := db.Bucket("ab")
	nested := db.Bucket("a", "b")

	require.NoError(t, a.Put([]byte("k"), []byte("a")))
	require.NoError(t, ab.Put([]byte("k"), []byte("ab")))
	require.NoError(t, nested.Put([]byte("k"), []byte("a/b")))

	assert.Equal(t, []string{"k"}, collect(t, a, Range{}))
	assert.Equal(t, []string{"k"}, collect(t, ab, Range{}))
	assert.Equal(t, []string{"k"}, collect(t, nested, Range{}))
}

func TestScanRange(t *testing.T) {
	db := openTest(t)
	b := db.Bucket("r")
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, b.Put([]byte(k), []byte(k)))
	}

	assert.Equal(t, []string{"b", "c", "d"}, collect(t, b, Range{GTE: []byte("b"), LT: []byte("e")}))
	assert.Equal(t, []string{"e", "d"}, collect(t, b, Range{Reverse: true, Limit: 2}))
	assert.Equal(t, []string{"a", "b"}, collect(t, b, Range{Limit: 2}))

	seq := b.Scan(Range{GTE: []byte("d")})
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	assert.Equal(t, 2, first)
	assert.Equal(t, first, second)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("ac"), PrefixEnd([]byte("ab")))
	assert.Equal(t, []byte{0x01}, PrefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
}

func TestPreHooksChainInSameBatch(t *testing.T) {
	db := openTest(t)
	src := db.Bucket("src")
	mid := db.Bucket("mid")
	dst := db.Bucket("dst")

	var seenPrev [][]byte
	src.Pre(func(c Change) []Op {
		seenPrev = append(seenPrev, c.Prev)
		if c.Type == OpDelete {
			return []Op{Delete(mid, c.Key)}
		}
		return []Op{Put(mid, c.Key, c.Value)}
	})
	mid.Pre(func(c Change) []Op {
		if c.Type == OpDelete {
			return []Op{Delete(dst, c.Key)}
		}
		return []Op{Put(dst, c.Key, append([]byte("x"), c.Value...))}
	})

	require.NoError(t, src.Put([]byte("k"), []byte("1")))
	require.NoError(t, src.Put([]byte("k"), []byte("2")))

	v, err := dst.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "x2", string(v))
	require.Len(t, seenPrev, 2)
	assert.Nil(t, seenPrev[0])
	assert.Equal(t, "1", string(seenPrev[1]))

	require.NoError(t, src.Delete([]byte("k")))
	_, err = dst.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHookRemoval(t *testing.T) {
	db := openTest(t)
	src := db.Bucket("src")
	dst := db.Bucket("dst")

	remove := src.Pre(func(c Change) []Op { return []Op{Put(dst, c.Key, c.Value)} })
	require.NoError(t, src.Put([]byte("a"), []byte("1")))
	remove()
	require.NoError(t, src.Put([]byte("b"), []byte("1")))

	assert.Equal(t, []string{"a"}, collect(t, dst, Range{}))
}

func TestWatchersSeeCommitOrder(t *testing.T) {
	db := openTest(t)
	b := db.Bucket("w")

	var got []string
	cancel := b.Watch(func(c Change) {
		prefix := "+"
		if c.Type == OpDelete {
			prefix = "-"
		}
		got = append(got, prefix+string(c.Key))
	})

	require.NoError(t, db.Write(Put(b, []byte("a"), []byte("1")), Put(b, []byte("b"), []byte("1"))))
	require.NoError(t, b.Delete([]byte("a")))
	require.NoError(t, b.Delete([]byte("missing")))
	cancel()
	require.NoError(t, b.Put([]byte("c"), []byte("1")))

	assert.Equal(t, []string{"+a", "+b", "-a"}, got)
}

func TestPutIfAbsentWritesOnce(t *testing.T) {
	db := openTest(t)
	b := db.Bucket("log")

	var mu sync.Mutex
	var seen []string
	b.Watch(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(c.Value))
	})

	var stored atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := b.PutIfAbsent([]byte("k"), []byte(strconv.Itoa(i)))
			assert.NoError(t, err)
			if ok {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), stored.Load())
	require.Len(t, seen, 1)
	v, err := b.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, seen[0], string(v))
}

func TestExclusive(t *testing.T) {
	db := openTest(t)
	src := db.Bucket("src")
	dst := db.Bucket("dst")
	require.NoError(t, src.Put([]byte("a"), []byte("1")))
	require.NoError(t, dst.Put([]byte("stale"), []byte("1")))

	err := db.Exclusive(func(tx *Tx) error {
		if err := tx.Clear(dst); err != nil {
			return err
		}
		for kv, err := range tx.Scan(src, Range{}) {
			if err != nil {
				return err
			}
			if err := tx.Put(dst, kv.Key, kv.Value); err != nil {
				return err
			}
		}
		tx.Pre(src, func(c Change) []Op { return []Op{Put(dst, c.Key, c.Value)} })
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, collect(t, dst, Range{}))

	require.NoError(t, src.Put([]byte("b"), []byte("2")))
	assert.Equal(t, []string{"a", "b"}, collect(t, dst, Range{}))
}

func TestExclusiveRollback(t *testing.T) {
	db := openTest(t)
	src := db.Bucket("src")
	dst := db.Bucket("dst")
	require.NoError(t, dst.Put([]byte("keep"), []byte("1")))

	boom := stderrors.New("boom")
	err := db.Exclusive(func(tx *Tx) error {
		require.NoError(t, tx.Clear(dst))
		tx.Pre(src, func(c Change) []Op { return []Op{Put(dst, c.Key, c.Value)} })
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, src.Put([]byte("b"), []byte("2")))
	assert.Equal(t, []string{"keep"}, collect(t, dst, Range{}))
}
