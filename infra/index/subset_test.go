package index

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// openOrders projects "PLACED:<id>" and "CANCELLED:<id>" log records onto
// the set of open ids, the same shape the orderbook index has.
var openOrders = ProjectionFunc(func(_, value []byte) (Operation, error) {
	typ, id, ok := strings.Cut(string(value), ":")
	if !ok {
		return Operation{}, fmt.Errorf("malformed record %q", value)
	}
	switch typ {
	case "PLACED":
		return PutOp([]byte(id), []byte(typ)), nil
	case "CANCELLED", "FILLED":
		return DeleteOp([]byte(id)), nil
	default:
		return Operation{}, nil
	}
})

type fixture struct {
	db     *store.DB
	log    *store.Bucket
	subset *Subset
	seq    uint64
}

func newFixture(t testing.TB) *fixture {
	db, err := store.Open(store.Options{InMemory: true, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := db.Bucket("events")
	return &fixture{
		db:  db,
		log: log,
		subset: New(Config{
			Name:       "open",
			Source:     log,
			Target:     db.Bucket("open"),
			Projection: openOrders,
			Logger:     logger.NewNop(),
		}),
	}
}

func (f *fixture) append(t testing.TB, typ, id string) {
	f.seq++
	key := binary.BigEndian.AppendUint64(nil, f.seq)
	require.NoError(t, f.log.Put(key, []byte(typ+":"+id)))
}

func (f *fixture) dump(t testing.TB) map[string]string {
	out := make(map[string]string)
	for kv, err := range f.subset.Target().Scan(store.Range{}) {
		require.NoError(t, err)
		out[string(kv.Key)] = string(kv.Value)
	}
	return out
}

type event struct {
	typ string
	id  string
}

func drawEvents(t *rapid.T) []event {
	ids := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-f0-9]{4}`), 1, 6, rapid.ID[string]).Draw(t, "ids")
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) event {
		return event{
			typ: rapid.SampledFrom([]string{"PLACED", "CANCELLED", "FILLED"}).Draw(t, "type"),
			id:  rapid.SampledFrom(ids).Draw(t, "id"),
		}
	}), 0, 40).Draw(t, "events")
}

func expectedOpen(events []event) map[string]string {
	want := make(map[string]string)
	for _, e := range events {
		if e.typ == "PLACED" {
			want[e.id] = "PLACED"
		} else {
			delete(want, e.id)
		}
	}
	return want
}

func TestIndexCompletenessAfterRebuild(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		events := drawEvents(rt)
		for _, e := range events {
			f.append(t, e.typ, e.id)
		}
		require.NoError(rt, f.subset.EnsureIndex())
		assert.Equal(rt, expectedOpen(events), f.dump(t))
		assert.NoError(rt, f.subset.Verify())
	})
}

func TestIndexCompletenessLive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		events := drawEvents(rt)
		split := rapid.IntRange(0, len(events)).Draw(rt, "split")

		for _, e := range events[:split] {
			f.append(t, e.typ, e.id)
		}
		require.NoError(rt, f.subset.EnsureIndex())
		for _, e := range events[split:] {
			f.append(t, e.typ, e.id)
		}
		assert.Equal(rt, expectedOpen(events), f.dump(t))
		assert.NoError(rt, f.subset.Verify())
	})
}

func TestEnsureIndexIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		for _, e := range drawEvents(rt) {
			f.append(t, e.typ, e.id)
		}
		require.NoError(rt, f.subset.EnsureIndex())
		first := f.dump(t)
		require.NoError(rt, f.subset.EnsureIndex())
		assert.Equal(rt, first, f.dump(t))

		// A single hook is installed after repeated rebuilds.
		f.append(t, "PLACED", "zzzz")
		v, err := f.subset.Get([]byte("zzzz"))
		require.NoError(rt, err)
		assert.Equal(rt, "PLACED", string(v))
	})
}

func TestUnavailableBeforeBuild(t *testing.T) {
	f := newFixture(t)
	_, err := f.subset.Get([]byte("x"))
	assert.True(t, errors.Is(err, errors.UnavailableError))

	for _, err := range f.subset.Scan(store.Range{}) {
		assert.Error(t, err)
	}
}

func TestHookFailureDoesNotBlockSourceWrite(t *testing.T) {
	f := newFixture(t)
	f.append(t, "PLACED", "a")
	require.NoError(t, f.subset.EnsureIndex())

	key := binary.BigEndian.AppendUint64(nil, 99)
	require.NoError(t, f.log.Put(key, []byte("garbage")))

	v, err := f.log.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(v))

	err = f.subset.Available()
	assert.True(t, errors.Is(err, errors.IndexCorruptionError))
	_, err = f.subset.Get([]byte("a"))
	assert.Error(t, err)

	// A failed rebuild keeps the index out of service.
	assert.Error(t, f.subset.EnsureIndex())
	assert.Error(t, f.subset.Available())

	require.NoError(t, f.log.Delete(key))
	require.NoError(t, f.subset.EnsureIndex())
	assert.NoError(t, f.subset.Available())
}

func TestVerifyDetectsDrift(t *testing.T) {
	f := newFixture(t)
	f.append(t, "PLACED", "a")
	require.NoError(t, f.subset.EnsureIndex())

	require.NoError(t, f.subset.Target().Put([]byte("ghost"), []byte("PLACED")))

	err := f.subset.Verify()
	assert.True(t, errors.Is(err, errors.IndexCorruptionError))
	assert.Error(t, f.subset.Available())

	require.NoError(t, f.subset.EnsureIndex())
	assert.Equal(t, map[string]string{"a": "PLACED"}, f.dump(t))
}

func TestReplacedSourceValueMovesMembership(t *testing.T) {
	db, err := store.Open(store.Options{InMemory: true, NoSync: true})
	require.NoError(t, err)
	defer db.Close()

	src := db.Bucket("records")
	byState := New(Config{
		Name:   "by-state",
		Source: src,
		Target: db.Bucket("by-state"),
		Projection: ProjectionFunc(func(key, value []byte) (Operation, error) {
			return PutOp(append(append([]byte{}, value...), key...), nil), nil
		}),
		Logger: logger.NewNop(),
	})
	require.NoError(t, byState.EnsureIndex())

	require.NoError(t, src.Put([]byte("r1"), []byte("open/")))
	require.NoError(t, src.Put([]byte("r1"), []byte("done/")))

	var keys []string
	for kv, err := range byState.Scan(store.Range{}) {
		require.NoError(t, err)
		keys = append(keys, string(kv.Key))
	}
	assert.Equal(t, []string{"done/r1"}, keys)

	require.NoError(t, src.Delete([]byte("r1")))
	_, err = byState.Get([]byte("done/r1"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}
