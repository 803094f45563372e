// Package index maintains derived views ("subsets") of a source bucket. A
// Subset is rebuilt from the source on demand and then kept current by a
// pre-write hook that runs in the same batch as every source write, so the
// view can never lag the source it was built from.
package index

import (
	"bytes"
	"iter"
	"sync"

	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
)

type Kind uint8

const (
	Skip Kind = iota
	Put
	Delete
)

// Operation is the projection of one source record onto the target.
type Operation struct {
	Kind  Kind
	Key   []byte
	Value []byte
}

func PutOp(key, value []byte) Operation {
	return Operation{Kind: Put, Key: key, Value: value}
}

func DeleteOp(key []byte) Operation {
	return Operation{Kind: Delete, Key: key}
}

// Projection maps a source record to at most one target mutation.
type Projection interface {
	Project(key, value []byte) (Operation, error)
}

type ProjectionFunc func(key, value []byte) (Operation, error)

func (f ProjectionFunc) Project(key, value []byte) (Operation, error) {
	return f(key, value)
}

// Observer receives index lifecycle events. Metrics implement it.
type Observer interface {
	IndexRebuilt(name string)
	IndexFailed(name string)
}

type Subset struct {
	name       string
	db         *store.DB
	source     *store.Bucket
	target     *store.Bucket
	projection Projection
	logger     logger.Interface
	observer   Observer

	// mu serializes rebuilds. errMu guards err and is the only lock taken
	// from inside the store's write path.
	mu     sync.Mutex
	remove func()

	errMu sync.RWMutex
	err   error
}

type Config struct {
	Name       string
	Source     *store.Bucket
	Target     *store.Bucket
	Projection Projection
	Logger     logger.Interface
	Observer   Observer
}

// New creates an index that is unavailable until EnsureIndex succeeds.
func New(cfg Config) *Subset {
	return &Subset{
		name:       cfg.Name,
		db:         cfg.Source.DB(),
		source:     cfg.Source,
		target:     cfg.Target,
		projection: cfg.Projection,
		logger:     cfg.Logger.With(logger.NewField("index", cfg.Name)),
		observer:   cfg.Observer,
		err:        errors.New(errors.UnavailableError, "index %s has not been built", cfg.Name),
	}
}

func (s *Subset) Name() string {
	return s.name
}

func (s *Subset) Target() *store.Bucket {
	return s.target
}

// EnsureIndex rebuilds the target from scratch and installs the live hook.
// The clear, the replay and the hook installation commit atomically with
// respect to source writes. Running it twice yields the same target.
func (s *Subset) EnsureIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remove != nil {
		s.remove()
		s.remove = nil
	}

	var remove func()
	err := s.db.Exclusive(func(tx *store.Tx) error {
		return s.rebuild(tx, &remove)
	})
	if err != nil {
		err = errors.Wrap(errors.IndexCorruptionError, err, "rebuild index %s", s.name)
		s.setErr(err)
		s.logger.Error(err)
		if s.observer != nil {
			s.observer.IndexFailed(s.name)
		}
		return err
	}

	s.remove = remove
	s.logger.Debug("index rebuilt")
	if s.observer != nil {
		s.observer.IndexRebuilt(s.name)
	}
	return nil
}

// Detach removes the live hook and marks the index unavailable.
func (s *Subset) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remove != nil {
		s.remove()
		s.remove = nil
	}
	s.setErr(errors.New(errors.UnavailableError, "index %s is being rebuilt", s.name))
}

func (s *Subset) rebuild(tx *store.Tx, remove *func()) error {
	if err := tx.Clear(s.target); err != nil {
		return err
	}
	// Replay through the same projection the hook uses. Projections are
	// applied in source order; later records overwrite earlier ones.
	staged := make(map[string][]byte)
	var order []string
	for kv, err := range tx.Scan(s.source, store.Range{}) {
		if err != nil {
			return err
		}
		op, err := s.projection.Project(kv.Key, kv.Value)
		if err != nil {
			return err
		}
		switch op.Kind {
		case Put:
			k := string(op.Key)
			if _, ok := staged[k]; !ok {
				order = append(order, k)
			}
			if op.Value == nil {
				op.Value = []byte{}
			}
			staged[k] = op.Value
		case Delete:
			k := string(op.Key)
			if _, ok := staged[k]; ok {
				staged[k] = nil
			}
		}
	}
	for _, k := range order {
		v := staged[k]
		if v == nil {
			continue
		}
		if err := tx.Put(s.target, []byte(k), v); err != nil {
			return err
		}
	}
	*remove = tx.Pre(s.source, s.hook)
	// Writes are blocked until the batch commits; should the commit fail the
	// caller overwrites this again.
	s.setErr(nil)
	return nil
}

// hook runs inside the source write batch. A projection failure takes the
// index out of service but never blocks the source write.
func (s *Subset) hook(c store.Change) []store.Op {
	var ops []store.Op
	if c.Prev != nil {
		old, err := s.projection.Project(c.Key, c.Prev)
		if err != nil {
			s.fail(err, c.Key)
			return nil
		}
		if old.Kind == Put {
			ops = append(ops, store.Delete(s.target, old.Key))
		}
	}
	if c.Type == store.OpPut {
		next, err := s.projection.Project(c.Key, c.Value)
		if err != nil {
			s.fail(err, c.Key)
			return nil
		}
		switch next.Kind {
		case Put:
			ops = append(ops, store.Put(s.target, next.Key, next.Value))
		case Delete:
			ops = append(ops, store.Delete(s.target, next.Key))
		}
	}
	return ops
}

// fail runs with the store's write lock held and therefore only touches errMu.
func (s *Subset) fail(err error, key []byte) {
	err = errors.Wrap(errors.IndexCorruptionError, err, "project %s record %x", s.name, key)
	s.logger.Error(err)
	s.setErr(err)
	if s.observer != nil {
		s.observer.IndexFailed(s.name)
	}
}

func (s *Subset) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Available returns nil when the index can be trusted.
func (s *Subset) Available() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.err
}

func (s *Subset) Get(key []byte) ([]byte, error) {
	if err := s.Available(); err != nil {
		return nil, err
	}
	return s.target.Get(key)
}

// Scan iterates the target. It yields a single error when the index is
// unavailable.
func (s *Subset) Scan(r store.Range) iter.Seq2[store.KV, error] {
	return func(yield func(store.KV, error) bool) {
		if err := s.Available(); err != nil {
			yield(store.KV{}, err)
			return
		}
		for kv, err := range s.target.Scan(r) {
			if !yield(kv, err) {
				return
			}
		}
	}
}

// Verify recomputes the expected target from the source and compares it to
// the stored target. A mismatch takes the index out of service until the
// next EnsureIndex.
func (s *Subset) Verify() error {
	var mismatch error
	err := s.db.Exclusive(func(tx *store.Tx) error {
		want := make(map[string][]byte)
		for kv, err := range tx.Scan(s.source, store.Range{}) {
			if err != nil {
				return err
			}
			op, err := s.projection.Project(kv.Key, kv.Value)
			if err != nil {
				return err
			}
			switch op.Kind {
			case Put:
				want[string(op.Key)] = op.Value
			case Delete:
				delete(want, string(op.Key))
			}
		}

		n := 0
		for kv, err := range tx.Scan(s.target, store.Range{}) {
			if err != nil {
				return err
			}
			n++
			v, ok := want[string(kv.Key)]
			if !ok || !bytes.Equal(v, kv.Value) {
				mismatch = errors.New(errors.IndexCorruptionError, "index %s: unexpected record %x", s.name, kv.Key)
				return nil
			}
		}
		if n != len(want) {
			mismatch = errors.New(errors.IndexCorruptionError, "index %s: %d records, expected %d", s.name, n, len(want))
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.IndexCorruptionError, err, "verify index %s", s.name)
	}
	if mismatch != nil {
		s.setErr(mismatch)
		s.logger.Error(mismatch)
		if s.observer != nil {
			s.observer.IndexFailed(s.name)
		}
		return mismatch
	}
	return nil
}
