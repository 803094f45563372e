// Package statemachine drives orders and fills through their relayer
// lifecycle. Every transition is persisted before it is reported, so a
// restarted daemon resumes from the last durable state.
package statemachine

import (
	"context"
	"encoding/json"
	"iter"
	"slices"
	"sync"
	"time"

	"brokerd/infra/metrics"
	"brokerd/infra/store"
	"brokerd/pkg/errors"
	"brokerd/pkg/logger"
)

type State string

// None is the state of a machine that has not been created yet.
const None State = "none"

type Transition struct {
	Name string
	From []State
	To   State
}

// Definition is the transition table of one kind of machine.
type Definition struct {
	Name        string
	Transitions []Transition
	// Rejected is entered when an action fails during Fire.
	Rejected State
	// Terminal states accept no further transitions.
	Terminal []State
}

func (d *Definition) lookup(name string, from State) (Transition, bool) {
	for _, t := range d.Transitions {
		if t.Name == name && slices.Contains(t.From, from) {
			return t, true
		}
	}
	return Transition{}, false
}

func (d *Definition) IsTerminal(s State) bool {
	return slices.Contains(d.Terminal, s)
}

type HistoryEntry struct {
	Transition string    `json:"transition"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// Record is what is persisted for each machine.
type Record[T any] struct {
	State   State          `json:"state"`
	Data    T              `json:"data"`
	History []HistoryEntry `json:"history,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func decodeRecord[T any](key, value []byte) (Record[T], error) {
	var r Record[T]
	if err := json.Unmarshal(value, &r); err != nil {
		return r, errors.Wrap(errors.InternalError, err, "decode record %x", key)
	}
	return r, nil
}

// Action performs the side effects of a transition. It may update data and
// call checkpoint to persist the update before continuing, e.g. once a
// remote id is known.
type Action[T any] func(ctx context.Context, data *T, checkpoint func() error) error

// Deps are shared by every machine of a kind.
type Deps struct {
	Bucket  *store.Bucket
	Logger  logger.Interface
	Metrics *metrics.Metrics
	// Timeout bounds each action; zero means no bound beyond ctx.
	Timeout time.Duration
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Machine is a persisted instance of a Definition. Transitions on one
// machine are serialized.
type Machine[T any] struct {
	def  *Definition
	deps Deps
	key  []byte
	id   string

	mu  sync.Mutex
	rec Record[T]
}

func newMachine[T any](def *Definition, deps Deps, id string, key []byte, rec Record[T]) *Machine[T] {
	return &Machine[T]{def: def, deps: deps.withDefaults(), key: key, id: id, rec: rec}
}

func (m *Machine[T]) Key() []byte {
	return m.key
}

// ID is the readable "blockOrderID/localID" name used in logs.
func (m *Machine[T]) ID() string {
	return m.id
}

func (m *Machine[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.State
}

// Record returns a copy of the current record.
func (m *Machine[T]) Record() Record[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.rec
	rec.History = slices.Clone(m.rec.History)
	return rec
}

// Fire runs the named transition. When action fails the machine is moved
// to the rejected state with the error recorded, and the error is returned.
func (m *Machine[T]) Fire(ctx context.Context, name string, action Action[T]) error {
	return m.run(ctx, name, action, true)
}

// Attempt runs the named transition like Fire, except that a failing
// action leaves the state as it was and only records the failure.
func (m *Machine[T]) Attempt(ctx context.Context, name string, action Action[T]) error {
	return m.run(ctx, name, action, false)
}

// Reject moves the machine to its rejected state with cause recorded. It
// fails when the machine already ended in another terminal state.
func (m *Machine[T]) Reject(ctx context.Context, cause error) error {
	err := m.run(ctx, "reject", func(context.Context, *T, func() error) error {
		return cause
	}, true)
	if m.State() == m.def.Rejected {
		return nil
	}
	return err
}

func (m *Machine[T]) run(ctx context.Context, name string, action Action[T], rejectOnError bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.rec.State
	t, ok := m.def.lookup(name, from)
	if !ok {
		return errors.New(errors.ValidationError, "%s %s: cannot %s from state %s", m.def.Name, m.id, name, from)
	}

	data := m.rec.Data
	checkpoint := func() error {
		m.rec.Data = data
		return m.save()
	}
	var err error
	if action != nil {
		actx := ctx
		if m.deps.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, m.deps.Timeout)
			defer cancel()
		}
		err = action(actx, &data, checkpoint)
	}
	m.rec.Data = data

	entry := HistoryEntry{Transition: name, From: from, To: t.To, At: m.deps.Now().UTC()}
	outcome := "ok"
	if err != nil {
		entry.Error = err.Error()
		m.rec.Error = err.Error()
		outcome = "failed"
		if rejectOnError {
			entry.To = m.def.Rejected
			m.rec.State = m.def.Rejected
			outcome = "rejected"
		} else {
			entry.To = from
		}
	} else {
		m.rec.State = t.To
	}
	m.rec.History = append(m.rec.History, entry)
	m.deps.Metrics.ChildTransitions.WithLabelValues(m.def.Name, name, outcome).Inc()

	if serr := m.save(); serr != nil {
		// The in-memory record is ahead of the store; the error surfaces
		// and recovery works from what was persisted.
		m.deps.Logger.Error(serr)
		if err == nil {
			return serr
		}
	}
	if err != nil {
		m.deps.Logger.Warn(m.def.Name+" transition failed",
			logger.NewField("id", m.id),
			logger.NewField("transition", name),
			logger.NewField("error", err.Error()),
		)
		return err
	}
	m.deps.Logger.Debug(m.def.Name+" transitioned",
		logger.NewField("id", m.id),
		logger.NewField("from", string(from)),
		logger.NewField("to", string(t.To)),
	)
	return nil
}

func (m *Machine[T]) save() error {
	v, err := json.Marshal(m.rec)
	if err != nil {
		return errors.Wrap(errors.InternalError, err, "encode %s record", m.def.Name)
	}
	return m.deps.Bucket.Put(m.key, v)
}

// Update changes data outside of any transition and persists it.
func (m *Machine[T]) Update(fn func(*T)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.rec.Data)
	return m.save()
}

// scanRecords decodes every record of b within r.
func scanRecords[T any](b *store.Bucket, r store.Range) iter.Seq2[Record[T], error] {
	return func(yield func(Record[T], error) bool) {
		for kv, err := range b.Scan(r) {
			var rec Record[T]
			if err == nil {
				rec, err = decodeRecord[T](kv.Key, kv.Value)
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}
