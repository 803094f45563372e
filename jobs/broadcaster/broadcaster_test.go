package broadcaster

import (
	"context"
	"fmt"
	"testing"

	"brokerd/infra/outbox"
	"brokerd/infra/store"
	"brokerd/pkg/logger"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutbox(t *testing.T) (*store.DB, *outbox.Outbox) {
	t.Helper()
	db, err := store.Open(store.Options{InMemory: true, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ob, err := outbox.Open(db)
	require.NoError(t, err)
	return db, ob
}

func pending(t *testing.T, ob *outbox.Outbox) []outbox.Record {
	t.Helper()
	var recs []outbox.Record
	require.NoError(t, ob.ScanByState(func(rec outbox.Record) error {
		recs = append(recs, rec)
		return nil
	}, outbox.StateNew, outbox.StateSent, outbox.StateFailed))
	return recs
}

func TestPublishPendingAcksAndDeletes(t *testing.T) {
	db, ob := newOutbox(t)
	require.NoError(t, db.Write(ob.Stage([]byte("bo1"), []byte(`{"status":"ACTIVE"}`))))
	require.NoError(t, db.Write(ob.Stage([]byte("bo1"), []byte(`{"status":"COMPLETED"}`))))

	producer := mocks.NewSyncProducer(t, nil)
	var sent []string
	for range 2 {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(v []byte) error {
			sent = append(sent, string(v))
			return nil
		})
	}
	b := New(Config{Outbox: ob, Publisher: NewSaramaPublisherFrom(producer, "block-orders"), Logger: logger.NewNop()})

	require.NoError(t, b.PublishPending(context.Background()))
	assert.Equal(t, []string{`{"status":"ACTIVE"}`, `{"status":"COMPLETED"}`}, sent)
	assert.Empty(t, pending(t, ob))
	require.NoError(t, b.Close())
}

type flakyPublisher struct {
	failures int
	calls    int
}

func (p *flakyPublisher) Publish(context.Context, []byte, []byte) error {
	p.calls++
	if p.calls <= p.failures {
		return fmt.Errorf("broker unavailable")
	}
	return nil
}

func (p *flakyPublisher) Close() error { return nil }

func TestPublishPendingRetriesThenParks(t *testing.T) {
	db, ob := newOutbox(t)
	require.NoError(t, db.Write(ob.Stage([]byte("bo1"), []byte("x"))))

	pub := &flakyPublisher{failures: 100}
	b := New(Config{Outbox: ob, Publisher: pub, Logger: logger.NewNop(), MaxRetries: 2})

	require.NoError(t, b.PublishPending(context.Background()))
	recs := pending(t, ob)
	require.Len(t, recs, 1)
	assert.Equal(t, outbox.StateNew, recs[0].State)
	assert.Equal(t, uint32(1), recs[0].Retries)

	require.NoError(t, b.PublishPending(context.Background()))
	recs = pending(t, ob)
	require.Len(t, recs, 1)
	assert.Equal(t, outbox.StateFailed, recs[0].State)

	// Parked records are left alone.
	require.NoError(t, b.PublishPending(context.Background()))
	assert.Equal(t, 2, pub.calls)
}

func TestPublishPendingResendsInterrupted(t *testing.T) {
	db, ob := newOutbox(t)
	require.NoError(t, db.Write(ob.Stage(nil, []byte("x"))))
	rec, err := ob.Get(1)
	require.NoError(t, err)
	require.NoError(t, ob.Update(rec, outbox.StateSent))

	pub := &flakyPublisher{}
	b := New(Config{Outbox: ob, Publisher: pub, Logger: logger.NewNop()})
	require.NoError(t, b.PublishPending(context.Background()))
	assert.Equal(t, 1, pub.calls)
	assert.Empty(t, pending(t, ob))
}
