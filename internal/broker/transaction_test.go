package broker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

func newTxBroker(t *testing.T, opts ...BrokerOption) (*Broker, *MemTransport) {
	t.Helper()
	transport := NewMemTransport()
	opts = append(opts, WithRetryPolicy(fastPolicy()))
	return NewBroker(transport, opts...), transport
}

func TestTransactionCommitFlushesInOrder(t *testing.T) {
	b, transport := newTxBroker(t)
	var mu sync.Mutex
	var seen []string
	transport.RegisterEndpoint("ep-1", 1, 1, func(env Envelope) error {
		mu.Lock()
		seen = append(seen, env.Type)
		mu.Unlock()
		return nil
	})
	transport.MarkEligible("ep-1", true)

	tx := b.BeginTransaction()
	require.NoError(t, tx.SendToTab(1, NewEnvelope("first", nil)))
	require.NoError(t, tx.SendToTab(1, NewEnvelope("second", nil)))
	require.NoError(t, tx.SendToTab(1, NewEnvelope("third", nil)))

	results, err := tx.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"first", "second", "third"}, seen)
	assert.Zero(t, b.OpenTransactions())
}

func TestTransactionRollbackDiscardsBufferedSends(t *testing.T) {
	b, transport := newTxBroker(t)
	ep := &recordingEndpoint{}
	transport.RegisterEndpoint("ep-1", 1, 1, ep.handle)
	transport.MarkEligible("ep-1", true)

	tx := b.BeginTransaction()
	require.NoError(t, tx.SendToTab(1, NewEnvelope("buffered", nil)))
	require.NoError(t, tx.Rollback())

	assert.Zero(t, ep.count())
	assert.Zero(t, b.OpenTransactions())
}

func TestTransactionIsTerminalAfterCommitOrRollback(t *testing.T) {
	b, _ := newTxBroker(t)

	tx := b.BeginTransaction()
	_, err := tx.Commit(context.Background())
	require.NoError(t, err)

	err = tx.SendToTab(1, NewEnvelope("late", nil))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDelivery))

	_, err = tx.Commit(context.Background())
	require.Error(t, err)
	require.Error(t, tx.Rollback())

	tx2 := b.BeginTransaction()
	require.NoError(t, tx2.Rollback())
	require.Error(t, tx2.Rollback())
}

func TestTransactionTableCapRollsBackOldest(t *testing.T) {
	b, _ := newTxBroker(t, WithMaxTransactions(2))

	first := b.BeginTransaction()
	second := b.BeginTransaction()
	third := b.BeginTransaction()

	assert.Equal(t, 2, b.OpenTransactions())
	// The first transaction (smallest ULID) was rolled back to make room.
	require.Error(t, first.SendToTab(1, NewEnvelope("late", nil)))
	require.NoError(t, second.SendToTab(1, NewEnvelope("ok", nil)))
	require.NoError(t, third.SendToTab(1, NewEnvelope("ok", nil)))
}

func TestWithTransactionCommitsOnNilError(t *testing.T) {
	b, transport := newTxBroker(t)
	ep := &recordingEndpoint{}
	transport.RegisterEndpoint("ep-1", 1, 1, ep.handle)
	transport.MarkEligible("ep-1", true)

	results, err := b.WithTransaction(context.Background(), func(tx *Transaction) error {
		return tx.SendToTab(1, NewEnvelope("payload", nil))
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, ep.count())
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	b, transport := newTxBroker(t)
	ep := &recordingEndpoint{}
	transport.RegisterEndpoint("ep-1", 1, 1, ep.handle)
	transport.MarkEligible("ep-1", true)

	_, err := b.WithTransaction(context.Background(), func(tx *Transaction) error {
		if err := tx.SendToTab(1, NewEnvelope("payload", nil)); err != nil {
			return err
		}
		return errors.ValidationError("body failed")
	})
	require.Error(t, err)
	assert.Zero(t, ep.count())
	assert.Zero(t, b.OpenTransactions())
}

func TestTransactionIDsAreTimeOrdered(t *testing.T) {
	b, _ := newTxBroker(t)
	first := b.BeginTransaction()
	second := b.BeginTransaction()
	assert.Less(t, first.ID(), second.ID())
}
