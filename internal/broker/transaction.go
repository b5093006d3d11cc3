package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

type txState string

const (
	txOpen       txState = "open"
	txCommitted  txState = "committed"
	txRolledBack txState = "rolled_back"
)

// Transaction buffers sends so related messages flush together, in
// order, or not at all. A transaction is single-use: after Commit or
// Rollback every method returns an error.
type Transaction struct {
	id     string
	broker *Broker

	mu    sync.Mutex
	state txState
	sends []bufferedSend
}

type bufferedSend struct {
	env Envelope
	tgt target
}

// ID returns the transaction's ULID. Ids sort by creation time.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) buffer(env Envelope, tgt target) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return errors.New(errors.CategoryDelivery, errors.SeverityError,
			"transaction is already "+string(t.state)).
			WithContext("transaction_id", t.id)
	}
	t.sends = append(t.sends, bufferedSend{env: env, tgt: tgt})
	return nil
}

// SendToTab buffers a send to one tab's endpoint.
func (t *Transaction) SendToTab(tabID int, env Envelope) error {
	return t.buffer(env, target{kind: targetTab, tabID: tabID})
}

// BroadcastToWindow buffers a broadcast to one window's endpoints.
func (t *Transaction) BroadcastToWindow(windowID int, env Envelope) error {
	return t.buffer(env, target{kind: targetWindow, windowID: windowID})
}

// BroadcastToAll buffers a broadcast to every endpoint.
func (t *Transaction) BroadcastToAll(env Envelope) error {
	return t.buffer(env, target{kind: targetAll})
}

// Commit flushes the buffered sends in the order they were added and
// returns the per-send results. The transaction is terminal afterwards
// even if some deliveries failed; failures surface in the results, not
// as an error.
func (t *Transaction) Commit(ctx context.Context) ([]DeliveryResult, error) {
	t.mu.Lock()
	if t.state != txOpen {
		state := t.state
		t.mu.Unlock()
		return nil, errors.New(errors.CategoryDelivery, errors.SeverityError,
			"cannot commit a "+string(state)+" transaction").
			WithContext("transaction_id", t.id)
	}
	t.state = txCommitted
	sends := t.sends
	t.sends = nil
	t.mu.Unlock()

	t.broker.forgetTransaction(t.id)

	var results []DeliveryResult
	for _, send := range sends {
		results = append(results, t.broker.dispatch(ctx, send.env, send.tgt)...)
	}
	slog.Debug("Transaction committed", "transaction_id", t.id, "sends", len(sends))
	return results, nil
}

// Rollback discards the buffered sends.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txOpen {
		return errors.New(errors.CategoryDelivery, errors.SeverityError,
			"cannot roll back a "+string(t.state)+" transaction").
			WithContext("transaction_id", t.id)
	}
	t.state = txRolledBack
	t.sends = nil
	t.broker.forgetTransaction(t.id)
	slog.Debug("Transaction rolled back", "transaction_id", t.id)
	return nil
}

// BeginTransaction opens a transaction. The open-transaction table is
// capped; opening one beyond the cap rolls back the oldest open
// transaction, identified by smallest ULID.
func (b *Broker) BeginTransaction() *Transaction {
	tx := &Transaction{
		id:     ulid.Make().String(),
		broker: b,
		state:  txOpen,
	}

	b.txMu.Lock()
	if len(b.transactions) >= b.maxTransactions {
		oldest := ""
		for id := range b.transactions {
			if oldest == "" || id < oldest {
				oldest = id
			}
		}
		victim := b.transactions[oldest]
		delete(b.transactions, oldest)
		b.txMu.Unlock()
		slog.Warn("Transaction table full, rolling back oldest open transaction",
			"transaction_id", oldest)
		// Best effort; the victim may be mid-commit on another goroutine.
		_ = victim.Rollback()
		b.txMu.Lock()
	}
	b.transactions[tx.id] = tx
	b.txMu.Unlock()
	return tx
}

func (b *Broker) forgetTransaction(id string) {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	delete(b.transactions, id)
}

// OpenTransactions reports the size of the open-transaction table.
func (b *Broker) OpenTransactions() int {
	b.txMu.Lock()
	defer b.txMu.Unlock()
	return len(b.transactions)
}

// WithTransaction runs fn inside a transaction, committing when fn
// returns nil and rolling back when it errors.
func (b *Broker) WithTransaction(ctx context.Context, fn func(*Transaction) error) ([]DeliveryResult, error) {
	tx := b.BeginTransaction()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Rollback after failed transaction body", "transaction_id", tx.id, "error", rbErr)
		}
		return nil, err
	}
	return tx.Commit(ctx)
}
