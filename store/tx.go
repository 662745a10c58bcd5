package store

import (
	"context"
	"sync"

	"github.com/uptrace/bun"
)

// Tx is a bun transaction that runs registered hooks once it has been
// committed or rolled back. Hooks run on the goroutine that ends the
// transaction, in registration order.
type Tx struct {
	bun.Tx

	mu            sync.Mutex
	done          bool
	afterCommit   []func()
	afterRollback []func()
}

// AfterCommit registers fn to run after a successful commit.
func (tx *Tx) AfterCommit(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.afterCommit = append(tx.afterCommit, fn)
}

// AfterRollback registers fn to run after a rollback or a failed commit.
func (tx *Tx) AfterRollback(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.afterRollback = append(tx.afterRollback, fn)
}

// Done reports whether the transaction has been committed or rolled back.
func (tx *Tx) Done() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.done
}

// Commit commits the transaction and runs the commit hooks. When the commit
// fails the rollback hooks run instead.
func (tx *Tx) Commit() error {
	hooks, ok := tx.finish()
	if !ok {
		return nil
	}
	if err := tx.Tx.Commit(); err != nil {
		runHooks(hooks.rollback)
		return err
	}
	runHooks(hooks.commit)
	return nil
}

// Rollback aborts the transaction and runs the rollback hooks. Rolling back a
// finished transaction is a no-op.
func (tx *Tx) Rollback() error {
	hooks, ok := tx.finish()
	if !ok {
		return nil
	}
	err := tx.Tx.Rollback()
	runHooks(hooks.rollback)
	return err
}

type txHooks struct {
	commit   []func()
	rollback []func()
}

func (tx *Tx) finish() (txHooks, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return txHooks{}, false
	}
	tx.done = true
	h := txHooks{commit: tx.afterCommit, rollback: tx.afterRollback}
	tx.afterCommit, tx.afterRollback = nil, nil
	return h, true
}

func runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// Begin starts a transaction on the store database.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	btx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, external(err, "begin transaction")
	}
	return &Tx{Tx: btx}, nil
}

// RunInTx runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return external(err, "commit transaction")
	}
	return nil
}
