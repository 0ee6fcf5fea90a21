// Package memory is a process-local implementation of the storage ports.
// It backs the "memory" database driver and the service scenario tests.
//
// Transactions are fully serialized: Begin takes a store-wide lock that is
// released by Commit or Rollback. Deltas on unrelated (user, asset) keys
// therefore wait for each other, unlike the per-row locks of postgres; the
// driver is meant for local runs and tests, not production load. Writes made
// inside a transaction are applied immediately and undone on Rollback, so
// reads outside a transaction may observe uncommitted rows.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var errForeignTx = errors.New("memory: transaction does not belong to this store")

type balanceKey struct {
	userID uuid.UUID
	asset  string
}

// Store holds every table. Use the accessor methods to get port implementations.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	balances     map[balanceKey]*domain.Balance
	charges      map[uuid.UUID]*domain.DepositCharge
	chargeByProv map[string]uuid.UUID
	txns         map[uuid.UUID]*domain.Transaction
	txnOrder     []uuid.UUID
	txnByKey     map[string]uuid.UUID
	txnByCharge  map[uuid.UUID]uuid.UUID
	audit        []domain.AuditLog

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		balances:     make(map[balanceKey]*domain.Balance),
		charges:      make(map[uuid.UUID]*domain.DepositCharge),
		chargeByProv: make(map[string]uuid.UUID),
		txns:         make(map[uuid.UUID]*domain.Transaction),
		txnByKey:     make(map[string]uuid.UUID),
		txnByCharge:  make(map[uuid.UUID]uuid.UUID),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }
func (s *Store) Balances() *BalanceRepo { return &BalanceRepo{s: s} }
func (s *Store) Charges() *ChargeRepo { return &ChargeRepo{s: s} }
func (s *Store) Transactions() *TransactionRepo { return &TransactionRepo{s: s} }
func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }
func (s *Store) HealthCheck() *HealthCheck { return &HealthCheck{} }

// Tx is the pgx.Tx handed out by Transactor. Only Commit and Rollback are
// implemented; the embedded interface is nil.
type Tx struct {
	pgx.Tx
	s    *Store
	undo []func()
	done bool
}

func (t *Tx) Commit(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.s.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.s.mu.Unlock()
	t.undo = nil
	t.s.txMu.Unlock()
	return nil
}

func (t *Tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

// own validates that tx was opened on s and is still live.
func (s *Store) own(tx pgx.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t.s != s {
		return nil, errForeignTx
	}
	if t.done {
		return nil, pgx.ErrTxClosed
	}
	return t, nil
}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	s *Store
}

func (tr *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	locked := make(chan struct{})
	go func() {
		tr.s.txMu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
		return &Tx{s: tr.s}, nil
	case <-ctx.Done():
		// Release the lock once the waiter acquires it.
		go func() {
			<-locked
			tr.s.txMu.Unlock()
		}()
		return nil, ctx.Err()
	}
}

// HealthCheck implements ports.HealthChecker.
type HealthCheck struct{}

func (HealthCheck) Ping(context.Context) error { return nil }
func (HealthCheck) Name() string { return "memory" }

func cloneCharge(c *domain.DepositCharge) *domain.DepositCharge {
	cp := *c
	return &cp
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	cp.Notes = append([]string(nil), t.Notes...)
	if cp.Notes == nil {
		cp.Notes = []string{}
	}
	return &cp
}
