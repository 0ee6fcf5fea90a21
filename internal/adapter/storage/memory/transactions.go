package memory

import (
	"context"
	"fmt"
	"sort"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	s *Store
}

func (r *TransactionRepo) Create(_ context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	t, err := r.s.own(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.txns[txn.ID]; ok {
		return domain.ErrDuplicate
	}
	if txn.IdempotencyKey != nil {
		if _, ok := r.s.txnByKey[*txn.IdempotencyKey]; ok {
			return domain.ErrDuplicate
		}
	}
	if txn.ChargeID != nil {
		if _, ok := r.s.txnByCharge[*txn.ChargeID]; ok {
			return domain.ErrDuplicate
		}
	}

	r.s.txns[txn.ID] = cloneTransaction(txn)
	r.s.txnOrder = append(r.s.txnOrder, txn.ID)
	if txn.IdempotencyKey != nil {
		r.s.txnByKey[*txn.IdempotencyKey] = txn.ID
	}
	if txn.ChargeID != nil {
		r.s.txnByCharge[*txn.ChargeID] = txn.ID
	}

	t.onRollback(func() {
		delete(r.s.txns, txn.ID)
		r.s.txnOrder = r.s.txnOrder[:len(r.s.txnOrder)-1]
		if txn.IdempotencyKey != nil {
			delete(r.s.txnByKey, *txn.IdempotencyKey)
		}
		if txn.ChargeID != nil {
			delete(r.s.txnByCharge, *txn.ChargeID)
		}
	})
	return nil
}

func (r *TransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.lookup(id), nil
}

func (r *TransactionRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.lookup(id), nil
}

func (r *TransactionRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.txnByKey[key]
	if !ok {
		return nil, nil
	}
	return r.lookup(id), nil
}

func (r *TransactionRepo) lookup(id uuid.UUID) *domain.Transaction {
	t, ok := r.s.txns[id]
	if !ok {
		return nil
	}
	return cloneTransaction(t)
}

func (r *TransactionRepo) UpdateStatus(_ context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	t, err := r.s.own(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.txns[id]
	if !ok || txn.Status != from {
		return domain.ErrConflict
	}
	prevStatus, prevUpdated := txn.Status, txn.UpdatedAt
	t.onRollback(func() { txn.Status, txn.UpdatedAt = prevStatus, prevUpdated })
	txn.Status = to
	txn.UpdatedAt = r.s.now()
	return nil
}

func (r *TransactionRepo) AppendNote(_ context.Context, tx pgx.Tx, id uuid.UUID, note string) error {
	t, err := r.s.own(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	txn, ok := r.s.txns[id]
	if !ok {
		return fmt.Errorf("append note: transaction %s not found", id)
	}
	prevNotes, prevUpdated := txn.Notes, txn.UpdatedAt
	t.onRollback(func() { txn.Notes, txn.UpdatedAt = prevNotes, prevUpdated })
	txn.Notes = append(append([]string(nil), txn.Notes...), note)
	txn.UpdatedAt = r.s.now()
	return nil
}

// List returns newest first, with insertion order breaking CreatedAt ties.
func (r *TransactionRepo) List(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type ranked struct {
		txn *domain.Transaction
		seq int
	}
	var matched []ranked
	for seq, id := range r.s.txnOrder {
		t := r.s.txns[id]
		if t.UserID != params.UserID {
			continue
		}
		if params.Asset != nil && t.Asset != *params.Asset {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		matched = append(matched, ranked{txn: t, seq: seq})
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.txn.CreatedAt.Equal(b.txn.CreatedAt) {
			return a.txn.CreatedAt.After(b.txn.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := int64(len(matched))
	page, size := params.Page, params.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	start := (page - 1) * size
	out := make([]domain.Transaction, 0, size)
	for i := start; i < len(matched) && i < start+size; i++ {
		out = append(out, *cloneTransaction(matched[i].txn))
	}
	return out, total, nil
}
