package memory

import (
	"context"
	"sort"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	s *Store
}

func (r *BalanceRepo) ApplyDelta(_ context.Context, tx pgx.Tx, userID uuid.UUID, asset string, delta decimal.Decimal) (decimal.Decimal, error) {
	t, err := r.s.own(tx)
	if err != nil {
		return decimal.Zero, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k := balanceKey{userID: userID, asset: asset}
	cur, exists := r.s.balances[k]
	amount := decimal.Zero
	if exists {
		amount = cur.Amount
	}
	next := amount.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, domain.ErrInsufficientFunds
	}

	if exists {
		prev := *cur
		t.onRollback(func() { *r.s.balances[k] = prev })
		cur.Amount = next
		cur.UpdatedAt = r.s.now()
	} else {
		t.onRollback(func() { delete(r.s.balances, k) })
		r.s.balances[k] = &domain.Balance{UserID: userID, Asset: asset, Amount: next, UpdatedAt: r.s.now()}
	}
	return next, nil
}

func (r *BalanceRepo) Get(_ context.Context, userID uuid.UUID, asset string) (*domain.Balance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	b, ok := r.s.balances[balanceKey{userID: userID, asset: asset}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *BalanceRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]domain.Balance, 0)
	for k, b := range r.s.balances {
		if k.userID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}
