package memory

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChargeRepo implements ports.ChargeRepository.
type ChargeRepo struct {
	s *Store
}

func (r *ChargeRepo) Create(_ context.Context, c *domain.DepositCharge) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.charges[c.ID]; ok {
		return domain.ErrDuplicate
	}
	if _, ok := r.s.chargeByProv[c.ProviderID]; ok {
		return domain.ErrDuplicate
	}
	r.s.charges[c.ID] = cloneCharge(c)
	r.s.chargeByProv[c.ProviderID] = c.ID
	return nil
}

func (r *ChargeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.DepositCharge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.charges[id]
	if !ok {
		return nil, nil
	}
	return cloneCharge(c), nil
}

func (r *ChargeRepo) GetByProviderID(_ context.Context, providerID string) (*domain.DepositCharge, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.lookupProvider(providerID), nil
}

// GetByProviderIDForUpdate relies on the store-wide transaction lock.
func (r *ChargeRepo) GetByProviderIDForUpdate(_ context.Context, tx pgx.Tx, providerID string) (*domain.DepositCharge, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.lookupProvider(providerID), nil
}

func (r *ChargeRepo) lookupProvider(providerID string) *domain.DepositCharge {
	id, ok := r.s.chargeByProv[providerID]
	if !ok {
		return nil
	}
	return cloneCharge(r.s.charges[id])
}

func (r *ChargeRepo) UpdateProgress(_ context.Context, tx pgx.Tx, id uuid.UUID, status domain.ChargeStatus, confirmations int, networkTx *string) error {
	t, err := r.s.own(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.charges[id]
	if !ok {
		return fmt.Errorf("update charge progress: charge %s not found", id)
	}
	r.snapshot(t, c)
	c.Status = status
	c.Confirmations = max(c.Confirmations, confirmations)
	if networkTx != nil {
		c.NetworkTx = networkTx
	}
	c.UpdatedAt = r.s.now()
	return nil
}

func (r *ChargeRepo) MarkCredited(_ context.Context, tx pgx.Tx, id uuid.UUID, transactionID uuid.UUID, confirmations int, networkTx *string) error {
	t, err := r.s.own(tx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.charges[id]
	if !ok || c.Credited {
		return domain.ErrConflict
	}
	r.snapshot(t, c)
	c.Credited = true
	c.Status = domain.ChargeStatusCompleted
	c.TransactionID = &transactionID
	c.Confirmations = max(c.Confirmations, confirmations)
	if networkTx != nil {
		c.NetworkTx = networkTx
	}
	c.UpdatedAt = r.s.now()
	return nil
}

func (r *ChargeRepo) snapshot(t *Tx, c *domain.DepositCharge) {
	prev := *c
	t.onRollback(func() { *c = prev })
}
