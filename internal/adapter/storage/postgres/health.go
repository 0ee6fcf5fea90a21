package postgres

import (
	"context"
	"errors"
	"fmt"
)

// ErrSchemaMissing is reported by the health check when the ledger tables
// have not been created.
var ErrSchemaMissing = errors.New("ledger schema not applied")

// HealthCheck reports PostgreSQL as healthy only when it answers and the
// balances table exists. A reachable but empty database cannot serve writes.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	var ready bool
	if err := h.pool.QueryRow(ctx, `SELECT to_regclass('balances') IS NOT NULL`).Scan(&ready); err != nil {
		return fmt.Errorf("postgres health: %w", err)
	}
	if !ready {
		return ErrSchemaMissing
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
