package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// ApplyDelta creates the row at zero if needed, then adds delta in a single
// conditional UPDATE. The row lock taken by the UPDATE serializes concurrent
// deltas on the same (user, asset); other keys are unaffected.
// This MUST be called within a transaction.
func (r *BalanceRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string, delta decimal.Decimal) (decimal.Decimal, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, asset, amount, updated_at) VALUES ($1, $2, 0, NOW())
		 ON CONFLICT (user_id, asset) DO NOTHING`,
		userID, asset,
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ensure balance row: %w", err)
	}

	var amountStr string
	err = tx.QueryRow(ctx,
		`UPDATE balances SET amount = amount + $3::numeric, updated_at = NOW()
		 WHERE user_id = $1 AND asset = $2 AND amount + $3::numeric >= 0
		 RETURNING amount::text`,
		userID, asset, delta.String(),
	).Scan(&amountStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, domain.ErrInsufficientFunds
		}
		return decimal.Zero, fmt.Errorf("apply balance delta: %w", err)
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance amount: %w", err)
	}
	return amount, nil
}

// Get fetches one balance. Returns nil, nil if the row was never touched.
func (r *BalanceRepo) Get(ctx context.Context, userID uuid.UUID, asset string) (*domain.Balance, error) {
	var (
		b         domain.Balance
		amountStr string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, asset, amount::text, updated_at FROM balances WHERE user_id = $1 AND asset = $2`,
		userID, asset,
	).Scan(&b.UserID, &b.Asset, &amountStr, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if b.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("parse balance amount: %w", err)
	}
	return &b, nil
}

// ListByUser returns every balance row of a user ordered by asset.
func (r *BalanceRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, asset, amount::text, updated_at FROM balances WHERE user_id = $1 ORDER BY asset`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var (
			b         domain.Balance
			amountStr string
			updatedAt time.Time
		)
		if err := rows.Scan(&b.UserID, &b.Asset, &amountStr, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse balance amount: %w", err)
		}
		b.UpdatedAt = updatedAt
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return out, nil
}
