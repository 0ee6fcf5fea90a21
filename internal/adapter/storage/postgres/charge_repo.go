package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const chargeColumns = `id, provider_id, code, user_id, asset, usd_amount::text, crypto_amount::text,
	address, hosted_url, status, confirmations, confirm_threshold, credited, network_tx,
	expires_at, transaction_id, created_at, updated_at`

// ChargeRepo implements ports.ChargeRepository.
type ChargeRepo struct {
	pool Pool
}

// NewChargeRepo creates a new ChargeRepo.
func NewChargeRepo(pool Pool) *ChargeRepo {
	return &ChargeRepo{pool: pool}
}

// Create inserts a new charge. A second charge with the same provider id
// returns domain.ErrDuplicate.
func (r *ChargeRepo) Create(ctx context.Context, c *domain.DepositCharge) error {
	query := `INSERT INTO deposit_charges (id, provider_id, code, user_id, asset, usd_amount, crypto_amount,
		address, hosted_url, status, confirmations, confirm_threshold, credited, network_tx,
		expires_at, transaction_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.ProviderID, c.Code, c.UserID, c.Asset, c.USDAmount.String(), c.CryptoAmount.String(),
		c.Address, c.HostedURL, c.Status, c.Confirmations, c.ConfirmThreshold, c.Credited, c.NetworkTx,
		c.ExpiresAt, c.TransactionID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert deposit charge: %w", err)
	}
	return nil
}

// GetByID fetches a charge by its UUID (without locking).
func (r *ChargeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositCharge, error) {
	query := `SELECT ` + chargeColumns + ` FROM deposit_charges WHERE id = $1`
	return scanCharge(r.pool.QueryRow(ctx, query, id))
}

// GetByProviderID fetches a charge by the processor's id (without locking).
func (r *ChargeRepo) GetByProviderID(ctx context.Context, providerID string) (*domain.DepositCharge, error) {
	query := `SELECT ` + chargeColumns + ` FROM deposit_charges WHERE provider_id = $1`
	return scanCharge(r.pool.QueryRow(ctx, query, providerID))
}

// GetByProviderIDForUpdate locks the charge row for the rest of the transaction.
// Concurrent deliveries for the same charge queue here.
func (r *ChargeRepo) GetByProviderIDForUpdate(ctx context.Context, tx pgx.Tx, providerID string) (*domain.DepositCharge, error) {
	query := `SELECT ` + chargeColumns + ` FROM deposit_charges WHERE provider_id = $1 FOR UPDATE`
	return scanCharge(tx.QueryRow(ctx, query, providerID))
}

// UpdateProgress persists status and progress fields. confirmations uses
// GREATEST so a stale writer can never lower the stored count.
func (r *ChargeRepo) UpdateProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ChargeStatus, confirmations int, networkTx *string) error {
	query := `UPDATE deposit_charges
		SET status = $2, confirmations = GREATEST(confirmations, $3), network_tx = COALESCE($4, network_tx), updated_at = NOW()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, status, confirmations, networkTx)
	if err != nil {
		return fmt.Errorf("update charge progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deposit charge not found: %s", id)
	}
	return nil
}

// MarkCredited is the compare-and-swap on the credited flag.
func (r *ChargeRepo) MarkCredited(ctx context.Context, tx pgx.Tx, id uuid.UUID, transactionID uuid.UUID, confirmations int, networkTx *string) error {
	query := `UPDATE deposit_charges
		SET credited = TRUE, status = $2, transaction_id = $3,
			confirmations = GREATEST(confirmations, $4), network_tx = COALESCE($5, network_tx), updated_at = NOW()
		WHERE id = $1 AND credited = FALSE`

	tag, err := tx.Exec(ctx, query, id, domain.ChargeStatusCompleted, transactionID, confirmations, networkTx)
	if err != nil {
		return fmt.Errorf("mark charge credited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func scanCharge(row pgx.Row) (*domain.DepositCharge, error) {
	c := &domain.DepositCharge{}
	var usdStr, cryptoStr string
	err := row.Scan(
		&c.ID, &c.ProviderID, &c.Code, &c.UserID, &c.Asset, &usdStr, &cryptoStr,
		&c.Address, &c.HostedURL, &c.Status, &c.Confirmations, &c.ConfirmThreshold, &c.Credited, &c.NetworkTx,
		&c.ExpiresAt, &c.TransactionID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan deposit charge: %w", err)
	}
	if c.USDAmount, err = decimal.NewFromString(usdStr); err != nil {
		return nil, fmt.Errorf("parse usd amount: %w", err)
	}
	if c.CryptoAmount, err = decimal.NewFromString(cryptoStr); err != nil {
		return nil, fmt.Errorf("parse crypto amount: %w", err)
	}
	return c, nil
}
