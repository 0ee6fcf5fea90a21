package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const txColumns = `id, user_id, type, asset, amount::text, usd_value::text, fee::text, fee_usd::text,
	status, charge_id, network_tx, address, idempotency_key, notes, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, user_id, type, asset, amount, usd_value, fee, fee_usd,
		status, charge_id, network_tx, address, idempotency_key, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12, $13, $14, $15, $16)`

	notes := t.Notes
	if notes == nil {
		notes = []string{}
	}
	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.Asset,
		t.Amount.String(), t.USDValue.String(), t.Fee.String(), t.FeeUSD.String(),
		t.Status, t.ChargeID, t.NetworkTx, t.Address, t.IdempotencyKey, notes,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by its UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction with pessimistic locking.
// This MUST be called within a transaction.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// GetByIdempotencyKey fetches the transaction created under a scoped idempotency key.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE idempotency_key = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, key))
}

// UpdateStatus is a compare-and-swap on status.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	query := `UPDATE transactions SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`

	tag, err := tx.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// AppendNote adds a note without touching earlier ones.
func (r *TransactionRepo) AppendNote(ctx context.Context, tx pgx.Tx, id uuid.UUID, note string) error {
	query := `UPDATE transactions SET notes = array_append(notes, $2), updated_at = NOW() WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, note)
	if err != nil {
		return fmt.Errorf("append transaction note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// List fetches a user's transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Asset != nil {
		conditions = append(conditions, fmt.Sprintf("asset = $%d", argIdx))
		args = append(args, *params.Asset)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		txColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amount, usd, fee, feeUSD string
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Asset, &amount, &usd, &fee, &feeUSD,
		&t.Status, &t.ChargeID, &t.NetworkTx, &t.Address, &t.IdempotencyKey, &t.Notes,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{{amount, &t.Amount}, {usd, &t.USDValue}, {fee, &t.Fee}, {feeUSD, &t.FeeUSD}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("parse transaction amount: %w", err)
		}
	}
	return t, nil
}
