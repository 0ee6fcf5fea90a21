package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepository owns the (user, asset) balance rows.
// ApplyDelta is the only write path; callers never read-modify-write.
type BalanceRepository interface {
	// ApplyDelta adds delta atomically and returns the new amount. The row is
	// created at zero when absent. Returns domain.ErrInsufficientFunds without
	// mutating anything when the result would be negative.
	ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asset string, delta decimal.Decimal) (decimal.Decimal, error)
	Get(ctx context.Context, userID uuid.UUID, asset string) (*domain.Balance, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
}

// ChargeRepository persists deposit charges.
// Methods accepting pgx.Tx are used inside transaction blocks for per-charge locking.
type ChargeRepository interface {
	Create(ctx context.Context, charge *domain.DepositCharge) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DepositCharge, error)
	GetByProviderID(ctx context.Context, providerID string) (*domain.DepositCharge, error)
	GetByProviderIDForUpdate(ctx context.Context, tx pgx.Tx, providerID string) (*domain.DepositCharge, error)
	UpdateProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.ChargeStatus, confirmations int, networkTx *string) error
	// MarkCredited flips credited false->true and links the ledger entry.
	// Returns domain.ErrConflict when the charge was already credited.
	MarkCredited(ctx context.Context, tx pgx.Tx, id uuid.UUID, transactionID uuid.UUID, confirmations int, networkTx *string) error
}

// TransactionRepository persists ledger entries.
type TransactionRepository interface {
	// Create returns domain.ErrDuplicate when the idempotency key is taken.
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	// UpdateStatus moves from -> to. Returns domain.ErrConflict when the
	// stored status is no longer from.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.TransactionStatus) error
	AppendNote(ctx context.Context, tx pgx.Tx, id uuid.UUID, note string) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   uuid.UUID
	Asset    *string
	Type     *domain.TransactionType
	Status   *domain.TransactionStatus
	Page     int
	PageSize int
}

// AuditRepository appends audit rows.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
