package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusProcessing, TransactionStatusPending, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if no further status change is accepted.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted ||
		s == TransactionStatusFailed ||
		s == TransactionStatusCancelled
}

// CanMoveTo reports whether an admin may move a transaction from s to next.
// Terminal states never move and processing never returns to pending.
func (s TransactionStatus) CanMoveTo(next TransactionStatus) bool {
	if s.IsTerminal() || !next.Valid() || s == next {
		return false
	}
	return !(s == TransactionStatusProcessing && next == TransactionStatusPending)
}

// Transaction is an immutable ledger entry. Only Status and Notes change after insert.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	Type           TransactionType   `json:"type"`
	Asset          string            `json:"asset"`
	Amount         decimal.Decimal   `json:"amount"`
	USDValue       decimal.Decimal   `json:"usd_value"`
	Fee            decimal.Decimal   `json:"fee"`
	FeeUSD         decimal.Decimal   `json:"fee_usd"`
	Status         TransactionStatus `json:"status"`
	ChargeID       *uuid.UUID        `json:"charge_id,omitempty"`
	NetworkTx      *string           `json:"network_tx,omitempty"`
	Address        *string           `json:"address,omitempty"`
	IdempotencyKey *string           `json:"-"`
	Notes          []string          `json:"notes"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// RefundDue reports whether moving to next must return the debited funds.
// Only withdrawals that have not already been failed or cancelled qualify.
func (t *Transaction) RefundDue(next TransactionStatus) bool {
	if t.Type != TransactionTypeWithdrawal {
		return false
	}
	if next != TransactionStatusFailed && next != TransactionStatusCancelled {
		return false
	}
	return t.Status != TransactionStatusFailed && t.Status != TransactionStatusCancelled
}

// Debit is the total removed from the balance when the withdrawal was requested.
func (t *Transaction) Debit() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}
