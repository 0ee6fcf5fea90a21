package dto

import (
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Requests ---

// Decimal fields accept both JSON strings and numbers; range checks live in
// the services, which know the per-asset rules.

type CreateDepositRequest struct {
	Asset     string          `json:"asset" binding:"required,alphanum,max=10"`
	USDAmount decimal.Decimal `json:"usd_amount"`
}

type WithdrawalRequest struct {
	Asset   string          `json:"asset" binding:"required,alphanum,max=10"`
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address" binding:"required,max=128,safe_id"`
}

type AdjustmentRequest struct {
	UserID string          `json:"user_id" binding:"required,uuid"`
	Asset  string          `json:"asset" binding:"required,alphanum,max=10"`
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" binding:"required,max=500"`
}

type StatusUpdateRequest struct {
	Status string `json:"status" binding:"required,oneof=pending processing completed failed cancelled"`
	Note   string `json:"note" binding:"max=1000"`
}

type NoteRequest struct {
	Note string `json:"note" binding:"required,max=1000"`
}

type ListTransactionsQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Asset    string `form:"asset" binding:"omitempty,alphanum,max=10"`
	Type     string `form:"type" binding:"omitempty,oneof=deposit withdrawal"`
	Status   string `form:"status" binding:"omitempty,oneof=pending processing completed failed cancelled"`
}

// --- Responses ---

type DepositChargeResponse struct {
	ID            uuid.UUID       `json:"id"`
	Code          string          `json:"code"`
	Asset         string          `json:"asset"`
	USDAmount     decimal.Decimal `json:"usd_amount"`
	CryptoAmount  decimal.Decimal `json:"crypto_amount"`
	Address       string          `json:"address"`
	HostedURL     string          `json:"hosted_url"`
	Status        string          `json:"status"`
	Confirmations int             `json:"confirmations"`
	Required      int             `json:"confirmations_required"`
	Credited      bool            `json:"credited"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

func NewDepositChargeResponse(c *domain.DepositCharge) DepositChargeResponse {
	return DepositChargeResponse{
		ID:            c.ID,
		Code:          c.Code,
		Asset:         c.Asset,
		USDAmount:     c.USDAmount,
		CryptoAmount:  c.CryptoAmount,
		Address:       c.Address,
		HostedURL:     c.HostedURL,
		Status:        string(c.Status),
		Confirmations: c.Confirmations,
		Required:      c.ConfirmThreshold,
		Credited:      c.Credited,
		TransactionID: c.TransactionID,
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
	}
}

type BalanceResponse struct {
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewBalanceResponses(balances []domain.Balance) []BalanceResponse {
	out := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, BalanceResponse{Asset: b.Asset, Amount: b.Amount, UpdatedAt: b.UpdatedAt})
	}
	return out
}

type TransactionResponse struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	USDValue  decimal.Decimal `json:"usd_value"`
	Fee       decimal.Decimal `json:"fee"`
	FeeUSD    decimal.Decimal `json:"fee_usd"`
	Status    string          `json:"status"`
	ChargeID  *uuid.UUID      `json:"charge_id,omitempty"`
	NetworkTx *string         `json:"network_tx,omitempty"`
	Address   *string         `json:"address,omitempty"`
	Notes     []string        `json:"notes"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func NewTransactionResponse(t *domain.Transaction) TransactionResponse {
	notes := t.Notes
	if notes == nil {
		notes = []string{}
	}
	return TransactionResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Type:      string(t.Type),
		Asset:     t.Asset,
		Amount:    t.Amount,
		USDValue:  t.USDValue,
		Fee:       t.Fee,
		FeeUSD:    t.FeeUSD,
		Status:    string(t.Status),
		ChargeID:  t.ChargeID,
		NetworkTx: t.NetworkTx,
		Address:   t.Address,
		Notes:     notes,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Pagination   Pagination            `json:"pagination"`
}

type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}
