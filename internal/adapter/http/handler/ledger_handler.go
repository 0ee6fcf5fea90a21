package handler

import (
	"math"

	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// LedgerHandler serves a user's balances, history and withdrawals.
type LedgerHandler struct {
	ledgerSvc ports.LedgerService
}

func NewLedgerHandler(ledgerSvc ports.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc}
}

// ListBalances handles GET /api/v1/balances.
func (h *LedgerHandler) ListBalances(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	balances, err := h.ledgerSvc.ListBalances(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewBalanceResponses(balances))
}

// ListTransactions handles GET /api/v1/transactions.
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.ListTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = 20
	}

	params := ports.TransactionListParams{
		UserID:   userID,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if q.Asset != "" {
		params.Asset = &q.Asset
	}
	if q.Type != "" {
		t := domain.TransactionType(q.Type)
		params.Type = &t
	}
	if q.Status != "" {
		s := domain.TransactionStatus(q.Status)
		params.Status = &s
	}

	txns, total, err := h.ledgerSvc.ListTransactions(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, dto.NewTransactionResponse(&txns[i]))
	}

	response.OK(c, dto.TransactionListResponse{
		Transactions: items,
		Pagination: dto.Pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(q.PageSize))),
		},
	})
}

// RequestWithdrawal handles POST /api/v1/withdrawals. A repeated
// Idempotency-Key returns the original withdrawal.
func (h *LedgerHandler) RequestWithdrawal(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	key := c.GetHeader(HeaderIdempotencyKey)
	if !dto.ValidIdempotencyKey(key) {
		response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
		return
	}

	var req dto.WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.ledgerSvc.RequestWithdrawal(c.Request.Context(), ports.WithdrawalRequest{
		UserID:         userID,
		Asset:          req.Asset,
		Amount:         req.Amount,
		Address:        req.Address,
		IdempotencyKey: key,
		Origin:         middleware.RequestOrigin(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewTransactionResponse(txn))
}
