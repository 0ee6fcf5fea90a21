package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler exposes manual ledger operations. Routes sit behind
// RequireRole(admin).
type AdminHandler struct {
	ledgerSvc ports.LedgerService
}

func NewAdminHandler(ledgerSvc ports.LedgerService) *AdminHandler {
	return &AdminHandler{ledgerSvc: ledgerSvc}
}

// AdjustBalance handles POST /api/v1/admin/adjustments.
func (h *AdminHandler) AdjustBalance(c *gin.Context) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid user_id"))
		return
	}

	txn, err := h.ledgerSvc.AdjustBalance(c.Request.Context(), ports.AdjustmentRequest{
		AdminID: adminID,
		UserID:  userID,
		Asset:   req.Asset,
		Delta:   req.Delta,
		Reason:  req.Reason,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewTransactionResponse(txn))
}

// UpdateStatus handles PATCH /api/v1/admin/transactions/:id/status.
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.ledgerSvc.UpdateTransactionStatus(c.Request.Context(), ports.StatusUpdateRequest{
		AdminID:       adminID,
		TransactionID: txID,
		Status:        domain.TransactionStatus(req.Status),
		Note:          req.Note,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(txn))
}

// AppendNote handles POST /api/v1/admin/transactions/:id/notes.
func (h *AdminHandler) AppendNote(c *gin.Context) {
	adminID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	txn, err := h.ledgerSvc.AppendNote(c.Request.Context(), adminID, txID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewTransactionResponse(txn))
}
