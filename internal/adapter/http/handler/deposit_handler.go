package handler

import (
	"custody-ledger/internal/adapter/http/dto"
	"custody-ledger/internal/adapter/http/middleware"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DepositHandler opens deposit charges and reports their progress.
type DepositHandler struct {
	chargeSvc ports.ChargeService
}

func NewDepositHandler(chargeSvc ports.ChargeService) *DepositHandler {
	return &DepositHandler{chargeSvc: chargeSvc}
}

// Create handles POST /api/v1/deposits.
func (h *DepositHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	charge, err := h.chargeSvc.CreateCharge(c.Request.Context(), ports.CreateChargeRequest{
		UserID:    userID,
		Asset:     req.Asset,
		USDAmount: req.USDAmount,
		Origin:    middleware.RequestOrigin(c),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewDepositChargeResponse(charge))
}

// Get handles GET /api/v1/deposits/:id. Other users' charges read as not found.
func (h *DepositHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	chargeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid deposit id"))
		return
	}

	charge, err := h.chargeSvc.GetCharge(c.Request.Context(), userID, chargeID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.NewDepositChargeResponse(charge))
}
