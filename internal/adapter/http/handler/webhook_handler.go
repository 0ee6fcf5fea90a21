package handler

import (
	"io"

	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives payment-provider deliveries.
type WebhookHandler struct {
	webhookSvc      ports.WebhookService
	signatureHeader string
}

func NewWebhookHandler(webhookSvc ports.WebhookService, signatureHeader string) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc, signatureHeader: signatureHeader}
}

// Receive handles POST /api/v1/webhooks/payments. The signature covers the
// raw bytes, so the body is read as-is and never re-encoded.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.ErrBadRequest("Cannot read request body"))
		return
	}

	result, err := h.webhookSvc.Ingest(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Acknowledge(c, result.Status)
}
