package middleware

import (
	"net/http"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// AuditDenied records requests refused with 401 or 403 on protected routes.
// Successful writes are audited by the services with domain detail.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}

		entry := &domain.AuditLog{
			Action: domain.AuditActionAccessDenied,
			Metadata: map[string]interface{}{
				"method":     c.Request.Method,
				"path":       c.FullPath(),
				"status":     status,
				"request_id": c.GetString(CtxRequestID),
			},
			Origin: RequestOrigin(c),
		}
		if id, ok := UserID(c); ok {
			entry.ActorID = &id
		}
		auditSvc.Log(c.Request.Context(), entry)
	}
}
