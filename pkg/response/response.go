package response

import (
	"errors"
	"net/http"
	"time"

	"custody-ledger/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the standard error envelope. ErrorCode is one of the
// apperror codes (SEC_, REQ_, LED_, UPS_, RATE_, SYS_).
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Ack is the bare acknowledgement returned to webhook senders.
type Ack struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	success(c, http.StatusOK, data)
}

func Created(c *gin.Context, data interface{}) {
	success(c, http.StatusCreated, data)
}

// Acknowledge always answers 200 so the sender does not schedule a redelivery.
func Acknowledge(c *gin.Context, status string) {
	c.JSON(http.StatusOK, Ack{Success: true, Status: status})
}

// Error writes err as an ErrorResponse. Anything that is not an
// *apperror.AppError is reported as SYS_001 without its message. Server-side
// failures are attached to the gin context so the request logger records
// the cause.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.InternalError(err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(appErr.HTTPStatus, ErrorResponse{
		ErrorCode: appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{
		Data:      data,
		RequestID: requestID(c),
		Timestamp: now(),
	})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// requestID prefers the id set by the RequestID middleware, then the echoed
// response header, and only then mints a fresh one.
func requestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	if id := c.Writer.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}
