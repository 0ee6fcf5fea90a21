package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Security & Authentication (SEC) ----

func ErrUnauthorized() *AppError {
	return New("SEC_001", "Missing or invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("SEC_002", "Invalid signature", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("SEC_003", "Insufficient privileges", http.StatusForbidden)
}

func ErrInvalidToken() *AppError {
	return New("SEC_004", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Request validation (REQ) ----

func ErrBadRequest(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}

func ErrUnsupportedAsset(asset string) *AppError {
	return New("REQ_002", fmt.Sprintf("Unsupported asset %q", asset), http.StatusBadRequest)
}

func ErrBelowMinimum(minimum string) *AppError {
	return New("REQ_003", fmt.Sprintf("Amount is below the minimum of %s", minimum), http.StatusBadRequest)
}

func ErrBodyTooLarge(limit int64) *AppError {
	return New("REQ_004", fmt.Sprintf("Request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

// Validation returns a REQ_001 validation error.
func Validation(message string) *AppError {
	return ErrBadRequest(message)
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Insufficient balance", http.StatusPaymentRequired)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_002", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrPersistenceConflict(err error) *AppError {
	return Wrap("LED_003", "Concurrent update detected, retry the operation", http.StatusConflict, err)
}

func ErrInvalidStatusTransition(from, to string) *AppError {
	return New("LED_004", fmt.Sprintf("Cannot move transaction from %s to %s", from, to), http.StatusConflict)
}

// ---- Upstream collaborators (UPS) ----

func ErrUpstreamUnavailable(service string, err error) *AppError {
	return Wrap("UPS_001", fmt.Sprintf("%s is unavailable", service), http.StatusServiceUnavailable, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
