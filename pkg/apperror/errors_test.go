package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_001", "Insufficient balance", http.StatusPaymentRequired),
			expected: "[LED_001] Insufficient balance",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("LED_001", "test", http.StatusBadRequest).Unwrap())
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"Unauthorized", ErrUnauthorized(), "SEC_001", 401},
		{"InvalidSignature", ErrInvalidSignature(), "SEC_002", 401},
		{"Forbidden", ErrForbidden(), "SEC_003", 403},
		{"InvalidToken", ErrInvalidToken(), "SEC_004", 401},
		{"BadRequest", ErrBadRequest("bad"), "REQ_001", 400},
		{"UnsupportedAsset", ErrUnsupportedAsset("DOGE"), "REQ_002", 400},
		{"BelowMinimum", ErrBelowMinimum("0.01"), "REQ_003", 400},
		{"BodyTooLarge", ErrBodyTooLarge(1024), "REQ_004", 413},
		{"InsufficientFunds", ErrInsufficientFunds(), "LED_001", 402},
		{"NotFound", ErrNotFound("Charge"), "LED_002", 404},
		{"PersistenceConflict", ErrPersistenceConflict(nil), "LED_003", 409},
		{"InvalidStatusTransition", ErrInvalidStatusTransition("completed", "pending"), "LED_004", 409},
		{"UpstreamUnavailable", ErrUpstreamUnavailable("price feed", nil), "UPS_001", 503},
		{"RateLimit", ErrRateLimitExceeded(), "RATE_001", 429},
		{"Internal", InternalError(nil), "SYS_001", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestMessagesNameTheSubject(t *testing.T) {
	assert.Contains(t, ErrNotFound("Charge").Message, "Charge")
	assert.Contains(t, ErrUnsupportedAsset("DOGE").Message, "DOGE")
	assert.Contains(t, ErrBelowMinimum("0.01").Message, "0.01")
}

func TestWrappedSentinelsStayVisible(t *testing.T) {
	sentinel := errors.New("row version changed")
	err := ErrPersistenceConflict(sentinel)
	assert.ErrorIs(t, err, sentinel)
}
