package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// BuildWithdrawalIdempotencyKey scopes a client-supplied Idempotency-Key to its user.
func BuildWithdrawalIdempotencyKey(userID uuid.UUID, clientKey string) string {
	return userID.String() + ":withdrawal:" + clientKey
}

// DeliveryFingerprint identifies a webhook body byte-for-byte.
func DeliveryFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
