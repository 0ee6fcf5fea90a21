package domain

import "errors"

// Sentinel errors returned by storage adapters. Services translate them into
// apperror values at the edge.
var (
	ErrInsufficientFunds = errors.New("balance would become negative")
	ErrConflict          = errors.New("row changed concurrently")
	ErrDuplicate         = errors.New("record already exists")
	ErrMalformedEvent    = errors.New("malformed provider event")
)
