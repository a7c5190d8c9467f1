package models

import "errors"

// Domain errors returned as typed results so callers can map them to precise
// user-facing responses. Infrastructure failures are wrapped with operation
// context instead and propagate the caller's retry decision.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInsufficientStock   = errors.New("insufficient stock for this product")
	ErrInvalidStatus       = errors.New("invalid reservation status")
	ErrInvalidQuantity     = errors.New("reservation quantity must be positive")
)
