package crm

import "errors"

// Sentinel errors for store operations.
var (
	ErrNotFound       = errors.New("crm: booking not found")
	ErrDuplicatePnr   = errors.New("crm: duplicate pnr")
	ErrInvalidBooking = errors.New("crm: invalid booking")
)
