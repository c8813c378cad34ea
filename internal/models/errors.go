package models

import "errors"

// Store outcomes shared by every OrderStore backend.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrStatusConflict = errors.New("order status conflict")
)
