package models

import "errors"

// Sentinel errors shared by services and mapped to HTTP statuses by the handlers.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrOfferNotActive    = errors.New("offer is not active")
	ErrRateLimited       = errors.New("rate limit exceeded")
)
