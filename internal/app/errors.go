package app

import "errors"

// Error kinds surfaced to the HTTP layer. Store and upstream failures are
// wrapped with detail for the logs and mapped to a generic message at the
// edge; these sentinels are the only kinds a client can distinguish.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("invalid input")
	ErrDuplicateBid     = errors.New("you already have a live bid on this listing")
)
