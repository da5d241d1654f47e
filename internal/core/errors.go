package core

import "errors"

// Outcomes surfaced by the relay core. Callers match with errors.Is.
var (
	ErrNotFound        = errors.New("no live record for token")
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrStorage         = errors.New("storage failure")
	ErrInvalidInput    = errors.New("invalid input")
	ErrTokenRejected   = errors.New("platform token rejected")
)
