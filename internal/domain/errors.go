package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuote      = errors.New("invalid quote")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrNoOpenPosition    = errors.New("no open position")
	ErrLockHeld          = errors.New("lock already held")
)
