package service

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidState          = errors.New("trade is not pending")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAlreadyLocked         = errors.New("item is locked by another trade")
	ErrItemsUnavailable      = errors.New("trade items are no longer available")
	ErrGenerationUnavailable = errors.New("item generation unavailable")
	ErrConflictExhausted     = errors.New("transaction conflict retries exhausted")
	ErrInvalidTrade          = errors.New("invalid trade")
	ErrDuplicateRequest      = errors.New("duplicate request")
	ErrProfileUnavailable    = errors.New("profile unavailable")
	ErrInvalidQuery          = errors.New("invalid query")
)
