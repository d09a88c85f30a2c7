package model

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyInProgress = errors.New("already in progress")
	ErrAlreadyTerminal   = errors.New("already terminal")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrProvider          = errors.New("provider failure")
	ErrStorage           = errors.New("storage unavailable")
	ErrLocked            = errors.New("locked")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrCancelled         = errors.New("job cancelled")
)
