package sentinel

import "errors"

// Sentinel dependency errors. Dependencies should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrExpired          = errors.New("expired")
	ErrAlreadyUsed      = errors.New("already used")
	ErrInvalidState     = errors.New("invalid state")
	ErrStatusRegression = errors.New("status regression")
	ErrUnavailable      = errors.New("unavailable")
)
