package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrVersionConflict     = errors.New("version conflict")
	ErrConcurrencyConflict = errors.New("concurrency conflict, retry later")
	ErrPersistence         = errors.New("persistence failure")
	ErrLockHeld            = errors.New("lock already held")
)
