package domain

import "errors"

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrExpired             = errors.New("grant expired")
	ErrAlreadyTerminal     = errors.New("grant already terminal")
	ErrForbidden           = errors.New("forbidden")
	ErrNoEligibleCandidate = errors.New("no eligible candidate")
	ErrQuotaExhausted      = errors.New("quota exhausted")
	ErrMaxAttemptsReached  = errors.New("max attempts reached")
)
