package apperrors

import (
	"errors"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrBalanceInsufficient = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("amount must not be zero")
	ErrNegativeAmount      = errors.New("amount must be positive")

	ErrDepositNotFound      = errors.New("deposit not found")
	ErrDepositAlreadyExists = errors.New("deposit with this external id already exists")
	ErrDepositAlreadyPaid   = errors.New("deposit already paid")
	ErrDepositAlreadyFailed = errors.New("deposit already failed")

	ErrBadSignature = errors.New("webhook signature missing or invalid")

	ErrUnauthenticated = errors.New("authentication required")
)
