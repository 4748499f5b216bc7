package domain

import "errors"

// Структурные ошибки: вызов отклоняется сразу, состояние не меняется.
// Блокировки политики (BlockReason) ошибками не являются.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyRegistered   = errors.New("agent already registered")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrAlreadyResolved     = errors.New("approval request already resolved")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidReason       = errors.New("invalid reason")
	ErrInvalidLimits       = errors.New("invalid limits")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLedger оборачивает отказ внешнего Token Ledger.
	ErrLedger = errors.New("token ledger failure")
)
