package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Статусы State Machine заявки на подтверждение
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest — платеж, отложенный до ручного решения (HITL).
// Executed/Rejected взаимоисключающие и терминальные.
type ApprovalRequest struct {
	Index     uint64         `json:"index"`
	AgentID   common.Hash    `json:"agent_id"`
	Recipient common.Address `json:"recipient"`
	Amount    uint256.Int    `json:"amount"`
	Reason    string         `json:"reason"`
	Timestamp int64          `json:"timestamp"`
	Executed  bool           `json:"executed"`
	Rejected  bool           `json:"rejected"`

	ResolvedBy common.Address `json:"resolved_by"`
	ResolvedAt int64          `json:"resolved_at,omitempty"`
}

func (a *ApprovalRequest) Status() ApprovalStatus {
	switch {
	case a.Executed:
		return ApprovalExecuted
	case a.Rejected:
		return ApprovalRejected
	default:
		return ApprovalPending
	}
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Executed || a.Rejected {
		return ErrAlreadyResolved
	}
	if next == ApprovalPending {
		return ErrInvalidInput
	}
	return nil
}

// Resolve фиксирует терминальное состояние. Вызывающий обязан сначала пройти CanTransitionTo.
func (a *ApprovalRequest) Resolve(next ApprovalStatus, by common.Address, at int64) {
	switch next {
	case ApprovalExecuted:
		a.Executed = true
	case ApprovalRejected:
		a.Rejected = true
	}
	a.ResolvedBy = by
	a.ResolvedAt = at
}
