package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Limits — потолки расходов агента в минимальных единицах токена.
type Limits struct {
	PerTransaction uint256.Int `json:"per_transaction"`
	Daily          uint256.Int `json:"daily"`
	Monthly        uint256.Int `json:"monthly"`
}

// Validate требует 0 < perTx <= daily <= monthly.
func (l *Limits) Validate() error {
	if l.PerTransaction.IsZero() || l.Daily.IsZero() || l.Monthly.IsZero() {
		return ErrInvalidLimits
	}
	if l.PerTransaction.Gt(&l.Daily) || l.Daily.Gt(&l.Monthly) {
		return ErrInvalidLimits
	}
	return nil
}

// AgentConfig — параметры регистрации агента.
type AgentConfig struct {
	Limits
	RequiresApproval  bool           `json:"requires_approval"`
	ApprovalThreshold uint256.Int    `json:"approval_threshold"`
	AuthorizedCaller  common.Address `json:"authorized_caller"`
}

// Agent — запись реестра. Ключ — 256-битный идентификатор.
type Agent struct {
	ID    common.Hash    `json:"id"`
	Owner common.Address `json:"owner"`

	PerTransactionLimit uint256.Int `json:"per_transaction_limit"`
	DailyLimit          uint256.Int `json:"daily_limit"`
	MonthlyLimit        uint256.Int `json:"monthly_limit"`

	// Счетчики окон сбрасываются лениво (см. policy.Refresh)
	DailySpent     uint256.Int `json:"daily_spent"`
	MonthlySpent   uint256.Int `json:"monthly_spent"`
	LastDayReset   int64       `json:"last_day_reset"`
	LastMonthReset int64       `json:"last_month_reset"`

	RequiresApproval  bool           `json:"requires_approval"`
	ApprovalThreshold uint256.Int    `json:"approval_threshold"`
	IsActive          bool           `json:"is_active"`
	AuthorizedCaller  common.Address `json:"authorized_caller"`

	RegisteredAt int64 `json:"registered_at"`
}

// SetLimits переносит проверенные лимиты в запись агента.
func (a *Agent) SetLimits(l Limits) {
	a.PerTransactionLimit.Set(&l.PerTransaction)
	a.DailyLimit.Set(&l.Daily)
	a.MonthlyLimit.Set(&l.Monthly)
}

// AgentStats — агрегат для Query-поверхности (getAgentStats).
type AgentStats struct {
	AgentID          common.Hash    `json:"agent_id"`
	Owner            common.Address `json:"owner"`
	AuthorizedCaller common.Address `json:"authorized_caller"`

	Balance          uint256.Int `json:"balance"`
	DailySpent       uint256.Int `json:"daily_spent"`
	MonthlySpent     uint256.Int `json:"monthly_spent"`
	DailyLimit       uint256.Int `json:"daily_limit"`
	MonthlyLimit     uint256.Int `json:"monthly_limit"`
	PerTxLimit       uint256.Int `json:"per_tx_limit"`
	DailyRemaining   uint256.Int `json:"daily_remaining"`
	MonthlyRemaining uint256.Int `json:"monthly_remaining"`

	TotalPayments     uint64      `json:"total_payments"`
	// IsActive — агент может платить: нет ни паузы владельца, ни kill-switch
	IsActive          bool        `json:"is_active"`
	Paused            bool        `json:"paused"`
	KillSwitched      bool        `json:"kill_switched"`
	RequiresApproval  bool        `json:"requires_approval"`
	ApprovalThreshold uint256.Int `json:"approval_threshold"`
	WhitelistEnforced bool        `json:"whitelist_enforced"`
}
