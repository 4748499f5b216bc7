package policy

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Snapshot — согласованный срез состояния одного агента, над которым работает Safety Gate.
// Gate ничего в нем не меняет: мутации выполняет движок после решения.
type Snapshot struct {
	Agent             *domain.Agent // уже после Refresh
	Balance           *uint256.Int
	Rate              RateWindow
	Recent            RecentPayments
	WhitelistEnforced bool
	Whitelist         map[common.Address]bool
	// KillSwitched — блокировка оператора, независимая от паузы владельца
	KillSwitched bool
}

// Request — попытка платежа.
type Request struct {
	Caller    common.Address
	Recipient common.Address
	Amount    *uint256.Int
	Reason    string

	// SkipDuplicate — симулятор без reason не может вычислить ключ дубликата
	SkipDuplicate bool
}

// Decision — результат прохода по цепочке проверок.
type Decision struct {
	Allowed          bool
	Reason           domain.BlockReason
	Fingerprint      common.Hash
	PaymentCount     uint64 // платежей в текущем бакете до этой попытки
	RequiresApproval bool
}

type check struct {
	reason domain.BlockReason
	fails  func(s *Snapshot, r *Request, now int64) bool
}

// Порядок фиксирован: первая сработавшая проверка определяет причину.
var checks = []check{
	{domain.ReasonAgentNotActive, func(s *Snapshot, _ *Request, _ int64) bool {
		return !s.Agent.IsActive || s.KillSwitched
	}},
	{domain.ReasonNotAuthorized, func(s *Snapshot, r *Request, _ int64) bool {
		return r.Caller != s.Agent.AuthorizedCaller
	}},
	{domain.ReasonNotWhitelisted, func(s *Snapshot, r *Request, _ int64) bool {
		return s.WhitelistEnforced && !s.Whitelist[r.Recipient]
	}},
	{domain.ReasonCircuitBreaker, func(s *Snapshot, _ *Request, now int64) bool {
		return s.Rate.CountAt(now)+1 > MaxPaymentsPerMinute
	}},
	{domain.ReasonDuplicatePayment, func(s *Snapshot, r *Request, now int64) bool {
		if r.SkipDuplicate {
			return false
		}
		return s.Recent.Seen(Fingerprint(r.Recipient, r.Amount, r.Reason), now)
	}},
	{domain.ReasonInsufficientBalance, func(s *Snapshot, r *Request, _ int64) bool {
		return s.Balance.Lt(r.Amount)
	}},
	{domain.ReasonExceedsPerTxLimit, func(s *Snapshot, r *Request, _ int64) bool {
		return r.Amount.Gt(&s.Agent.PerTransactionLimit)
	}},
	{domain.ReasonExceedsDailyLimit, func(s *Snapshot, r *Request, _ int64) bool {
		return exceeds(&s.Agent.DailySpent, r.Amount, &s.Agent.DailyLimit)
	}},
	{domain.ReasonExceedsMonthlyLimit, func(s *Snapshot, r *Request, _ int64) bool {
		return exceeds(&s.Agent.MonthlySpent, r.Amount, &s.Agent.MonthlyLimit)
	}},
}

// exceeds: spent + amount > limit, переполнение тоже считается превышением.
func exceeds(spent, amount, limit *uint256.Int) bool {
	sum, overflow := new(uint256.Int).AddOverflow(spent, amount)
	return overflow || sum.Gt(limit)
}

// Evaluate прогоняет все проверки по порядку и останавливается на первой неудаче.
// Одна и та же функция обслуживает и исполнение, и симулятор checkPayment.
func Evaluate(s *Snapshot, req Request, now int64) Decision {
	d := Decision{
		Fingerprint:  Fingerprint(req.Recipient, req.Amount, req.Reason),
		PaymentCount: s.Rate.CountAt(now),
	}
	for _, c := range checks {
		if c.fails(s, &req, now) {
			d.Reason = c.reason
			return d
		}
	}
	d.Allowed = true
	d.RequiresApproval = s.Agent.RequiresApproval && req.Amount.Cmp(&s.Agent.ApprovalThreshold) >= 0
	return d
}

// Inspect раскладывает лимитные условия по отдельности для UI.
func Inspect(s *Snapshot, req Request) domain.CheckDetails {
	d := domain.CheckDetails{
		HasBalance:         !s.Balance.Lt(req.Amount),
		WithinPerTxLimit:   !req.Amount.Gt(&s.Agent.PerTransactionLimit),
		WithinDailyLimit:   !exceeds(&s.Agent.DailySpent, req.Amount, &s.Agent.DailyLimit),
		WithinMonthlyLimit: !exceeds(&s.Agent.MonthlySpent, req.Amount, &s.Agent.MonthlyLimit),
		RequiresApproval:   s.Agent.RequiresApproval && req.Amount.Cmp(&s.Agent.ApprovalThreshold) >= 0,
	}
	if s.WhitelistEnforced {
		ok := s.Whitelist[req.Recipient]
		d.RecipientWhitelisted = &ok
	}
	d.CurrentBalance.Set(s.Balance)
	d.RequestedAmount.Set(req.Amount)
	return d
}
