package handler

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Представления для Console API: суммы в человекочитаемых единицах токена.

type agentView struct {
	AgentID           common.Hash    `json:"agent_id"`
	Owner             common.Address `json:"owner"`
	AuthorizedCaller  common.Address `json:"authorized_caller"`
	Balance           string         `json:"balance"`
	DailySpent        string         `json:"daily_spent"`
	MonthlySpent      string         `json:"monthly_spent"`
	DailyLimit        string         `json:"daily_limit"`
	MonthlyLimit      string         `json:"monthly_limit"`
	PerTxLimit        string         `json:"per_tx_limit"`
	DailyRemaining    string         `json:"daily_remaining"`
	MonthlyRemaining  string         `json:"monthly_remaining"`
	TotalPayments     uint64         `json:"total_payments"`
	IsActive          bool           `json:"is_active"`
	Paused            bool           `json:"paused"`
	KillSwitched      bool           `json:"kill_switched"`
	RequiresApproval  bool           `json:"requires_approval"`
	ApprovalThreshold string         `json:"approval_threshold"`
	WhitelistEnforced bool           `json:"whitelist_enforced"`
}

func (u Units) agent(s *domain.AgentStats) agentView {
	return agentView{
		AgentID:           s.AgentID,
		Owner:             s.Owner,
		AuthorizedCaller:  s.AuthorizedCaller,
		Balance:           u.Format(&s.Balance),
		DailySpent:        u.Format(&s.DailySpent),
		MonthlySpent:      u.Format(&s.MonthlySpent),
		DailyLimit:        u.Format(&s.DailyLimit),
		MonthlyLimit:      u.Format(&s.MonthlyLimit),
		PerTxLimit:        u.Format(&s.PerTxLimit),
		DailyRemaining:    u.Format(&s.DailyRemaining),
		MonthlyRemaining:  u.Format(&s.MonthlyRemaining),
		TotalPayments:     s.TotalPayments,
		IsActive:          s.IsActive,
		Paused:            s.Paused,
		KillSwitched:      s.KillSwitched,
		RequiresApproval:  s.RequiresApproval,
		ApprovalThreshold: u.Format(&s.ApprovalThreshold),
		WhitelistEnforced: s.WhitelistEnforced,
	}
}

type recordView struct {
	Index       uint64             `json:"index"`
	PaymentID   common.Hash        `json:"payment_id"`
	Recipient   common.Address     `json:"recipient"`
	Amount      string             `json:"amount"`
	Reason      string             `json:"reason"`
	BlockReason domain.BlockReason `json:"block_reason,omitempty"`
	Timestamp   int64              `json:"timestamp"`
	Flagged     bool               `json:"flagged"`
}

type pageView struct {
	Records []recordView `json:"records"`
	Total   uint64       `json:"total"`
	Offset  uint64       `json:"offset"`
	Limit   uint64       `json:"limit"`
	HasMore bool         `json:"has_more"`
}

func (u Units) page(p *domain.PaymentPage) pageView {
	out := pageView{
		Records: make([]recordView, 0, len(p.Records)),
		Total:   p.Total,
		Offset:  p.Offset,
		Limit:   p.Limit,
		HasMore: p.HasMore,
	}
	for i := range p.Records {
		rec := &p.Records[i]
		out.Records = append(out.Records, recordView{
			Index:       rec.Index,
			PaymentID:   rec.PaymentID,
			Recipient:   rec.Recipient,
			Amount:      u.Format(&rec.Amount),
			Reason:      rec.Reason,
			BlockReason: rec.BlockReason,
			Timestamp:   rec.Timestamp,
			Flagged:     rec.Flagged,
		})
	}
	return out
}

type approvalView struct {
	Index      uint64                `json:"index"`
	Recipient  common.Address        `json:"recipient"`
	Amount     string                `json:"amount"`
	Reason     string                `json:"reason"`
	Timestamp  int64                 `json:"timestamp"`
	Status     domain.ApprovalStatus `json:"status"`
	ResolvedBy *common.Address       `json:"resolved_by,omitempty"`
	ResolvedAt int64                 `json:"resolved_at,omitempty"`
}

func (u Units) approval(a *domain.ApprovalRequest) approvalView {
	v := approvalView{
		Index:      a.Index,
		Recipient:  a.Recipient,
		Amount:     u.Format(&a.Amount),
		Reason:     a.Reason,
		Timestamp:  a.Timestamp,
		Status:     a.Status(),
		ResolvedAt: a.ResolvedAt,
	}
	if a.Status() != domain.ApprovalPending {
		by := a.ResolvedBy
		v.ResolvedBy = &by
	}
	return v
}

type checkView struct {
	WouldSucceed bool               `json:"would_succeed"`
	Reason       domain.BlockReason `json:"reason,omitempty"`
	Details      checkDetailsView   `json:"details"`
}

type checkDetailsView struct {
	HasBalance           bool   `json:"has_balance"`
	WithinPerTxLimit     bool   `json:"within_per_tx_limit"`
	WithinDailyLimit     bool   `json:"within_daily_limit"`
	WithinMonthlyLimit   bool   `json:"within_monthly_limit"`
	RecipientWhitelisted *bool  `json:"recipient_whitelisted"`
	RequiresApproval     bool   `json:"requires_approval"`
	CurrentBalance       string `json:"current_balance"`
	RequestedAmount      string `json:"requested_amount"`
}

func (u Units) check(c *domain.PaymentCheck) checkView {
	d := &c.Details
	return checkView{
		WouldSucceed: c.WouldSucceed,
		Reason:       c.Reason,
		Details: checkDetailsView{
			HasBalance:           d.HasBalance,
			WithinPerTxLimit:     d.WithinPerTxLimit,
			WithinDailyLimit:     d.WithinDailyLimit,
			WithinMonthlyLimit:   d.WithinMonthlyLimit,
			RecipientWhitelisted: d.RecipientWhitelisted,
			RequiresApproval:     d.RequiresApproval,
			CurrentBalance:       u.Format(&d.CurrentBalance),
			RequestedAmount:      u.Format(&d.RequestedAmount),
		},
	}
}

type eventView struct {
	ID            string             `json:"id"`
	Type          domain.EventType   `json:"type"`
	Timestamp     int64              `json:"timestamp"`
	Actor         common.Address     `json:"actor"`
	Address       common.Address     `json:"address"`
	Amount        string             `json:"amount,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	BlockReason   domain.BlockReason `json:"block_reason,omitempty"`
	PaymentID     common.Hash        `json:"payment_id"`
	ApprovalIndex uint64             `json:"approval_index,omitempty"`
	PaymentCount  uint64             `json:"payment_count,omitempty"`
	Allowed       bool               `json:"allowed,omitempty"`
	TxRef         string             `json:"tx_ref,omitempty"`
	Error         string             `json:"error,omitempty"`
}

func (u Units) event(e *domain.Event) eventView {
	v := eventView{
		ID:            e.ID,
		Type:          e.Type,
		Timestamp:     e.Timestamp,
		Actor:         e.Actor,
		Address:       e.Address,
		Reason:        e.Reason,
		BlockReason:   e.BlockReason,
		PaymentID:     e.PaymentID,
		ApprovalIndex: e.ApprovalIndex,
		PaymentCount:  e.PaymentCount,
		Allowed:       e.Allowed,
		TxRef:         e.TxRef,
		Error:         e.Error,
	}
	if e.Amount != nil {
		v.Amount = u.Format(e.Amount)
	}
	return v
}
