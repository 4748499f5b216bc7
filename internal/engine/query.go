package engine

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/policy"
)

// GetAgentStats отдает агрегат по агенту. Окна расходов показываются уже с учетом
// ленивого сброса, сама запись при этом не меняется.
func (v *Vault) GetAgentStats(ctx context.Context, id common.Hash) (domain.AgentStats, error) {
	st, err := v.rlock(ctx, id)
	if err != nil {
		return domain.AgentStats{}, err
	}
	defer st.mu.RUnlock()
	return st.stats(v.clock.Now()), nil
}

// ListAgents — статистика по всем агентам в стабильном порядке id.
func (v *Vault) ListAgents(ctx context.Context) ([]domain.AgentStats, error) {
	ids := v.store.ids()
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })

	out := make([]domain.AgentStats, 0, len(ids))
	for _, id := range ids {
		s, err := v.GetAgentStats(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (st *agentState) stats(now int64) domain.AgentStats {
	a := st.agent
	policy.Refresh(&a, now)

	s := domain.AgentStats{
		AgentID:           a.ID,
		Owner:             a.Owner,
		AuthorizedCaller:  a.AuthorizedCaller,
		TotalPayments:     st.totalPayments,
		IsActive:          a.IsActive && !st.killSwitched,
		Paused:            !a.IsActive,
		KillSwitched:      st.killSwitched,
		RequiresApproval:  a.RequiresApproval,
		WhitelistEnforced: st.whitelistEnforced,
	}
	s.Balance.Set(&st.balance)
	s.DailySpent.Set(&a.DailySpent)
	s.MonthlySpent.Set(&a.MonthlySpent)
	s.DailyLimit.Set(&a.DailyLimit)
	s.MonthlyLimit.Set(&a.MonthlyLimit)
	s.PerTxLimit.Set(&a.PerTransactionLimit)
	s.ApprovalThreshold.Set(&a.ApprovalThreshold)
	remaining(&s.DailyRemaining, &a.DailyLimit, &a.DailySpent)
	remaining(&s.MonthlyRemaining, &a.MonthlyLimit, &a.MonthlySpent)
	return s
}

// remaining: limit - spent с насыщением в ноль (лимит могли понизить ниже потраченного).
func remaining(dst, limit, spent *uint256.Int) {
	if spent.Gt(limit) {
		dst.Clear()
		return
	}
	dst.Sub(limit, spent)
}

// GetPaymentHistory — страница журнала от старых записей к новым.
// limit = 0 означает лимит по умолчанию, больше максимума — обрезается.
func (v *Vault) GetPaymentHistory(ctx context.Context, id common.Hash, offset, limit uint64) (domain.PaymentPage, error) {
	if limit == 0 {
		limit = v.settings.HistoryDefaultLimit
	}
	limit = min(limit, v.settings.HistoryMaxLimit)

	st, err := v.rlock(ctx, id)
	if err != nil {
		return domain.PaymentPage{}, err
	}
	defer st.mu.RUnlock()

	total := uint64(len(st.history))
	page := domain.PaymentPage{
		Records: []domain.PaymentRecord{},
		Total:   total,
		Offset:  offset,
		Limit:   limit,
	}
	if offset >= total {
		return page, nil
	}
	end := min(offset+limit, total)
	page.Records = append(page.Records, st.history[offset:end]...)
	page.HasMore = end < total
	return page, nil
}

func (v *Vault) IsWhitelisted(ctx context.Context, id common.Hash, addr common.Address) (bool, error) {
	st, err := v.rlock(ctx, id)
	if err != nil {
		return false, err
	}
	defer st.mu.RUnlock()
	return st.whitelist[addr], nil
}

func (v *Vault) IsWhitelistEnforced(ctx context.Context, id common.Hash) (bool, error) {
	st, err := v.rlock(ctx, id)
	if err != nil {
		return false, err
	}
	defer st.mu.RUnlock()
	return st.whitelistEnforced, nil
}
