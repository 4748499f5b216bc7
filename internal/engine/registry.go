package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Register создает агента. Владельцем становится caller, окна расходов стартуют в момент регистрации.
func (v *Vault) Register(ctx context.Context, caller common.Address, id common.Hash, cfg domain.AgentConfig) error {
	const op = "register"
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == (common.Hash{}) {
		return v.fail(op, id, fmt.Errorf("zero agent id: %w", domain.ErrInvalidInput))
	}
	if err := validateAddress(caller); err != nil {
		return v.fail(op, id, fmt.Errorf("owner: %w", err))
	}
	if err := validateAddress(cfg.AuthorizedCaller); err != nil {
		return v.fail(op, id, fmt.Errorf("authorized caller: %w", err))
	}
	if err := cfg.Limits.Validate(); err != nil {
		return v.fail(op, id, err)
	}

	now := v.clock.Now()
	a := domain.Agent{
		ID:               id,
		Owner:            caller,
		LastDayReset:     now,
		LastMonthReset:   now,
		RequiresApproval: cfg.RequiresApproval,
		IsActive:         true,
		AuthorizedCaller: cfg.AuthorizedCaller,
		RegisteredAt:     now,
	}
	a.SetLimits(cfg.Limits)
	a.ApprovalThreshold.Set(&cfg.ApprovalThreshold)

	st := newAgentState(a)
	// Событие уходит под блокировкой нового агента, чтобы опередить любые его операции
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := v.store.insert(id, st); err != nil {
		return v.fail(op, id, err)
	}

	v.emit(domain.Event{
		Type:      domain.EventAgentRegistered,
		AgentID:   id,
		Timestamp: now,
		Actor:     caller,
		Address:   cfg.AuthorizedCaller,
	})
	v.logger.Info("agent registered",
		zap.String("agent_id", id.Hex()),
		zap.String("owner", caller.Hex()),
		zap.String("authorized_caller", cfg.AuthorizedCaller.Hex()),
	)
	return nil
}

func (v *Vault) UpdateLimits(ctx context.Context, caller common.Address, id common.Hash, l domain.Limits) error {
	if err := l.Validate(); err != nil {
		return v.fail("update_limits", id, err)
	}
	return v.ownerOp(ctx, "update_limits", caller, id, func(st *agentState, now int64) error {
		st.agent.SetLimits(l)
		v.configUpdated(st, caller, now)
		return nil
	})
}

func (v *Vault) UpdateApprovalSettings(ctx context.Context, caller common.Address, id common.Hash, requiresApproval bool, threshold *uint256.Int) error {
	if threshold == nil {
		return v.fail("update_approval_settings", id, fmt.Errorf("threshold: %w", domain.ErrInvalidAmount))
	}
	return v.ownerOp(ctx, "update_approval_settings", caller, id, func(st *agentState, now int64) error {
		st.agent.RequiresApproval = requiresApproval
		st.agent.ApprovalThreshold.Set(threshold)
		v.configUpdated(st, caller, now)
		return nil
	})
}

func (v *Vault) UpdateAuthorizedCaller(ctx context.Context, caller common.Address, id common.Hash, newCaller common.Address) error {
	if err := validateAddress(newCaller); err != nil {
		return v.fail("update_authorized_caller", id, fmt.Errorf("authorized caller: %w", err))
	}
	return v.ownerOp(ctx, "update_authorized_caller", caller, id, func(st *agentState, now int64) error {
		st.agent.AuthorizedCaller = newCaller
		v.configUpdated(st, caller, now)
		return nil
	})
}

func (v *Vault) configUpdated(st *agentState, caller common.Address, now int64) {
	v.emit(domain.Event{
		Type:      domain.EventAgentConfigUpdated,
		AgentID:   st.agent.ID,
		Timestamp: now,
		Actor:     caller,
		Address:   st.agent.AuthorizedCaller,
	})
}

func (v *Vault) Pause(ctx context.Context, caller common.Address, id common.Hash) error {
	return v.ownerOp(ctx, "pause", caller, id, func(st *agentState, now int64) error {
		v.setActive(st, false, caller, now)
		return nil
	})
}

func (v *Vault) Resume(ctx context.Context, caller common.Address, id common.Hash) error {
	return v.ownerOp(ctx, "resume", caller, id, func(st *agentState, now int64) error {
		v.setActive(st, true, caller, now)
		return nil
	})
}

// KillSwitch — аварийная остановка/возобновление агента оператором платформы, в обход владельца.
// Флаг независим от паузы владельца: Resume его не снимает, а снятие не отменяет паузу.
func (v *Vault) KillSwitch(ctx context.Context, id common.Hash, engaged bool) error {
	st, err := v.lock(ctx, id)
	if err != nil {
		return v.fail("kill_switch", id, err)
	}
	defer st.mu.Unlock()

	// Повторный сигнал (например, ресинк после переподключения) не порождает событий
	if st.killSwitched == engaged {
		return nil
	}
	st.killSwitched = engaged
	typ := domain.EventAgentPaused
	if !engaged {
		typ = domain.EventAgentResumed
	}
	v.emit(domain.Event{
		Type:      typ,
		AgentID:   id,
		Timestamp: v.clock.Now(),
		Reason:    "kill-switch",
	})
	v.logger.Warn("kill-switch signal applied",
		zap.String("agent_id", id.Hex()),
		zap.Bool("engaged", engaged),
		zap.Bool("owner_paused", !st.agent.IsActive),
	)
	return nil
}

// KillSwitchedAgents — агенты этого инстанса под блокировкой оператора.
func (v *Vault) KillSwitchedAgents(ctx context.Context) []common.Hash {
	var out []common.Hash
	for _, id := range v.store.ids() {
		st, err := v.rlock(ctx, id)
		if err != nil {
			continue
		}
		if st.killSwitched {
			out = append(out, id)
		}
		st.mu.RUnlock()
	}
	return out
}

func (v *Vault) setActive(st *agentState, active bool, actor common.Address, now int64) {
	st.agent.IsActive = active
	typ := domain.EventAgentPaused
	if active {
		typ = domain.EventAgentResumed
	}
	v.emit(domain.Event{
		Type:      typ,
		AgentID:   st.agent.ID,
		Timestamp: now,
		Actor:     actor,
	})
}

func (v *Vault) SetWhitelist(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, allowed bool) error {
	return v.BatchSetWhitelist(ctx, caller, id, []common.Address{recipient}, []bool{allowed})
}

// BatchSetWhitelist применяет все записи атомарно: при любой невалидной записи не меняется ничего.
func (v *Vault) BatchSetWhitelist(ctx context.Context, caller common.Address, id common.Hash, recipients []common.Address, allowed []bool) error {
	const op = "set_whitelist"
	if len(recipients) == 0 || len(recipients) != len(allowed) {
		return v.fail(op, id, fmt.Errorf("%d recipients, %d flags: %w", len(recipients), len(allowed), domain.ErrInvalidInput))
	}
	for _, r := range recipients {
		if err := validateAddress(r); err != nil {
			return v.fail(op, id, fmt.Errorf("recipient: %w", err))
		}
	}
	return v.ownerOp(ctx, op, caller, id, func(st *agentState, now int64) error {
		for i, r := range recipients {
			if allowed[i] {
				st.whitelist[r] = true
			} else {
				delete(st.whitelist, r)
			}
			v.emit(domain.Event{
				Type:      domain.EventWhitelistUpdated,
				AgentID:   id,
				Timestamp: now,
				Actor:     caller,
				Address:   r,
				Allowed:   allowed[i],
			})
		}
		return nil
	})
}

func (v *Vault) SetWhitelistEnforced(ctx context.Context, caller common.Address, id common.Hash, enforced bool) error {
	return v.ownerOp(ctx, "set_whitelist_enforced", caller, id, func(st *agentState, now int64) error {
		st.whitelistEnforced = enforced
		v.emit(domain.Event{
			Type:      domain.EventAgentConfigUpdated,
			AgentID:   id,
			Timestamp: now,
			Actor:     caller,
			Address:   st.agent.AuthorizedCaller,
			Allowed:   enforced,
			Reason:    "whitelist_enforced",
		})
		return nil
	})
}
