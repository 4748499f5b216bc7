package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// approvalFor проверяет права и индекс заявки. Вызывается под st.mu.
// Решать по заявке могут владелец и authorizedCaller агента.
func approvalFor(st *agentState, caller common.Address, index uint64, next domain.ApprovalStatus) (*domain.ApprovalRequest, error) {
	if caller != st.agent.Owner && caller != st.agent.AuthorizedCaller {
		return nil, fmt.Errorf("approval decision by %s: %w", caller.Hex(), domain.ErrNotAuthorized)
	}
	if index >= uint64(len(st.approvals)) {
		return nil, fmt.Errorf("approval #%d: %w", index, domain.ErrNotFound)
	}
	req := &st.approvals[index]
	if err := req.CanTransitionTo(next); err != nil {
		return nil, fmt.Errorf("approval #%d: %w", index, err)
	}
	return req, nil
}

// ExecuteApproval повторно прогоняет Safety Gate на текущий момент. Если проверка не пройдена,
// заявка остается в очереди: ее можно повторить позже или отклонить.
func (v *Vault) ExecuteApproval(ctx context.Context, caller common.Address, id common.Hash, index uint64) (domain.PaymentResult, error) {
	const op = "execute_approval"
	st, err := v.lock(ctx, id)
	if err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	req, err := approvalFor(st, caller, index, domain.ApprovalExecuted)
	if err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}

	now := v.clock.Now()
	// Заявка была авторизована при постановке в очередь, поэтому гейт видит authorizedCaller записи
	res, err := v.process(ctx, st, attempt{
		caller:    st.agent.AuthorizedCaller,
		recipient: req.Recipient,
		amount:    req.Amount.Clone(),
		reason:    req.Reason,
		now:       now,
		approval:  req,
	})
	if err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}
	res.ApprovalIndex = index
	if res.Status != domain.PaymentExecuted {
		return res, nil
	}

	req.Resolve(domain.ApprovalExecuted, caller, now)
	v.metrics.PendingApprovals.Dec()
	v.emit(domain.Event{
		Type:          domain.EventApprovalExecuted,
		AgentID:       id,
		Timestamp:     now,
		Actor:         caller,
		Address:       req.Recipient,
		Amount:        req.Amount.Clone(),
		PaymentID:     res.PaymentID,
		ApprovalIndex: index,
		TxRef:         res.TxRef,
	})
	return res, nil
}

// RejectApproval закрывает заявку без движения средств.
func (v *Vault) RejectApproval(ctx context.Context, caller common.Address, id common.Hash, index uint64) error {
	const op = "reject_approval"
	st, err := v.lock(ctx, id)
	if err != nil {
		return v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	req, err := approvalFor(st, caller, index, domain.ApprovalRejected)
	if err != nil {
		return v.fail(op, id, err)
	}

	now := v.clock.Now()
	req.Resolve(domain.ApprovalRejected, caller, now)
	v.metrics.PendingApprovals.Dec()
	v.emit(domain.Event{
		Type:          domain.EventApprovalRejected,
		AgentID:       id,
		Timestamp:     now,
		Actor:         caller,
		Address:       req.Recipient,
		Amount:        req.Amount.Clone(),
		ApprovalIndex: index,
	})
	v.logger.Info("approval rejected",
		zap.String("agent_id", id.Hex()),
		zap.Uint64("index", index),
		zap.String("by", caller.Hex()),
	)
	return nil
}

// GetPendingApprovals возвращает всю очередь агента вместе с разрешенными заявками;
// статус каждой выводится из флагов Executed/Rejected.
func (v *Vault) GetPendingApprovals(ctx context.Context, id common.Hash) ([]domain.ApprovalRequest, error) {
	st, err := v.rlock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer st.mu.RUnlock()

	out := make([]domain.ApprovalRequest, len(st.approvals))
	copy(out, st.approvals)
	return out, nil
}
