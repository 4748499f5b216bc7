package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
	"github.com/xela07ax/agentguard-vault/internal/policy"
)

// attempt — одна попытка платежа внутри критической секции агента.
type attempt struct {
	caller    common.Address
	recipient common.Address
	amount    *uint256.Int
	reason    string
	now       int64

	// approval != nil: исполнение ранее поставленной в очередь заявки
	approval *domain.ApprovalRequest
}

// ExecutePayment — основной мутирующий вход. Блокировка политики не является ошибкой:
// она возвращается как PaymentResult{Status: BLOCKED} и фиксируется в журнале.
func (v *Vault) ExecutePayment(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, amount *uint256.Int, reason string) (domain.PaymentResult, error) {
	const op = "execute_payment"
	if err := validatePayment(recipient, amount, reason); err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}
	st, err := v.lock(ctx, id)
	if err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	res, err := v.process(ctx, st, attempt{
		caller:    caller,
		recipient: recipient,
		amount:    amount,
		reason:    reason,
		now:       v.clock.Now(),
	})
	if err != nil {
		return domain.PaymentResult{}, v.fail(op, id, err)
	}
	return res, nil
}

// process: Refresh -> Safety Gate -> {block | enqueue | transfer + commit}. Вызывается под st.mu.
func (v *Vault) process(ctx context.Context, st *agentState, at attempt) (domain.PaymentResult, error) {
	policy.Refresh(&st.agent, at.now)

	req := policy.Request{
		Caller:    at.caller,
		Recipient: at.recipient,
		Amount:    at.amount,
		Reason:    at.reason,
	}
	d := policy.Evaluate(st.snapshot(&st.agent), req, at.now)
	paymentID := policy.PaymentID(st.agent.ID, at.recipient, at.amount, at.now, uint64(len(st.history)))

	if !d.Allowed {
		return v.block(st, at, d, paymentID), nil
	}
	if d.RequiresApproval && at.approval == nil {
		return v.enqueue(st, at, paymentID), nil
	}

	// Перевод до фиксации учета: отказ ledger не оставляет следов кроме события PaymentFailed
	receipt, err := v.transfer(ctx, "transfer_out", func(ctx context.Context) (ledger.Receipt, error) {
		return v.ledger.TransferOut(ctx, ledger.Transfer{Ref: paymentID.Hex(), Account: at.recipient, Amount: at.amount})
	})
	if err != nil {
		v.emit(domain.Event{
			Type:      domain.EventPaymentFailed,
			AgentID:   st.agent.ID,
			Timestamp: at.now,
			Actor:     at.caller,
			Address:   at.recipient,
			Amount:    at.amount.Clone(),
			Reason:    at.reason,
			PaymentID: paymentID,
			Error:     err.Error(),
		})
		return domain.PaymentResult{}, err
	}

	v.commit(st, at, d, paymentID, receipt)
	return domain.PaymentResult{
		Status:    domain.PaymentExecuted,
		PaymentID: paymentID,
		TxRef:     receipt.TxID,
	}, nil
}

// commit применяет все эффекты исполненного платежа одним блоком.
func (v *Vault) commit(st *agentState, at attempt, d policy.Decision, paymentID common.Hash, receipt ledger.Receipt) {
	st.balance.Sub(&st.balance, at.amount)
	st.agent.DailySpent.Add(&st.agent.DailySpent, at.amount)
	st.agent.MonthlySpent.Add(&st.agent.MonthlySpent, at.amount)
	st.rate.Record(at.now)
	st.recent.Remember(d.Fingerprint, at.now)
	v.appendRecord(st, at, paymentID, domain.ReasonNone, false)
	st.totalPayments++

	v.metrics.Payments.WithLabelValues(string(domain.PaymentExecuted), "").Inc()
	v.metrics.SettledAmount.Add(at.amount.Float64())

	v.emit(domain.Event{
		Type:        domain.EventPaymentExecuted,
		AgentID:     st.agent.ID,
		Timestamp:   at.now,
		Actor:       at.caller,
		Address:     at.recipient,
		Amount:      at.amount.Clone(),
		Reason:      at.reason,
		PaymentID:   paymentID,
		PaymentHash: d.Fingerprint,
		TxRef:       receipt.TxID,
	})
	v.logger.Info("payment executed",
		zap.String("agent_id", st.agent.ID.Hex()),
		zap.String("recipient", at.recipient.Hex()),
		zap.String("amount", at.amount.Dec()),
		zap.String("payment_id", paymentID.Hex()),
	)
}

func (v *Vault) block(st *agentState, at attempt, d policy.Decision, paymentID common.Hash) domain.PaymentResult {
	v.appendRecord(st, at, paymentID, d.Reason, true)
	v.metrics.Payments.WithLabelValues(string(domain.PaymentBlocked), string(d.Reason)).Inc()

	switch d.Reason {
	case domain.ReasonCircuitBreaker:
		v.emit(domain.Event{
			Type:         domain.EventCircuitBreakerTriggered,
			AgentID:      st.agent.ID,
			Timestamp:    at.now,
			PaymentCount: d.PaymentCount,
		})
	case domain.ReasonDuplicatePayment:
		v.emit(domain.Event{
			Type:        domain.EventDuplicateDetected,
			AgentID:     st.agent.ID,
			Timestamp:   at.now,
			PaymentHash: d.Fingerprint,
		})
	}

	e := domain.Event{
		Type:        domain.EventPaymentBlocked,
		AgentID:     st.agent.ID,
		Timestamp:   at.now,
		Actor:       at.caller,
		Address:     at.recipient,
		Amount:      at.amount.Clone(),
		Reason:      at.reason,
		BlockReason: d.Reason,
		PaymentID:   paymentID,
		PaymentHash: d.Fingerprint,
	}
	if at.approval != nil {
		e.ApprovalIndex = at.approval.Index
	}
	v.emit(e)
	v.logger.Info("payment blocked",
		zap.String("agent_id", st.agent.ID.Hex()),
		zap.String("recipient", at.recipient.Hex()),
		zap.String("amount", at.amount.Dec()),
		zap.String("block_reason", string(d.Reason)),
	)
	return domain.PaymentResult{Status: domain.PaymentBlocked, Reason: d.Reason, PaymentID: paymentID}
}

func (v *Vault) enqueue(st *agentState, at attempt, paymentID common.Hash) domain.PaymentResult {
	req := domain.ApprovalRequest{
		Index:     uint64(len(st.approvals)),
		AgentID:   st.agent.ID,
		Recipient: at.recipient,
		Reason:    at.reason,
		Timestamp: at.now,
	}
	req.Amount.Set(at.amount)
	st.approvals = append(st.approvals, req)
	v.appendRecord(st, at, paymentID, domain.ReasonApprovalRequired, true)

	v.metrics.Payments.WithLabelValues(string(domain.PaymentQueued), string(domain.ReasonApprovalRequired)).Inc()
	v.metrics.PendingApprovals.Inc()

	v.emit(domain.Event{
		Type:          domain.EventApprovalRequested,
		AgentID:       st.agent.ID,
		Timestamp:     at.now,
		Actor:         at.caller,
		Address:       at.recipient,
		Amount:        at.amount.Clone(),
		Reason:        at.reason,
		PaymentID:     paymentID,
		ApprovalIndex: req.Index,
	})
	return domain.PaymentResult{
		Status:        domain.PaymentQueued,
		Reason:        domain.ReasonApprovalRequired,
		PaymentID:     paymentID,
		ApprovalIndex: req.Index,
	}
}

func (v *Vault) appendRecord(st *agentState, at attempt, paymentID common.Hash, reason domain.BlockReason, flagged bool) {
	rec := domain.PaymentRecord{
		Index:       uint64(len(st.history)),
		PaymentID:   paymentID,
		Recipient:   at.recipient,
		Reason:      at.reason,
		BlockReason: reason,
		Timestamp:   at.now,
		Flagged:     flagged,
	}
	rec.Amount.Set(at.amount)
	st.history = append(st.history, rec)
}

// CheckPayment — симулятор: та же цепочка проверок над копией агента, без каких-либо мутаций.
// reason необязателен; без него проверка дубликата пропускается.
func (v *Vault) CheckPayment(ctx context.Context, caller common.Address, id common.Hash, recipient common.Address, amount *uint256.Int, reason string) (domain.PaymentCheck, error) {
	const op = "check_payment"
	if err := validateAmount(amount); err != nil {
		return domain.PaymentCheck{}, v.fail(op, id, err)
	}
	if err := validateAddress(recipient); err != nil {
		return domain.PaymentCheck{}, v.fail(op, id, fmt.Errorf("recipient: %w", err))
	}
	st, err := v.rlock(ctx, id)
	if err != nil {
		return domain.PaymentCheck{}, v.fail(op, id, err)
	}
	defer st.mu.RUnlock()

	now := v.clock.Now()
	agent := st.agent
	policy.Refresh(&agent, now)

	snap := st.snapshot(&agent)
	req := policy.Request{
		Caller:        caller,
		Recipient:     recipient,
		Amount:        amount,
		Reason:        reason,
		SkipDuplicate: reason == "",
	}
	d := policy.Evaluate(snap, req, now)
	return domain.PaymentCheck{
		WouldSucceed: d.Allowed,
		Reason:       d.Reason,
		Details:      policy.Inspect(snap, req),
	}, nil
}
