package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

// Deposit пополняет баланс агента: средства caller уходят в custody через Token Ledger.
// Пополнять может любой аккаунт.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, id common.Hash, amount *uint256.Int) (ledger.Receipt, error) {
	const op = "deposit"
	if err := validateAmount(amount); err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}
	if err := validateAddress(caller); err != nil {
		return ledger.Receipt{}, v.fail(op, id, fmt.Errorf("payer: %w", err))
	}
	st, err := v.lock(ctx, id)
	if err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	next, overflow := new(uint256.Int).AddOverflow(&st.balance, amount)
	if overflow {
		return ledger.Receipt{}, v.fail(op, id, fmt.Errorf("balance overflow: %w", domain.ErrInvalidAmount))
	}

	receipt, err := v.transfer(ctx, "transfer_in", func(ctx context.Context) (ledger.Receipt, error) {
		return v.ledger.TransferIn(ctx, ledger.Transfer{Ref: uuid.NewString(), Account: caller, Amount: amount})
	})
	if err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}

	st.balance.Set(next)
	v.emit(domain.Event{
		Type:      domain.EventDeposit,
		AgentID:   id,
		Timestamp: v.clock.Now(),
		Actor:     caller,
		Amount:    amount.Clone(),
		TxRef:     receipt.TxID,
	})
	return receipt, nil
}

// Withdraw выводит средства агента на recipient. Только владелец.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, id common.Hash, amount *uint256.Int, recipient common.Address) (ledger.Receipt, error) {
	const op = "withdraw"
	if err := validateAmount(amount); err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}
	if err := validateAddress(recipient); err != nil {
		return ledger.Receipt{}, v.fail(op, id, fmt.Errorf("recipient: %w", err))
	}
	st, err := v.lock(ctx, id)
	if err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	if st.agent.Owner != caller {
		return ledger.Receipt{}, v.fail(op, id, fmt.Errorf("withdraw by %s: %w", caller.Hex(), domain.ErrNotAuthorized))
	}
	if st.balance.Lt(amount) {
		return ledger.Receipt{}, v.fail(op, id, fmt.Errorf("balance %s < %s: %w", st.balance.Dec(), amount.Dec(), domain.ErrInsufficientBalance))
	}

	receipt, err := v.transfer(ctx, "transfer_out", func(ctx context.Context) (ledger.Receipt, error) {
		return v.ledger.TransferOut(ctx, ledger.Transfer{Ref: uuid.NewString(), Account: recipient, Amount: amount})
	})
	if err != nil {
		return ledger.Receipt{}, v.fail(op, id, err)
	}

	st.balance.Sub(&st.balance, amount)
	v.emit(domain.Event{
		Type:      domain.EventWithdrawal,
		AgentID:   id,
		Timestamp: v.clock.Now(),
		Actor:     caller,
		Address:   recipient,
		Amount:    amount.Clone(),
		TxRef:     receipt.TxID,
	})
	return receipt, nil
}

// transfer вызывает Token Ledger без отмены от вызывающего: внутри критической секции
// операция доводится до конца, таймауты задает ReliabilityWrapper.
func (v *Vault) transfer(ctx context.Context, op string, call func(ctx context.Context) (ledger.Receipt, error)) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := call(context.WithoutCancel(ctx))

	status := "ok"
	if err != nil {
		status = "error"
	}
	v.metrics.LedgerDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	if err != nil {
		v.logger.Error("token ledger call failed", zap.String("op", op), zap.Error(err))
		return ledger.Receipt{}, fmt.Errorf("%s: %w: %w", op, domain.ErrLedger, err)
	}
	return receipt, nil
}
