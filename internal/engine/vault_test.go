package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/audit"
	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
	"github.com/xela07ax/agentguard-vault/internal/policy"
)

const start int64 = 1_700_000_040 // граница 60-секундного бакета

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	payee    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	agentID  = common.Hash{31: 0x42}
)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock(t int64) *fakeClock {
	c := &fakeClock{}
	c.now.Store(t)
	return c
}

func (c *fakeClock) Now() int64 { return c.now.Load() }
func (c *fakeClock) Set(t int64) { c.now.Store(t) }
func (c *fakeClock) Advance(d int64) { c.now.Add(d) }

type harness struct {
	vault  *Vault
	ledger *ledger.Memory
	events *audit.Recorder
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, ledger.NewMemory(true))
}

func newHarnessWith(t *testing.T, tl ledger.TokenLedger) *harness {
	t.Helper()
	h := &harness{
		events: audit.NewRecorder(10_000),
		clock:  newFakeClock(start),
	}
	if m, ok := tl.(*ledger.Memory); ok {
		h.ledger = m
	}
	h.vault = NewVault(DefaultSettings(), tl, h.events, h.clock, NewMetrics(nil), zap.NewNop())
	return h
}

func limits(perTx, daily, monthly uint64) domain.Limits {
	var l domain.Limits
	l.PerTransaction.SetUint64(perTx)
	l.Daily.SetUint64(daily)
	l.Monthly.SetUint64(monthly)
	return l
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// setup регистрирует агента с лимитами 100/500/2000 и пополняет его на balance.
func (h *harness) setup(t *testing.T, balance uint64) {
	t.Helper()
	h.register(t, domain.AgentConfig{Limits: limits(100, 500, 2_000), AuthorizedCaller: operator}, balance)
}

func (h *harness) register(t *testing.T, cfg domain.AgentConfig, balance uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.vault.Register(ctx, owner, agentID, cfg))
	if balance > 0 {
		_, err := h.vault.Deposit(ctx, owner, agentID, u(balance))
		require.NoError(t, err)
	}
}

func (h *harness) pay(t *testing.T, amount uint64, reason string) domain.PaymentResult {
	t.Helper()
	res, err := h.vault.ExecutePayment(context.Background(), operator, agentID, payee, u(amount), reason)
	require.NoError(t, err)
	return res
}

func (h *harness) stats(t *testing.T) *domain.AgentStats {
	t.Helper()
	s, err := h.vault.GetAgentStats(context.Background(), agentID)
	require.NoError(t, err)
	return &s
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 0)

	s := h.stats(t)
	assert.Equal(t, owner, s.Owner)
	assert.Equal(t, operator, s.AuthorizedCaller)
	assert.True(t, s.IsActive)
	assert.Equal(t, uint64(500), s.DailyRemaining.Uint64())
	assert.Equal(t, []domain.EventType{domain.EventAgentRegistered}, h.events.Types())

	err := h.vault.Register(context.Background(), owner, agentID, domain.AgentConfig{Limits: limits(1, 1, 1), AuthorizedCaller: operator})
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestRegister_Rejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.vault.Register(ctx, owner, agentID, domain.AgentConfig{Limits: limits(600, 500, 2_000), AuthorizedCaller: operator})
	assert.ErrorIs(t, err, domain.ErrInvalidLimits)

	err = h.vault.Register(ctx, owner, agentID, domain.AgentConfig{Limits: limits(100, 500, 2_000)})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	err = h.vault.Register(ctx, owner, common.Hash{}, domain.AgentConfig{Limits: limits(100, 500, 2_000), AuthorizedCaller: operator})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Empty(t, h.events.Events())
}

func TestOwnerOnlyOperations(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 0)
	ctx := context.Background()
	unknown := common.Hash{1}

	ops := map[string]func(caller common.Address, id common.Hash) error{
		"update limits": func(c common.Address, id common.Hash) error {
			return h.vault.UpdateLimits(ctx, c, id, limits(10, 20, 30))
		},
		"approval settings": func(c common.Address, id common.Hash) error {
			return h.vault.UpdateApprovalSettings(ctx, c, id, true, u(5))
		},
		"authorized caller": func(c common.Address, id common.Hash) error {
			return h.vault.UpdateAuthorizedCaller(ctx, c, id, stranger)
		},
		"pause":  func(c common.Address, id common.Hash) error { return h.vault.Pause(ctx, c, id) },
		"resume": func(c common.Address, id common.Hash) error { return h.vault.Resume(ctx, c, id) },
		"whitelist": func(c common.Address, id common.Hash) error {
			return h.vault.SetWhitelist(ctx, c, id, payee, true)
		},
		"whitelist enforced": func(c common.Address, id common.Hash) error {
			return h.vault.SetWhitelistEnforced(ctx, c, id, true)
		},
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(operator, agentID), domain.ErrNotAuthorized)
			assert.ErrorIs(t, op(owner, unknown), domain.ErrNotFound)
		})
	}
	assert.Equal(t, []domain.EventType{domain.EventAgentRegistered}, h.events.Types(), "no event on rejected calls")
}

func TestUpdateConfiguration(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 0)
	ctx := context.Background()

	require.NoError(t, h.vault.UpdateLimits(ctx, owner, agentID, limits(50, 60, 70)))
	require.NoError(t, h.vault.UpdateApprovalSettings(ctx, owner, agentID, true, u(40)))
	require.NoError(t, h.vault.UpdateAuthorizedCaller(ctx, owner, agentID, stranger))
	assert.ErrorIs(t, h.vault.UpdateLimits(ctx, owner, agentID, limits(0, 60, 70)), domain.ErrInvalidLimits)
	assert.ErrorIs(t, h.vault.UpdateAuthorizedCaller(ctx, owner, agentID, common.Address{}), domain.ErrInvalidAddress)

	s := h.stats(t)
	assert.Equal(t, uint64(50), s.PerTxLimit.Uint64())
	assert.Equal(t, uint64(70), s.MonthlyLimit.Uint64())
	assert.True(t, s.RequiresApproval)
	assert.Equal(t, uint64(40), s.ApprovalThreshold.Uint64())
	assert.Equal(t, stranger, s.AuthorizedCaller)

	types := h.events.Types()
	assert.Equal(t, []domain.EventType{
		domain.EventAgentRegistered,
		domain.EventAgentConfigUpdated,
		domain.EventAgentConfigUpdated,
		domain.EventAgentConfigUpdated,
	}, types)
}

func TestExecutePayment_Success(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)

	res := h.pay(t, 75, "api credits")
	assert.Equal(t, domain.PaymentExecuted, res.Status)
	assert.NotEqual(t, common.Hash{}, res.PaymentID)
	assert.NotEmpty(t, res.TxRef)

	s := h.stats(t)
	assert.Equal(t, uint64(925), s.Balance.Uint64())
	assert.Equal(t, uint64(75), s.DailySpent.Uint64())
	assert.Equal(t, uint64(75), s.MonthlySpent.Uint64())
	assert.Equal(t, uint64(1), s.TotalPayments)
	assert.Equal(t, uint64(75), h.ledger.BalanceOf(payee).Uint64())
	assert.Equal(t, uint64(925), h.ledger.Custody().Uint64())

	page, err := h.vault.GetPaymentHistory(context.Background(), agentID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	rec := page.Records[0]
	assert.False(t, rec.Flagged)
	assert.Equal(t, res.PaymentID, rec.PaymentID)
	assert.Equal(t, "api credits", rec.Reason)

	evs := h.events.ForAgent(agentID, 1)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventPaymentExecuted, evs[0].Type)
	assert.Equal(t, res.PaymentID, evs[0].PaymentID)
	assert.Equal(t, policy.Fingerprint(payee, u(75), "api credits"), evs[0].PaymentHash)
}

func TestExecutePayment_StructuralErrors(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()
	before := len(h.events.Events())

	_, err := h.vault.ExecutePayment(ctx, operator, agentID, payee, u(0), "x")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.vault.ExecutePayment(ctx, operator, agentID, common.Address{}, u(1), "x")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	_, err = h.vault.ExecutePayment(ctx, operator, agentID, payee, u(1), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidReason)
	_, err = h.vault.ExecutePayment(ctx, operator, common.Hash{9}, payee, u(1), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := h.vault.GetPaymentHistory(ctx, agentID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Len(t, h.events.Events(), before)
}

func TestExecutePayment_CancelledBeforeLock(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.vault.ExecutePayment(ctx, operator, agentID, payee, u(10), "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1_000), h.stats(t).Balance.Uint64())
}

func TestExecutePayment_BlockedIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)

	res := h.pay(t, 101, "too big")
	assert.Equal(t, domain.PaymentBlocked, res.Status)
	assert.Equal(t, domain.ReasonExceedsPerTxLimit, res.Reason)

	page, err := h.vault.GetPaymentHistory(context.Background(), agentID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.True(t, page.Records[0].Flagged)
	assert.Equal(t, domain.ReasonExceedsPerTxLimit, page.Records[0].BlockReason)

	s := h.stats(t)
	assert.Equal(t, uint64(1_000), s.Balance.Uint64())
	assert.True(t, s.DailySpent.IsZero())
	assert.Zero(t, s.TotalPayments)

	last := h.events.ForAgent(agentID, 1)[0]
	assert.Equal(t, domain.EventPaymentBlocked, last.Type)
	assert.Equal(t, domain.ReasonExceedsPerTxLimit, last.BlockReason)
}

func TestExecutePayment_InactiveReportedFirst(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 0)
	require.NoError(t, h.vault.Pause(context.Background(), owner, agentID))

	// неактивен, вызывающий не авторизован, баланса нет, сумма выше лимитов
	res, err := h.vault.ExecutePayment(context.Background(), stranger, agentID, payee, u(10_000), "x")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentBlocked, res.Status)
	assert.Equal(t, domain.ReasonAgentNotActive, res.Reason)
}

func TestLimitMonotonicity(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 10_000)

	amounts := []uint64{40, 100, 7, 99, 100, 60, 100, 33, 100, 1, 60, 100}
	for i, a := range amounts {
		h.clock.Advance(61) // новый бакет, чтобы не упираться в circuit breaker
		h.pay(t, a, fmt.Sprintf("step-%d", i))

		s := h.stats(t)
		assert.False(t, s.DailySpent.Gt(&s.DailyLimit), "step %d", i)
		assert.False(t, s.MonthlySpent.Gt(&s.MonthlyLimit), "step %d", i)
	}
	assert.Equal(t, uint64(500), h.stats(t).DailySpent.Uint64())
}

func TestDailyReset(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)

	for i := 0; i < 5; i++ {
		assert.Equal(t, domain.PaymentExecuted, h.pay(t, 100, fmt.Sprintf("batch-%d", i)).Status)
	}
	assert.Equal(t, domain.ReasonExceedsDailyLimit, h.pay(t, 100, "one more").Reason)

	h.clock.Set(start + policy.DayDuration + 1)
	res := h.pay(t, 100, "next day")
	assert.Equal(t, domain.PaymentExecuted, res.Status)

	s := h.stats(t)
	assert.Equal(t, uint64(100), s.DailySpent.Uint64())
	assert.Equal(t, uint64(600), s.MonthlySpent.Uint64(), "month window still open")
}

func TestStatsShowResetWithoutMutating(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	h.pay(t, 100, "x")

	h.clock.Advance(policy.DayDuration)
	s := h.stats(t)
	assert.True(t, s.DailySpent.IsZero())
	assert.Equal(t, uint64(500), s.DailyRemaining.Uint64())
	assert.Equal(t, uint64(1_900), s.MonthlyRemaining.Uint64())
}

func TestDuplicateSuppression(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)

	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "invoice #7").Status)

	h.clock.Advance(policy.DuplicateWindow - 1)
	res := h.pay(t, 10, "invoice #7")
	assert.Equal(t, domain.ReasonDuplicatePayment, res.Reason)

	types := h.events.Types()
	assert.Equal(t, []domain.EventType{domain.EventDuplicateDetected, domain.EventPaymentBlocked}, types[len(types)-2:])

	// другой reason — другой отпечаток
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "invoice #8").Status)

	h.clock.Set(start + policy.DuplicateWindow + 1)
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "invoice #7").Status)
}

func TestCircuitBreaker(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)

	for i := 1; i <= 10; i++ {
		require.Equal(t, domain.PaymentExecuted, h.pay(t, 1, fmt.Sprintf("tick-%d", i)).Status, "payment %d", i)
	}
	h.clock.Advance(59)
	res := h.pay(t, 1, "tick-11")
	assert.Equal(t, domain.PaymentBlocked, res.Status)
	assert.Equal(t, domain.ReasonCircuitBreaker, res.Reason)

	var tripped *domain.Event
	for _, e := range h.events.Events() {
		if e.Type == domain.EventCircuitBreakerTriggered {
			tripped = &e
		}
	}
	require.NotNil(t, tripped)
	assert.Equal(t, uint64(10), tripped.PaymentCount)

	h.clock.Advance(1) // новый бакет
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 1, "tick-12").Status)
	assert.Equal(t, uint64(11), h.stats(t).TotalPayments)
}

func approvalConfig() domain.AgentConfig {
	cfg := domain.AgentConfig{
		Limits:           limits(1_000, 5_000, 50_000),
		RequiresApproval: true,
		AuthorizedCaller: operator,
	}
	cfg.ApprovalThreshold.SetUint64(500)
	return cfg
}

func TestApprovalGating(t *testing.T) {
	h := newHarness(t)
	h.register(t, approvalConfig(), 2_000)
	ctx := context.Background()

	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 499, "below threshold").Status)

	res := h.pay(t, 500, "at threshold")
	assert.Equal(t, domain.PaymentQueued, res.Status)
	assert.Equal(t, domain.ReasonApprovalRequired, res.Reason)
	assert.Equal(t, uint64(0), res.ApprovalIndex)
	assert.Equal(t, uint64(1_501), h.stats(t).Balance.Uint64(), "queued payment moves no funds")

	queue, err := h.vault.GetPendingApprovals(ctx, agentID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, domain.ApprovalPending, queue[0].Status())
	assert.Equal(t, uint64(500), queue[0].Amount.Uint64())

	page, err := h.vault.GetPaymentHistory(ctx, agentID, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.True(t, page.Records[1].Flagged)
	assert.Equal(t, domain.ReasonApprovalRequired, page.Records[1].BlockReason)

	h.clock.Advance(30)
	exec, err := h.vault.ExecuteApproval(ctx, owner, agentID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentExecuted, exec.Status)
	assert.Equal(t, uint64(0), exec.ApprovalIndex)

	s := h.stats(t)
	assert.Equal(t, uint64(1_001), s.Balance.Uint64())
	assert.Equal(t, uint64(999), s.DailySpent.Uint64())
	assert.Equal(t, uint64(2), s.TotalPayments)

	queue, err = h.vault.GetPendingApprovals(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalExecuted, queue[0].Status())
	assert.Equal(t, owner, queue[0].ResolvedBy)

	_, err = h.vault.ExecuteApproval(ctx, owner, agentID, 0)
	assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
	assert.ErrorIs(t, h.vault.RejectApproval(ctx, owner, agentID, 0), domain.ErrAlreadyResolved)

	types := h.events.Types()
	assert.Equal(t, []domain.EventType{domain.EventPaymentExecuted, domain.EventApprovalExecuted}, types[len(types)-2:])
}

func TestApproval_RegateFailureKeepsPending(t *testing.T) {
	h := newHarness(t)
	h.register(t, approvalConfig(), 600)
	ctx := context.Background()

	require.Equal(t, domain.PaymentQueued, h.pay(t, 600, "big one").Status)
	_, err := h.vault.Withdraw(ctx, owner, agentID, u(200), owner)
	require.NoError(t, err)

	res, err := h.vault.ExecuteApproval(ctx, operator, agentID, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentBlocked, res.Status)
	assert.Equal(t, domain.ReasonInsufficientBalance, res.Reason)

	queue, err := h.vault.GetPendingApprovals(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, queue[0].Status())

	require.NoError(t, h.vault.RejectApproval(ctx, operator, agentID, 0))
	queue, err = h.vault.GetPendingApprovals(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, queue[0].Status())
	assert.Equal(t, uint64(400), h.stats(t).Balance.Uint64())
}

func TestApproval_AccessAndRange(t *testing.T) {
	h := newHarness(t)
	h.register(t, approvalConfig(), 1_000)
	ctx := context.Background()
	require.Equal(t, domain.PaymentQueued, h.pay(t, 700, "big one").Status)

	_, err := h.vault.ExecuteApproval(ctx, stranger, agentID, 0)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.ErrorIs(t, h.vault.RejectApproval(ctx, stranger, agentID, 0), domain.ErrNotAuthorized)

	_, err = h.vault.ExecuteApproval(ctx, owner, agentID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.vault.RejectApproval(ctx, owner, agentID, 5), domain.ErrNotFound)
}

func TestConcurrentPaymentsSerializePerAgent(t *testing.T) {
	const (
		n     = 10
		k     = 4
		perTx = 100
	)
	h := newHarness(t)
	h.register(t, domain.AgentConfig{Limits: limits(perTx, perTx*k, perTx*k*10), AuthorizedCaller: operator}, perTx*k)

	var (
		wg       sync.WaitGroup
		executed atomic.Int32
		blocked  atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.vault.ExecutePayment(context.Background(), operator, agentID, payee, u(perTx), fmt.Sprintf("job-%d", i))
			if !assert.NoError(t, err) {
				return
			}
			switch res.Status {
			case domain.PaymentExecuted:
				executed.Add(1)
			case domain.PaymentBlocked:
				assert.Contains(t, []domain.BlockReason{domain.ReasonInsufficientBalance, domain.ReasonExceedsDailyLimit}, res.Reason)
				blocked.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(k), executed.Load())
	assert.Equal(t, int32(n-k), blocked.Load())

	s := h.stats(t)
	assert.True(t, s.Balance.IsZero())
	assert.Equal(t, s.DailyLimit, s.DailySpent)
	assert.Equal(t, uint64(k), s.TotalPayments)

	page, err := h.vault.GetPaymentHistory(context.Background(), agentID, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(n), page.Total)
}

func TestConcurrentAgentsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := make([]common.Hash, 8)
	for i := range ids {
		ids[i] = common.Hash{0: byte(i + 1)}
		require.NoError(t, h.vault.Register(ctx, owner, ids[i], domain.AgentConfig{Limits: limits(10, 100, 1_000), AuthorizedCaller: operator}))
		_, err := h.vault.Deposit(ctx, owner, ids[i], u(50))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func(id common.Hash, j int) {
				defer wg.Done()
				_, err := h.vault.ExecutePayment(ctx, operator, id, payee, u(10), fmt.Sprintf("p-%d", j))
				assert.NoError(t, err)
			}(id, j)
		}
	}
	wg.Wait()

	all, err := h.vault.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(ids))
	for _, s := range all {
		assert.True(t, s.Balance.IsZero(), s.AgentID.Hex())
		assert.Equal(t, uint64(5), s.TotalPayments)
	}
}

func TestCheckPayment_RoundTrip(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()

	check, err := h.vault.CheckPayment(ctx, operator, agentID, payee, u(80), "invoice #1")
	require.NoError(t, err)
	assert.True(t, check.WouldSucceed)
	assert.True(t, check.Details.HasBalance)
	assert.Nil(t, check.Details.RecipientWhitelisted)

	page, err := h.vault.GetPaymentHistory(ctx, agentID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total, "simulator appends nothing")

	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 80, "invoice #1").Status)

	check, err = h.vault.CheckPayment(ctx, operator, agentID, payee, u(80), "invoice #1")
	require.NoError(t, err)
	assert.False(t, check.WouldSucceed)
	assert.Equal(t, domain.ReasonDuplicatePayment, check.Reason)

	// без reason дубликат не проверяется
	check, err = h.vault.CheckPayment(ctx, operator, agentID, payee, u(80), "")
	require.NoError(t, err)
	assert.True(t, check.WouldSucceed)
}

func TestCheckPayment_QueuedCountsAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.register(t, approvalConfig(), 1_000)

	check, err := h.vault.CheckPayment(context.Background(), operator, agentID, payee, u(800), "big one")
	require.NoError(t, err)
	assert.True(t, check.WouldSucceed)
	assert.True(t, check.Details.RequiresApproval)
}

func TestCheckPayment_DoesNotApplyReset(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	for i := 0; i < 5; i++ {
		h.pay(t, 100, fmt.Sprintf("p-%d", i))
	}
	h.clock.Advance(policy.DayDuration)

	check, err := h.vault.CheckPayment(context.Background(), operator, agentID, payee, u(100), "fresh")
	require.NoError(t, err)
	assert.True(t, check.WouldSucceed)
	assert.True(t, check.Details.WithinDailyLimit)

	st, err := h.vault.store.get(agentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), st.agent.DailySpent.Uint64(), "live record untouched")
	assert.Equal(t, start, st.agent.LastDayReset)
}

func TestWhitelist(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()
	other := common.HexToAddress("0x00000000000000000000000000000000000000e2")

	require.NoError(t, h.vault.SetWhitelistEnforced(ctx, owner, agentID, true))
	assert.Equal(t, domain.ReasonNotWhitelisted, h.pay(t, 10, "a").Reason)

	require.NoError(t, h.vault.BatchSetWhitelist(ctx, owner, agentID, []common.Address{payee, other}, []bool{true, true}))
	ok, err := h.vault.IsWhitelisted(ctx, agentID, other)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "b").Status)

	require.NoError(t, h.vault.SetWhitelist(ctx, owner, agentID, payee, false))
	assert.Equal(t, domain.ReasonNotWhitelisted, h.pay(t, 10, "c").Reason)

	require.NoError(t, h.vault.SetWhitelistEnforced(ctx, owner, agentID, false))
	enforced, err := h.vault.IsWhitelistEnforced(ctx, agentID)
	require.NoError(t, err)
	assert.False(t, enforced)
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "d").Status)

	err = h.vault.BatchSetWhitelist(ctx, owner, agentID, []common.Address{payee}, []bool{true, false})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	updates := 0
	for _, e := range h.events.Events() {
		if e.Type == domain.EventWhitelistUpdated {
			updates++
		}
	}
	assert.Equal(t, 3, updates)
}

func TestDepositWithdraw(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 500)
	ctx := context.Background()

	_, err := h.vault.Deposit(ctx, stranger, agentID, u(100))
	require.NoError(t, err, "anyone may fund an agent")
	assert.Equal(t, uint64(600), h.stats(t).Balance.Uint64())

	_, err = h.vault.Withdraw(ctx, operator, agentID, u(10), operator)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = h.vault.Withdraw(ctx, owner, agentID, u(601), owner)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	_, err = h.vault.Deposit(ctx, owner, agentID, u(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	receipt, err := h.vault.Withdraw(ctx, owner, agentID, u(250), owner)
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxID)
	assert.Equal(t, uint64(350), h.stats(t).Balance.Uint64())
	assert.Equal(t, uint64(250), h.ledger.BalanceOf(owner).Uint64())

	types := h.events.Types()
	assert.Equal(t, domain.EventWithdrawal, types[len(types)-1])
}

// brokenLedger принимает депозиты, но не может выплатить.
type brokenLedger struct {
	*ledger.Memory
}

var errDown = errors.New("custody service unavailable")

func (brokenLedger) TransferOut(context.Context, ledger.Transfer) (ledger.Receipt, error) {
	return ledger.Receipt{}, errDown
}

func TestExecutePayment_LedgerFailureLeavesNoTrace(t *testing.T) {
	h := newHarnessWith(t, brokenLedger{ledger.NewMemory(true)})
	h.setup(t, 1_000)

	_, err := h.vault.ExecutePayment(context.Background(), operator, agentID, payee, u(50), "x")
	assert.ErrorIs(t, err, domain.ErrLedger)
	assert.ErrorIs(t, err, errDown)

	s := h.stats(t)
	assert.Equal(t, uint64(1_000), s.Balance.Uint64())
	assert.True(t, s.DailySpent.IsZero())
	assert.Zero(t, s.TotalPayments)

	page, err := h.vault.GetPaymentHistory(context.Background(), agentID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	last := h.events.ForAgent(agentID, 1)[0]
	assert.Equal(t, domain.EventPaymentFailed, last.Type)
	assert.Contains(t, last.Error, errDown.Error())

	// отказ ledger не засчитывается ни в rate, ни в дубликаты
	check, err := h.vault.CheckPayment(context.Background(), operator, agentID, payee, u(50), "x")
	require.NoError(t, err)
	assert.True(t, check.WouldSucceed)
}

func TestKillSwitch(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()

	require.NoError(t, h.vault.KillSwitch(ctx, agentID, true))
	assert.False(t, h.stats(t).IsActive)
	assert.Equal(t, domain.ReasonAgentNotActive, h.pay(t, 10, "x").Reason)

	require.NoError(t, h.vault.KillSwitch(ctx, agentID, false))
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "y").Status)

	assert.ErrorIs(t, h.vault.KillSwitch(ctx, common.Hash{7}, true), domain.ErrNotFound)

	var paused *domain.Event
	for _, e := range h.events.Events() {
		if e.Type == domain.EventAgentPaused {
			paused = &e
		}
	}
	require.NotNil(t, paused)
	assert.Equal(t, common.Address{}, paused.Actor)
	assert.Equal(t, "kill-switch", paused.Reason)
}

func TestKillSwitch_OwnerResumeDoesNotLift(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()

	require.NoError(t, h.vault.KillSwitch(ctx, agentID, true))
	require.NoError(t, h.vault.Resume(ctx, owner, agentID))

	s := h.stats(t)
	assert.False(t, s.IsActive)
	assert.False(t, s.Paused)
	assert.True(t, s.KillSwitched)
	assert.Equal(t, domain.ReasonAgentNotActive, h.pay(t, 10, "x").Reason)

	check, err := h.vault.CheckPayment(ctx, operator, agentID, payee, u(10), "x")
	require.NoError(t, err)
	assert.False(t, check.WouldSucceed)
	assert.Equal(t, domain.ReasonAgentNotActive, check.Reason)

	require.NoError(t, h.vault.KillSwitch(ctx, agentID, false))
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "y").Status)
}

func TestKillSwitch_ReleaseKeepsOwnerPause(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()

	require.NoError(t, h.vault.Pause(ctx, owner, agentID))
	require.NoError(t, h.vault.KillSwitch(ctx, agentID, true))
	require.NoError(t, h.vault.KillSwitch(ctx, agentID, false))

	s := h.stats(t)
	assert.False(t, s.IsActive)
	assert.True(t, s.Paused)
	assert.False(t, s.KillSwitched)
	assert.Equal(t, domain.ReasonAgentNotActive, h.pay(t, 10, "x").Reason)

	require.NoError(t, h.vault.Resume(ctx, owner, agentID))
	assert.True(t, h.stats(t).IsActive)
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 10, "y").Status)
}

func TestKillSwitchedAgents(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 0)
	ctx := context.Background()
	other := common.Hash{31: 0x43}
	require.NoError(t, h.vault.Register(ctx, owner, other, domain.AgentConfig{Limits: limits(1, 1, 1), AuthorizedCaller: operator}))

	assert.Empty(t, h.vault.KillSwitchedAgents(ctx))
	require.NoError(t, h.vault.KillSwitch(ctx, other, true))
	require.NoError(t, h.vault.Pause(ctx, owner, agentID))
	assert.Equal(t, []common.Hash{other}, h.vault.KillSwitchedAgents(ctx))
}

// Лимит можно опустить ниже уже потраченного: остаток насыщается в ноль, платежи блокируются до сброса окна.
func TestUpdateLimits_BelowSpent(t *testing.T) {
	h := newHarness(t)
	h.setup(t, 1_000)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Equal(t, domain.PaymentExecuted, h.pay(t, 100, fmt.Sprintf("p-%d", i)).Status)
	}
	require.NoError(t, h.vault.UpdateLimits(ctx, owner, agentID, limits(100, 200, 2_000)))

	s := h.stats(t)
	assert.Equal(t, uint64(300), s.DailySpent.Uint64())
	assert.Equal(t, uint64(200), s.DailyLimit.Uint64())
	assert.True(t, s.DailyRemaining.IsZero())
	assert.Equal(t, domain.ReasonExceedsDailyLimit, h.pay(t, 1, "over").Reason)

	h.clock.Set(start + policy.DayDuration + 1)
	assert.Equal(t, domain.PaymentExecuted, h.pay(t, 100, "next day").Status)
}

func TestPaymentHistoryPagination(t *testing.T) {
	h := newHarness(t)
	h.register(t, domain.AgentConfig{Limits: limits(10, 10_000, 10_000), AuthorizedCaller: operator}, 10_000)
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		if i%10 == 0 {
			h.clock.Advance(60)
		}
		h.pay(t, 1, fmt.Sprintf("p-%d", i))
	}

	page, err := h.vault.GetPaymentHistory(ctx, agentID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Records, 50)
	assert.Equal(t, uint64(50), page.Limit)
	assert.True(t, page.HasMore)
	assert.Equal(t, uint64(0), page.Records[0].Index)

	page, err = h.vault.GetPaymentHistory(ctx, agentID, 100, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), page.Limit, "capped at max")
	assert.Len(t, page.Records, 20)
	assert.False(t, page.HasMore)
	assert.Equal(t, "p-100", page.Records[0].Reason)

	page, err = h.vault.GetPaymentHistory(ctx, agentID, 500, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.Equal(t, uint64(120), page.Total)
}
