package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/audit"
	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

type Settings struct {
	HistoryDefaultLimit uint64
	HistoryMaxLimit     uint64
}

func DefaultSettings() Settings {
	return Settings{HistoryDefaultLimit: 50, HistoryMaxLimit: 100}
}

// Vault — Governance Engine. Оркестрирует реестр, трекер расходов, Safety Gate,
// очередь подтверждений и журнал платежей поверх внешнего Token Ledger.
// Все мутации одного агента сериализуются его мьютексом; разные агенты не блокируют друг друга.
type Vault struct {
	store    *store
	ledger   ledger.TokenLedger
	auditor  audit.Auditor
	clock    Clock
	metrics  *Metrics
	settings Settings
	logger   *zap.Logger
}

func NewVault(settings Settings, tl ledger.TokenLedger, auditor audit.Auditor, clock Clock, metrics *Metrics, logger *zap.Logger) *Vault {
	if settings.HistoryMaxLimit == 0 {
		settings.HistoryMaxLimit = DefaultSettings().HistoryMaxLimit
	}
	if settings.HistoryDefaultLimit == 0 || settings.HistoryDefaultLimit > settings.HistoryMaxLimit {
		settings.HistoryDefaultLimit = min(DefaultSettings().HistoryDefaultLimit, settings.HistoryMaxLimit)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Vault{
		store:    newStore(),
		ledger:   tl,
		auditor:  auditor,
		clock:    clock,
		metrics:  metrics,
		settings: settings,
		logger:   logger.Named("vault"),
	}
}

// lock входит в критическую секцию агента. Отмена контекста учитывается только до входа:
// начатая операция доводится до конца.
func (v *Vault) lock(ctx context.Context, id common.Hash) (*agentState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := v.store.get(id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	st.mu.Lock()
	v.metrics.LockWait.Observe(time.Since(start).Seconds())
	return st, nil
}

func (v *Vault) rlock(ctx context.Context, id common.Hash) (*agentState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := v.store.get(id)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	return st, nil
}

// ownerOp — общая обвязка конфигурационных операций владельца.
func (v *Vault) ownerOp(ctx context.Context, op string, caller common.Address, id common.Hash, fn func(st *agentState, now int64) error) error {
	st, err := v.lock(ctx, id)
	if err != nil {
		return v.fail(op, id, err)
	}
	defer st.mu.Unlock()

	if st.agent.Owner != caller {
		return v.fail(op, id, fmt.Errorf("%s by %s: %w", op, caller.Hex(), domain.ErrNotAuthorized))
	}
	if err := fn(st, v.clock.Now()); err != nil {
		return v.fail(op, id, err)
	}
	return nil
}

// fail учитывает и логирует структурный отказ, возвращая ошибку без изменений.
func (v *Vault) fail(op string, id common.Hash, err error) error {
	v.metrics.OperationErrors.WithLabelValues(op, errKind(err)).Inc()
	v.logger.Warn("operation rejected",
		zap.String("op", op),
		zap.String("agent_id", id.Hex()),
		zap.Error(err),
	)
	return err
}

// emit отдает событие в sink. Вызывается под блокировкой агента,
// поэтому порядок событий одного агента совпадает с порядком мутаций.
func (v *Vault) emit(e domain.Event) {
	e.ID = uuid.NewString()
	v.auditor.Log(e)
}

func validateAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrInvalidAmount
	}
	return nil
}

func validateAddress(a common.Address) error {
	if a == (common.Address{}) {
		return domain.ErrInvalidAddress
	}
	return nil
}

func validatePayment(recipient common.Address, amount *uint256.Int, reason string) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if err := validateAddress(recipient); err != nil {
		return fmt.Errorf("recipient: %w", err)
	}
	if strings.TrimSpace(reason) == "" {
		return domain.ErrInvalidReason
	}
	return nil
}
