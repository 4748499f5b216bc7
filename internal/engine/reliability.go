package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agentguard-vault/internal/connectors"
	"github.com/xela07ax/agentguard-vault/internal/ledger"
)

type ReliabilityConfig struct {
	Name          string
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	RPS           float64
	Burst         int
	Attempts      uint
	CallTimeout   time.Duration
}

func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Name:          "token-ledger",
		CBMaxRequests: 3,
		CBInterval:    5 * time.Second,
		CBTimeout:     30 * time.Second,
		RPS:           100,
		Burst:         20,
		Attempts:      3,
		CallTimeout:   10 * time.Second,
	}
}

// ReliabilityWrapper оборачивает удаленный Token Ledger: rate limit, circuit breaker, retry.
// Повтор безопасен, потому что каждый Transfer несет ключ идемпотентности Ref.
type ReliabilityWrapper struct {
	next    ledger.TokenLedger
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
}

func NewReliabilityWrapper(next ledger.TokenLedger, cfg ReliabilityConfig, metrics *Metrics) *ReliabilityWrapper {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	// Нулевые значения из конфига: retry-go считает Attempts(0) бесконечным повтором
	def := DefaultReliabilityConfig()
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	state := metrics.CircuitBreakerState.WithLabelValues(cfg.Name)

	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся
			return counts.ConsecutiveFailures > 5
		},
		// Отказ в бизнес-смысле (нет средств, невалидный перевод) не говорит о здоровье транспорта
		IsSuccessful: func(err error) bool {
			return err == nil || isPermanent(err)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			state.Set(float64(to))
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cfg:     cfg,
	}
}

func (w *ReliabilityWrapper) TransferIn(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	return w.call(ctx, func(ctx context.Context) (ledger.Receipt, error) {
		return w.next.TransferIn(ctx, t)
	})
}

func (w *ReliabilityWrapper) TransferOut(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	return w.call(ctx, func(ctx context.Context) (ledger.Receipt, error) {
		return w.next.TransferOut(ctx, t)
	})
}

func (w *ReliabilityWrapper) call(ctx context.Context, fn func(ctx context.Context) (ledger.Receipt, error)) (ledger.Receipt, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return ledger.Receipt{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var receipt ledger.Receipt
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.RetryIf(func(err error) bool { return !isPermanent(err) }),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если ledger вернул ThrottleError (RESOURCE_EXHAUSTED с подсказкой) — ждем сколько просили
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			var callErr error
			receipt, callErr = fn(tCtx)
			return callErr
		})
		return receipt, retryErr
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	return res.(ledger.Receipt), nil
}

// isPermanent — ошибки, повтор которых ничего не изменит.
func isPermanent(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrInvalidTransfer)
}
