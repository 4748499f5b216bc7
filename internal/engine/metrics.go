package engine

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xela07ax/agentguard-vault/internal/domain"
)

type Metrics struct {
	// Traffic: исходы попыток платежа (status=EXECUTED|BLOCKED|QUEUED, reason=код блокировки)
	Payments *prometheus.CounterVec

	// Объем исполненных платежей в минимальных единицах токена
	SettledAmount prometheus.Counter

	// Глубина очереди HITL-подтверждений
	PendingApprovals prometheus.Gauge

	// Saturation: ожидание per-agent блокировки
	LockWait prometheus.Histogram

	// Errors: структурные отказы по операциям
	OperationErrors *prometheus.CounterVec

	// Latency вызовов Token Ledger
	LedgerDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker транспорта (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Payments: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentguard_payments_total",
			Help: "Payment attempts by outcome.",
		}, []string{"status", "reason"}),

		SettledAmount: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agentguard_settled_amount_units_total",
			Help: "Sum of executed payment amounts in token base units.",
		}),

		PendingApprovals: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentguard_pending_approvals",
			Help: "Approval requests waiting for a decision.",
		}),

		LockWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agentguard_agent_lock_wait_seconds",
			Help:    "Time spent waiting for the per-agent critical section.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),

		OperationErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "agentguard_operation_errors_total",
			Help: "Rejected engine operations by kind.",
		}, []string{"op", "kind"}),

		LedgerDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentguard_ledger_call_duration_seconds",
			Help:    "Histogram of token ledger call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentguard_ledger_circuit_breaker_state",
			Help: "Current state of the ledger circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agentguard_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}

// errKind — низкокардинальная метка для OperationErrors.
func errKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, domain.ErrAlreadyResolved):
		return "already_resolved"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, domain.ErrLedger):
		return "ledger"
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidReason), errors.Is(err, domain.ErrInvalidLimits),
		errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "other"
	}
}
