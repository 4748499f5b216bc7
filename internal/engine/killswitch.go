package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
	"github.com/xela07ax/agentguard-vault/internal/infra"
)

// KillSwitcher — аварийная остановка агента в обход владельца.
// Реализуют Vault (локально) и KillSwitchManager (через Redis на все инстансы).
type KillSwitcher interface {
	KillSwitch(ctx context.Context, id common.Hash, engaged bool) error
}

// SwitchTarget — локальный движок, к которому применяются сигналы.
// KillSwitchedAgents нужен ресинку, чтобы снять блокировки, отмененные во время разрыва.
type SwitchTarget interface {
	KillSwitcher
	KillSwitchedAgents(ctx context.Context) []common.Hash
}

// KillSwitchManager распространяет сигналы kill-switch через Redis:
// множество заблокированных агентов — источник истины, канал — доставка изменений.
type KillSwitchManager struct {
	rdb    *redis.Client
	target SwitchTarget
	logger *zap.Logger
}

func NewKillSwitchManager(rdb *redis.Client, target SwitchTarget, logger *zap.Logger) *KillSwitchManager {
	return &KillSwitchManager{
		rdb:    rdb,
		target: target,
		logger: logger.Named("kill-switch"),
	}
}

// KillSwitch — сторона оператора: фиксирует состояние в Redis и оповещает все инстансы,
// включая текущий (он получит сигнал через свою подписку).
func (m *KillSwitchManager) KillSwitch(ctx context.Context, id common.Hash, engaged bool) error {
	signal := "off"
	pipe := m.rdb.TxPipeline()
	if engaged {
		signal = "on"
		pipe.SAdd(ctx, infra.RedisKeyBlockedAgents, id.Hex())
	} else {
		pipe.SRem(ctx, infra.RedisKeyBlockedAgents, id.Hex())
	}
	pipe.Publish(ctx, infra.RedisChanKillSwitch, id.Hex()+":"+signal)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kill-switch publish: %w", err)
	}
	return nil
}

// Init загружает текущее множество блокировок. Вызывается при каждом (пере)подключении,
// чтобы не потерять сигналы, пришедшие во время разрыва.
func (m *KillSwitchManager) Init(ctx context.Context) error {
	ids, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedAgents).Result()
	if err != nil {
		return err
	}
	m.resync(ctx, ids)
	m.logger.Info("kill-switch state synced", zap.Int("blocked", len(ids)))
	return nil
}

// resync приводит локальные флаги к множеству blocked: включает недостающие и снимает лишние.
func (m *KillSwitchManager) resync(ctx context.Context, blocked []string) {
	set := make(map[common.Hash]bool, len(blocked))
	for _, raw := range blocked {
		if id, err := domain.ParseAgentID(raw); err == nil {
			set[id] = true
		}
		m.Apply(ctx, raw, true)
	}
	for _, id := range m.target.KillSwitchedAgents(ctx) {
		if !set[id] {
			m.Apply(ctx, id.Hex(), false)
		}
	}
}

// Apply разбирает id из сигнала и применяет его к локальному движку.
func (m *KillSwitchManager) Apply(ctx context.Context, raw string, engaged bool) {
	id, err := domain.ParseAgentID(raw)
	if err != nil {
		m.logger.Error("invalid kill-switch agent id", zap.String("payload", raw), zap.Error(err))
		return
	}
	if err := m.target.KillSwitch(ctx, id, engaged); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Агент зарегистрирован на другом инстансе или еще не создан
			m.logger.Debug("kill-switch for unknown agent", zap.String("agent_id", id.Hex()))
			return
		}
		m.logger.Error("kill-switch apply failed", zap.String("agent_id", id.Hex()), zap.Error(err))
	}
}

// Start блокирует до отмены ctx.
func (m *KillSwitchManager) Start(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch,
		func() error { return m.Init(ctx) },
		func(id string, engaged bool) { m.Apply(ctx, id, engaged) },
	)
}
