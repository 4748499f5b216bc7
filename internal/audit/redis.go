package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// RedisPublisher транслирует события в Pub/Sub канал для дашбордов реального времени.
// Ничего не хранит: подписчиков нет — события никто не получит.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) WriteBatch(ctx context.Context, events []domain.Event) error {
	pipe := p.rdb.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("redis publisher: marshal %s: %w", e.ID, err)
		}
		pipe.Publish(ctx, p.channel, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publisher: %w", err)
	}
	return nil
}
