package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ListenStateResilient — цикл "живучей" подписки на сигналы Redis формата "<id>:<on|off>".
// Переподписывается после обрыва, на каждом успешном подключении вызывает onReconnect.
func ListenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error, // синхронизация пропущенного состояния
	onMessage func(id string, on bool),
) {
	for ctx.Err() == nil {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			sleepCtx(ctx, 5*time.Second)
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				id, on, valid := parseSignal(msg.Payload)
				if !valid {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(id, on)
			}
		}

		pubsub.Close()
		sleepCtx(ctx, time.Second)
	}
}

// parseSignal: id — всё до последнего ':', статус — "on"/"true" либо "off"/"false".
func parseSignal(payload string) (id string, on bool, ok bool) {
	i := strings.LastIndexByte(payload, ':')
	if i <= 0 {
		return "", false, false
	}
	id = payload[:i]
	switch strings.ToLower(payload[i+1:]) {
	case "on", "true":
		return id, true, true
	case "off", "false":
		return id, false, true
	default:
		return "", false, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
