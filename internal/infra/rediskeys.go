package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentguard"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyBlockedAgents — агенты под kill-switch (hex id), источник истины для ресинка
	RedisKeyBlockedAgents = RedisNamespace + ":agents:blocked_set"
)

// Каналы Pub/Sub (события)
const (
	RedisChanKillSwitch = RedisNamespace + ":agents:kill-switch-signal"
	// RedisChanEvents — JSON события движка для дашбордов реального времени
	RedisChanEvents = RedisNamespace + ":events"
)
