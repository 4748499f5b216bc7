package audit

/*
AgentFS — конвейер аудита (Audit Trail) для событий движка.

- Non-blocking Logging: события уходят в буферизованный канал, движок не ждет БД
  внутри критической секции агента.
- Batching: накопление в памяти и пакетная запись по таймеру или по размеру пачки.
- Drain Pattern: Stop закрывает канал, воркер вычитывает остаток и делает финальный flush.
- Load Shedding: при переполнении буфера событие не теряется молча, а уходит в лог ошибок.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// Fill — gauge заполненности буфера, может быть nil
	Fill prometheus.Gauge
}

func DefaultOptions() Options {
	return Options{BufferSize: 10000, BatchSize: 100, FlushInterval: 500 * time.Millisecond}
}

type AgentFS struct {
	ch     chan domain.Event // Буфер для асинхронности
	repo   StorageInterface
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Log после Stop: запись в закрытый канал — паника
	isClosed atomic.Bool
	mu       sync.RWMutex
}

func NewAgentFS(repo StorageInterface, opts Options, logger *zap.Logger) *AgentFS {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}
	return &AgentFS{
		ch:     make(chan domain.Event, opts.BufferSize),
		repo:   repo,
		opts:   opts,
		logger: logger.With(zap.String("mod", "agentfs")),
	}
}

func (fs *AgentFS) Start() {
	fs.wg.Add(1)
	go fs.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (fs *AgentFS) Stop() {
	fs.mu.Lock()
	if fs.isClosed.Swap(true) {
		fs.mu.Unlock()
		return
	}
	fs.logger.Info("stopping auditor: closing channel and flushing buffer...")
	close(fs.ch)
	fs.mu.Unlock()

	fs.wg.Wait() // Ждем, пока воркер вычитает остатки из канала и вызовет flush()
	fs.logger.Info("auditor stopped gracefully")
}

func (fs *AgentFS) Log(event domain.Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	// RLock не дает Stop закрыть канал между проверкой флага и отправкой
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.isClosed.Load() {
		fs.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case fs.ch <- event:
		fs.observeFill()
	default:
		// Backpressure: пишем в стандартный логгер, чтобы не терять след в критической ситуации
		fs.logger.Error("audit_buffer_overflow",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("agent_id", event.AgentID.Hex()),
		)
	}
}

func (fs *AgentFS) observeFill() {
	if fs.opts.Fill != nil {
		fs.opts.Fill.Set(float64(len(fs.ch)))
	}
}

func (fs *AgentFS) worker() {
	defer fs.wg.Done()

	batch := make([]domain.Event, 0, fs.opts.BatchSize)
	ticker := time.NewTicker(fs.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Используем Background, так как основной контекст может быть уже закрыт
			if err := fs.repo.WriteBatch(context.Background(), batch); err != nil {
				fs.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
			}
			// Хранилища могли удержать слайс, поэтому новая пачка — новый массив
			batch = make([]domain.Event, 0, fs.opts.BatchSize)
		}
		fs.observeFill()
	}

	for {
		select {
		case event, ok := <-fs.ch:
			if !ok {
				// Канал закрыт в Stop(): остаток уже вычитан, финальный сброс
				flush()
				fs.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= fs.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
