package audit

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// Recorder — кольцо последних событий в памяти. Служит лентой событий для Console API
// и синхронным sink'ом в тестах.
type Recorder struct {
	mu     sync.RWMutex
	events []domain.Event
	max    int
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 1000
	}
	return &Recorder{max: max}
}

func (r *Recorder) Log(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if over := len(r.events) - r.max; over > 0 {
		r.events = append(r.events[:0:0], r.events[over:]...)
	}
}

func (r *Recorder) WriteBatch(_ context.Context, events []domain.Event) error {
	for _, e := range events {
		r.Log(e)
	}
	return nil
}

// Events возвращает копию в порядке поступления.
func (r *Recorder) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForAgent — события одного агента, не более limit последних (0 — все).
func (r *Recorder) ForAgent(id common.Hash, limit int) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Event{}
	for _, e := range r.events {
		if e.AgentID == id {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Recent — то же, что ForAgent, в форме источника ленты событий Console API.
func (r *Recorder) Recent(_ context.Context, id common.Hash, limit int) ([]domain.Event, error) {
	return r.ForAgent(id, limit), nil
}

// Types — только типы событий, удобно для проверок последовательности.
func (r *Recorder) Types() []domain.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
