package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/agentguard-vault/internal/domain"
)

// countingStorage запоминает размеры пачек.
type countingStorage struct {
	mu      sync.Mutex
	batches []int
	events  []domain.Event
	err     error
}

func (s *countingStorage) WriteBatch(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(events))
	s.events = append(s.events, events...)
	return s.err
}

func (s *countingStorage) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAgentFS_DrainOnStop(t *testing.T) {
	store := &countingStorage{}
	fs := NewAgentFS(store, Options{BufferSize: 1000, BatchSize: 100, FlushInterval: time.Hour}, zap.NewNop())
	fs.Start()

	for i := 0; i < 250; i++ {
		fs.Log(domain.Event{Type: domain.EventDeposit, Timestamp: int64(i + 1)})
	}
	fs.Stop()

	require.Equal(t, 250, store.total())
	assert.Equal(t, []int{100, 100, 50}, store.batches)
	assert.Equal(t, int64(1), store.events[0].Timestamp, "order preserved")
	assert.Equal(t, int64(250), store.events[249].Timestamp)
}

func TestAgentFS_FlushByTimer(t *testing.T) {
	store := &countingStorage{}
	fs := NewAgentFS(store, Options{FlushInterval: 10 * time.Millisecond}, zap.NewNop())
	fs.Start()
	defer fs.Stop()

	fs.Log(domain.Event{Type: domain.EventAgentPaused})
	assert.Eventually(t, func() bool { return store.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAgentFS_StampsTimestamp(t *testing.T) {
	store := &countingStorage{}
	fs := NewAgentFS(store, DefaultOptions(), zap.NewNop())
	fs.Start()
	fs.Log(domain.Event{Type: domain.EventAgentResumed})
	fs.Stop()

	require.Equal(t, 1, store.total())
	assert.NotZero(t, store.events[0].Timestamp)
}

func TestAgentFS_LogAfterStopIsDropped(t *testing.T) {
	store := &countingStorage{}
	fs := NewAgentFS(store, DefaultOptions(), zap.NewNop())
	fs.Start()
	fs.Stop()

	assert.NotPanics(t, func() { fs.Log(domain.Event{Type: domain.EventDeposit}) })
	assert.NotPanics(t, fs.Stop)
	assert.Equal(t, 0, store.total())
}

func TestAgentFS_OverflowSheds(t *testing.T) {
	store := &countingStorage{}
	fs := NewAgentFS(store, Options{BufferSize: 2}, zap.NewNop())

	// воркер не запущен: буфер заполняется и третье событие отбрасывается
	for i := 0; i < 3; i++ {
		fs.Log(domain.Event{Type: domain.EventDeposit})
	}
	fs.Start()
	fs.Stop()
	assert.Equal(t, 2, store.total())
}

func TestFanOut_WritesAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &countingStorage{}
	bad := &countingStorage{err: boom}

	err := FanOut{bad, ok}.WriteBatch(context.Background(), []domain.Event{{Type: domain.EventDeposit}})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, ok.total())
	assert.Equal(t, 1, bad.total())
}

func TestRecorder_RingAndFilter(t *testing.T) {
	r := NewRecorder(3)
	a, b := common.Hash{1}, common.Hash{2}
	r.Log(domain.Event{AgentID: a, Type: domain.EventAgentRegistered})
	r.Log(domain.Event{AgentID: b, Type: domain.EventAgentRegistered})
	r.Log(domain.Event{AgentID: a, Type: domain.EventDeposit})
	r.Log(domain.Event{AgentID: a, Type: domain.EventPaymentExecuted})

	assert.Len(t, r.Events(), 3)
	assert.Equal(t, []domain.EventType{
		domain.EventAgentRegistered, domain.EventDeposit, domain.EventPaymentExecuted,
	}, r.Types())

	got := r.ForAgent(a, 1)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventPaymentExecuted, got[0].Type)
	assert.Len(t, r.ForAgent(a, 0), 2)
}
