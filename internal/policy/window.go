package policy

import "github.com/ethereum/go-ethereum/common"

const (
	MaxPaymentsPerMinute uint64 = 10
	RateBucket           int64  = 60
	DuplicateWindow      int64  = 5 * 60
)

// RateWindow — состояние circuit breaker: граница текущего 60-секундного бакета и счетчик в нем.
type RateWindow struct {
	Start int64  `json:"start"`
	Count uint64 `json:"count"`
}

func bucketOf(now int64) int64 {
	return now - now%RateBucket
}

// CountAt возвращает число платежей в бакете, которому принадлежит now.
// Если часы перешли в новый бакет, счетчик считается нулевым.
func (w RateWindow) CountAt(now int64) uint64 {
	if bucketOf(now) != w.Start {
		return 0
	}
	return w.Count
}

// Record учитывает исполненный платеж.
func (w *RateWindow) Record(now int64) {
	b := bucketOf(now)
	if b != w.Start {
		w.Start = b
		w.Count = 0
	}
	w.Count++
}

// RecentPayments — ключ дубликата -> время последнего исполнения.
// Записи старше DuplicateWindow считаются отсутствующими.
type RecentPayments map[common.Hash]int64

func (r RecentPayments) Seen(key common.Hash, now int64) bool {
	last, ok := r[key]
	return ok && now-last < DuplicateWindow
}

// Remember фиксирует ключ и попутно вычищает просроченные записи.
func (r RecentPayments) Remember(key common.Hash, now int64) {
	for k, ts := range r {
		if now-ts >= DuplicateWindow {
			delete(r, k)
		}
	}
	r[key] = now
}
