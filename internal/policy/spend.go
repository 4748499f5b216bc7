package policy

import "github.com/xela07ax/agentguard-vault/internal/domain"

const (
	DayDuration   int64 = 24 * 60 * 60
	MonthDuration int64 = 30 * DayDuration
)

// Refresh лениво сбрасывает дневное и месячное окна агента на момент now (секунды).
// Идемпотентна: повторный вызов в том же окне ничего не меняет.
// Возвращает true, если хотя бы один счетчик был обнулен.
func Refresh(a *domain.Agent, now int64) bool {
	reset := false
	if now-a.LastDayReset >= DayDuration {
		a.DailySpent.Clear()
		a.LastDayReset = now
		reset = true
	}
	if now-a.LastMonthReset >= MonthDuration {
		a.MonthlySpent.Clear()
		a.LastMonthReset = now
		reset = true
	}
	return reset
}
