package engine

import "time"

// Clock — единственный источник времени движка. Один вызов операции читает его один раз.
type Clock interface {
	Now() int64 // unix-секунды
}

type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
