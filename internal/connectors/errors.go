package connectors

import (
	"fmt"
	"time"
)

// ThrottleError — удаленная сторона попросила подождать (RESOURCE_EXHAUSTED).
// ReliabilityWrapper использует RetryAfter вместо экспоненциального бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
