package flow

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock timestamps. It is injected for testability;
// production code uses SystemClock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// NewExecutionID returns a unique identifier for a new execution.
func NewExecutionID() string {
	return uuid.NewString()
}
