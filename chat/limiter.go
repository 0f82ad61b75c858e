package chat

import (
	"fmt"
	"sync"

	"github.com/sema-ai/semachat/core"
)

// StreamLimiter caps the number of concurrently open streams. Acquire fails
// fast instead of queuing; a queued stream would only age out client-side.
type StreamLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewStreamLimiter creates a limiter admitting up to max concurrent streams.
// If max == 0, no limit is enforced.
func NewStreamLimiter(max int) *StreamLimiter {
	return &StreamLimiter{max: max}
}

// Acquire claims one stream slot, returning a capacity error when the cap is
// already met.
func (sl *StreamLimiter) Acquire() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.max > 0 && sl.count >= sl.max {
		return fmt.Errorf("%w: %d streams already active", core.ErrCapacity, sl.count)
	}
	sl.count++
	return nil
}

// Release returns a previously acquired slot. Calling it without a matching
// Acquire is a programming error; the counter never goes negative.
func (sl *StreamLimiter) Release() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.count > 0 {
		sl.count--
	}
}

// Active returns the number of streams currently holding slots.
func (sl *StreamLimiter) Active() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.count
}
