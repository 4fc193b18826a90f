package quota

import (
	"context"
	"sync"
)

// MemoryCounter is an in-process CounterStore for tests and the alert
// simulation command.
type MemoryCounter struct {
	mu   sync.Mutex
	days map[string]int
}

// NewMemoryCounter constructs an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{days: make(map[string]int)}
}

func (c *MemoryCounter) IncrementDay(_ context.Context, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.days[day]++
	return c.days[day], nil
}

func (c *MemoryCounter) ReadDay(_ context.Context, day string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.days[day], nil
}

var _ CounterStore = (*MemoryCounter)(nil)
