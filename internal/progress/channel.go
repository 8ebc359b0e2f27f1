package progress

import (
	"context"
	"sync"
)

// Channel publishes per-job progress to observers.
type Channel interface {
	Set(ctx context.Context, jobID string, value int) error
	Clear(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (int, bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryChannel keeps progress in process memory. It backs one-shot CLI runs
// and tests.
type MemoryChannel struct {
	mu      sync.Mutex
	values  map[string]int
	history map[string][]int
}

// NewMemory returns an empty in-memory channel.
func NewMemory() *MemoryChannel {
	return &MemoryChannel{values: make(map[string]int), history: make(map[string][]int)}
}

func (m *MemoryChannel) Set(_ context.Context, jobID string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[jobID] = value
	m.history[jobID] = append(m.history[jobID], value)
	return nil
}

func (m *MemoryChannel) Clear(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, jobID)
	return nil
}

func (m *MemoryChannel) Get(_ context.Context, jobID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[jobID]
	return v, ok, nil
}

// History returns every value ever set for jobID, in order.
func (m *MemoryChannel) History(jobID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history[jobID]...)
}

func (m *MemoryChannel) Ping(context.Context) error { return nil }

func (m *MemoryChannel) Close() error { return nil }
