package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Lej77/tst-mark-tabs/types"
)

// MockSource is an in-memory durable tab-fact store. The zero value is
// usable; Seed populates initial data.
type MockSource struct {
	mu   sync.Mutex
	data map[types.TabID]map[string]any

	// Failure injection
	ListErr   error
	GetErr    error
	SetErr    error
	RemoveErr error

	// Latency injection for hydration-race tests
	GetDelay time.Duration

	// Call counts for verification
	ListCalls   int
	GetCalls    int
	SetCalls    int
	RemoveCalls int
}

// NewMockSource creates an empty mock store.
func NewMockSource() *MockSource {
	return &MockSource{data: make(map[types.TabID]map[string]any)}
}

// Seed stores a value directly, bypassing counters and failures.
func (m *MockSource) Seed(tab types.TabID, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[types.TabID]map[string]any)
	}
	facts := m.data[tab]
	if facts == nil {
		facts = make(map[string]any)
		m.data[tab] = facts
	}
	facts[key] = value
}

// SeedTab registers a tab without any facts.
func (m *MockSource) SeedTab(tab types.TabID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[types.TabID]map[string]any)
	}
	if m.data[tab] == nil {
		m.data[tab] = make(map[string]any)
	}
}

// ListTabIDs implements the durable-store contract.
func (m *MockSource) ListTabIDs(ctx context.Context) ([]types.TabID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListCalls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	ids := make([]types.TabID, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// GetValue implements the durable-store contract.
func (m *MockSource) GetValue(ctx context.Context, tab types.TabID, key string) (any, bool, error) {
	if m.GetDelay > 0 {
		timer := time.NewTimer(m.GetDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false, ctx.Err()
		case <-timer.C:
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return nil, false, m.GetErr
	}
	facts := m.data[tab]
	if facts == nil {
		return nil, false, nil
	}
	value, ok := facts[key]
	return value, ok, nil
}

// SetValue implements the durable-store contract.
func (m *MockSource) SetValue(ctx context.Context, tab types.TabID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.data == nil {
		m.data = make(map[types.TabID]map[string]any)
	}
	facts := m.data[tab]
	if facts == nil {
		facts = make(map[string]any)
		m.data[tab] = facts
	}
	facts[key] = value
	return nil
}

// RemoveValue implements the durable-store contract.
func (m *MockSource) RemoveValue(ctx context.Context, tab types.TabID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	if facts := m.data[tab]; facts != nil {
		delete(facts, key)
	}
	return nil
}

// Value returns the stored value for verification.
func (m *MockSource) Value(tab types.TabID, key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	facts := m.data[tab]
	if facts == nil {
		return nil, false
	}
	v, ok := facts[key]
	return v, ok
}
