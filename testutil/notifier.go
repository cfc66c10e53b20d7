package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/Lej77/tst-mark-tabs/types"
)

// NotifyCall records one sidebar notification for verification.
type NotifyCall struct {
	Tabs    []types.TabID
	States  []string
	Present bool
}

// MockNotifier is an in-memory stand-in for the remote sidebar process.
// Ground contains the sidebar's ground-truth states per tab, consulted
// by queries and updated by acknowledged notifications.
type MockNotifier struct {
	mu     sync.Mutex
	ground map[types.TabID][]string

	// Failure scripting: FailAll makes every notification unacknowledged;
	// FailNext fails that many notifications before recovering.
	FailAll  bool
	FailNext int
	// NotifyErr is returned as a transport error instead of a refusal.
	NotifyErr error
	QueryErr  error

	Calls      []NotifyCall
	QueryCalls int
}

// NewMockNotifier creates a notifier with empty ground truth.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{ground: make(map[types.TabID][]string)}
}

// SeedGround sets the sidebar's ground-truth states for a tab.
func (m *MockNotifier) SeedGround(tab types.TabID, states ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ground[tab] = slices.Clone(states)
}

// NotifyState implements the sidebar contract: a bulk add/remove of
// state names across tabs, returning whether the sidebar acknowledged.
func (m *MockNotifier) NotifyState(ctx context.Context, tabs []types.TabID, states []string, present bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, NotifyCall{
		Tabs:    slices.Clone(tabs),
		States:  slices.Clone(states),
		Present: present,
	})

	if m.NotifyErr != nil {
		return false, m.NotifyErr
	}
	if m.FailAll {
		return false, nil
	}
	if m.FailNext > 0 {
		m.FailNext--
		return false, nil
	}

	for _, tab := range tabs {
		current := m.ground[tab]
		for _, state := range states {
			has := slices.Contains(current, state)
			if present && !has {
				current = append(current, state)
			} else if !present && has {
				current = slices.DeleteFunc(current, func(s string) bool { return s == state })
			}
		}
		m.ground[tab] = current
	}
	return true, nil
}

// TabStates implements the sidebar query contract. A nil tab list asks
// for every tab the sidebar knows about.
func (m *MockNotifier) TabStates(ctx context.Context, tabs []types.TabID) (map[types.TabID][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	if tabs == nil {
		out := make(map[types.TabID][]string, len(m.ground))
		for tab, states := range m.ground {
			out[tab] = slices.Clone(states)
		}
		return out, nil
	}

	out := make(map[types.TabID][]string, len(tabs))
	for _, tab := range tabs {
		out[tab] = slices.Clone(m.ground[tab])
	}
	return out, nil
}

// Ground returns the sidebar's ground-truth states for verification.
func (m *MockNotifier) Ground(tab types.TabID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := slices.Clone(m.ground[tab])
	slices.Sort(states)
	return states
}

// CallCount returns how many notifications were issued.
func (m *MockNotifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// CallsSnapshot returns a copy of the recorded notifications.
func (m *MockNotifier) CallsSnapshot() []NotifyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Calls)
}
