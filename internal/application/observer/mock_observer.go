package observer

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockObserver is a test observer that records every event it receives
// and can be told to fail or panic, exercising the manager's recovery
// paths.
type MockObserver struct {
	name        string
	events      []Event
	callCount   int
	mu          sync.Mutex
	filter      EventFilter
	shouldFail  bool
	failError   error
	shouldPanic bool
}

// NewMockObserver creates a new mock observer
func NewMockObserver(name string) *MockObserver {
	return &MockObserver{
		name:   name,
		events: make([]Event, 0),
	}
}

// Name returns the observer's name
func (m *MockObserver) Name() string {
	return m.name
}

// Filter returns the event filter
func (m *MockObserver) Filter() EventFilter {
	return m.filter
}

// OnEvent records the event
func (m *MockObserver) OnEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.events = append(m.events, event)

	if m.shouldPanic {
		panic("mock observer panic")
	}
	if m.shouldFail {
		if m.failError != nil {
			return m.failError
		}
		return fmt.Errorf("mock observer error")
	}

	return nil
}

// GetEvents returns a copy of all recorded events
func (m *MockObserver) GetEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	eventsCopy := make([]Event, len(m.events))
	copy(eventsCopy, m.events)
	return eventsCopy
}

// EventsForExecution returns the recorded events scoped to one execution,
// in arrival order.
func (m *MockObserver) EventsForExecution(executionID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.ExecutionID == executionID {
			out = append(out, e)
		}
	}
	return out
}

// NodeStatuses returns the status sequence recorded for one node.
func (m *MockObserver) NodeStatuses(nodeID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, e := range m.events {
		if e.NodeID != nil && *e.NodeID == nodeID {
			out = append(out, e.Status)
		}
	}
	return out
}

// GetCallCount returns the number of times OnEvent was called
func (m *MockObserver) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// WaitForCount polls until at least n events arrived or timeout elapses,
// reporting whether the count was reached. Needed because the manager
// notifies asynchronously.
func (m *MockObserver) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.GetCallCount() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return m.GetCallCount() >= n
}

// SetFilter sets the event filter
func (m *MockObserver) SetFilter(filter EventFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
}

// SetShouldFail configures failure behavior
func (m *MockObserver) SetShouldFail(fail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = fail
	m.failError = err
}

// SetShouldPanic makes OnEvent panic, for the manager's recovery path.
func (m *MockObserver) SetShouldPanic(p bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldPanic = p
}

// Reset clears all recorded events and resets call count
func (m *MockObserver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make([]Event, 0)
	m.callCount = 0
}
