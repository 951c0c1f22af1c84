package testutils

import (
	"context"
	"sync"

	"github.com/justice-rest/intelmem/pkg/eventstream"
)

// MockPublisher records published events for assertions.
type MockPublisher struct {
	// Err, when set, fails every Publish call.
	Err error

	mu     sync.Mutex
	events []*eventstream.MemoryEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(_ context.Context, event *eventstream.MemoryEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}

// Events returns a snapshot of everything published so far.
func (m *MockPublisher) Events() []*eventstream.MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*eventstream.MemoryEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsOfType returns published events matching the given type.
func (m *MockPublisher) EventsOfType(eventType string) []*eventstream.MemoryEvent {
	var out []*eventstream.MemoryEvent
	for _, event := range m.Events() {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}
