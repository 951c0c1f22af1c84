package testutils

import (
	"context"
	"fmt"

	"github.com/justice-rest/intelmem/pkg/llm"
)

// MockCompleter is a test completer that replays scripted responses.
type MockCompleter struct {
	// Responses are returned in order; the last one repeats once exhausted.
	Responses []string

	// Err, when set, fails every Complete call.
	Err error

	// Calls records every request received.
	Calls []llm.Request

	next int
}

func NewMockCompleter(responses ...string) *MockCompleter {
	return &MockCompleter{Responses: responses}
}

func (m *MockCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock completer has no responses")
	}
	resp := m.Responses[m.next]
	if m.next < len(m.Responses)-1 {
		m.next++
	}
	return resp, nil
}

func (m *MockCompleter) Model() string {
	return "mock-completer"
}

func (m *MockCompleter) Close() error {
	return nil
}
