package tool

import (
	"context"
	"sync"
)

// MockInvoker is a test double for Invoker. Use it in executor tests
// to verify tool dispatch without calling a real cloud API.
type MockInvoker struct {
	// Responses maps a tool name to the result it should return.
	Responses map[string]map[string]any

	// Errs maps a tool name to an error it should return instead of a
	// response.
	Errs map[string]error

	mu    sync.Mutex
	Calls []MockCall
}

// MockCall records one invocation observed by MockInvoker.
type MockCall struct {
	ToolName string
	Args     map[string]any
}

func (m *MockInvoker) Invoke(_ context.Context, toolName string, args map[string]any) (map[string]any, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{ToolName: toolName, Args: args})
	m.mu.Unlock()

	if m.Errs != nil {
		if err, ok := m.Errs[toolName]; ok {
			return nil, err
		}
	}
	if m.Responses != nil {
		if resp, ok := m.Responses[toolName]; ok {
			return resp, nil
		}
	}
	return map[string]any{}, nil
}

// CallCount returns how many times toolName was invoked.
func (m *MockInvoker) CallCount(toolName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.ToolName == toolName {
			n++
		}
	}
	return n
}
