package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are consumed in
// order; the last one repeats once the script is exhausted.
type MockClient struct {
	mu      sync.Mutex
	script  []MockResult
	calls   int
	prompts []string
}

// MockResult is one scripted call outcome.
type MockResult struct {
	Response RawResponse
	Err      error
}

// NewMockClient creates a scripted client.
func NewMockClient(script ...MockResult) *MockClient {
	return &MockClient{script: script}
}

// Call implements Client.
func (m *MockClient) Call(ctx context.Context, prompt string, _ CallParams) (RawResponse, error) {
	if err := ctx.Err(); err != nil {
		return RawResponse{}, &TransportError{Class: ClassOther, Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	idx := m.calls
	m.calls++
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	if idx < 0 {
		return RawResponse{}, &TransportError{Class: ClassOther, Err: context.Canceled}
	}
	r := m.script[idx]
	return r.Response, r.Err
}

// Calls returns how many times Call ran.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns the prompts received, in order.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
