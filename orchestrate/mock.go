package orchestrate

import (
	"context"
	"sync"
	"time"

	"github.com/randalmurphal/llmflow/provider"
)

// MockAdapter is a test double for provider.Adapter.
// It supports fixed responses, sequential responses, and custom handlers.
type MockAdapter struct {
	mu          sync.Mutex
	responses   []string
	responseIdx int
	err         error
	executeFunc func(ctx context.Context, req provider.Request) (*provider.Response, error)
	streamFunc  func(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error)

	// Calls tracks all requests for assertions.
	Calls []provider.Request
}

// NewMockAdapter creates a mock that returns a fixed response.
func NewMockAdapter(response string) *MockAdapter {
	return &MockAdapter{responses: []string{response}}
}

// WithResponses configures sequential responses.
// Cycles back to the beginning after exhausting all responses.
func (m *MockAdapter) WithResponses(responses ...string) *MockAdapter {
	m.responses = responses
	return m
}

// WithError configures the mock to always return an error.
func (m *MockAdapter) WithError(err error) *MockAdapter {
	m.err = err
	return m
}

// WithExecuteFunc sets a custom handler for Execute calls.
// This takes precedence over fixed responses.
func (m *MockAdapter) WithExecuteFunc(fn func(ctx context.Context, req provider.Request) (*provider.Response, error)) *MockAdapter {
	m.executeFunc = fn
	return m
}

// WithStreamFunc sets a custom handler for Stream calls.
func (m *MockAdapter) WithStreamFunc(fn func(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error)) *MockAdapter {
	m.streamFunc = fn
	return m
}

// Execute implements provider.Adapter.
func (m *MockAdapter) Execute(ctx context.Context, req provider.Request) (*provider.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if m.executeFunc != nil {
		return m.executeFunc(ctx, req)
	}
	if m.err != nil {
		return nil, m.err
	}

	response := m.nextResponse()
	return &provider.Response{
		Content: response,
		Usage: provider.TokenUsage{
			InputTokens:  10,
			OutputTokens: len(response) / 4,
			TotalTokens:  10 + len(response)/4,
		},
		Model:    req.Model,
		Duration: 10 * time.Millisecond,
	}, nil
}

// Stream implements provider.Adapter.
func (m *MockAdapter) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)

	if m.streamFunc != nil {
		fn := m.streamFunc
		m.mu.Unlock()
		return fn(ctx, req)
	}
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}

	response := m.nextResponse()
	m.mu.Unlock()

	ch := make(chan provider.Chunk, len(response)/8+2)
	go func() {
		defer close(ch)
		// Emit in small pieces like a real stream.
		for i := 0; i < len(response); i += 8 {
			end := i + 8
			if end > len(response) {
				end = len(response)
			}
			select {
			case ch <- provider.Chunk{Content: response[i:end]}:
			case <-ctx.Done():
				return
			}
		}
		ch <- provider.Chunk{
			Done: true,
			Usage: &provider.TokenUsage{
				InputTokens:  10,
				OutputTokens: len(response) / 4,
				TotalTokens:  10 + len(response)/4,
			},
		}
	}()
	return ch, nil
}

// EstimateTokenCount implements provider.Adapter with a 4-chars-per-token
// heuristic.
func (m *MockAdapter) EstimateTokenCount(text string) int {
	return len(text) / 4
}

// CallCount returns how many requests the mock has received.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func (m *MockAdapter) nextResponse() string {
	response := ""
	if len(m.responses) > 0 {
		response = m.responses[m.responseIdx%len(m.responses)]
		m.responseIdx++
	}
	return response
}
