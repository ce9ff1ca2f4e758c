package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/codecrew-dev/codecrew/core"
)

// Mock is a deterministic in-memory Completer for tests and examples. It
// returns its scripted responses in order; once exhausted it echoes the last
// user turn. Set Err to simulate a transport failure.
type Mock struct {
	mu     sync.Mutex
	queued []*core.ToolCallResponse
	calls  int

	// Err, when non-nil, is returned by every Complete call.
	Err error

	// CompleteFn, when set, overrides the scripted behavior entirely.
	CompleteFn func(ctx context.Context, conversation []core.ChatMessage, toolServices []string) (*core.ToolCallResponse, error)
}

// NewMock constructs a Mock that replies with the given responses in order.
func NewMock(responses ...*core.ToolCallResponse) *Mock {
	return &Mock{queued: responses}
}

// Enqueue appends another scripted response.
func (m *Mock) Enqueue(resp *core.ToolCallResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, resp)
}

// Calls reports how many Complete round trips have been made.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete implements core.Completer.
func (m *Mock) Complete(
	ctx context.Context,
	conversation []core.ChatMessage,
	toolServices []string,
) (*core.ToolCallResponse, error) {
	if m.CompleteFn != nil {
		m.mu.Lock()
		m.calls++
		m.mu.Unlock()
		return m.CompleteFn(ctx, conversation, toolServices)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.queued) > 0 {
		resp := m.queued[0]
		m.queued = m.queued[1:]
		return resp, nil
	}

	last := ""
	for _, turn := range conversation {
		if turn.Role == "user" {
			last = turn.Content
		}
	}
	return core.NewTextResponse(fmt.Sprintf("mock response to: %s", last)), nil
}
