// Package testutil provides oracle fakes for tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/c360studio/semplan/llm"
)

// MockLLMClient is a thread-safe llm.Completer returning canned responses in
// order. Err takes precedence over Responses.
//
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"Explanation": "x", "Summary_Key": "y"}`},
//	    },
//	}
type MockLLMClient struct {
	mu            sync.Mutex
	Responses     []*llm.Response
	Err           error
	requests      []llm.Request
	responseIndex int
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return resp, nil
	}
	return &llm.Response{Model: "test-model"}, nil
}

// Requests returns the requests seen so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// GetCallCount returns the number of Complete calls.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears recorded requests and rewinds the responses.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
}

// MockOracle answers prompts from a function or a table of substring rules.
// The first rule whose Contains appears in the prompt wins; unmatched prompts
// get Default. A non-nil Err fails every call.
type MockOracle struct {
	mu      sync.Mutex
	Respond func(ctx context.Context, prompt string) (string, error)
	Rules   []Rule
	Default string
	Err     error
	prompts []string
}

// Rule maps a prompt substring to a reply.
type Rule struct {
	Contains string
	Reply    string
}

// Invoke records prompt and answers it.
func (m *MockOracle) Invoke(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	respond, rules, def, err := m.Respond, m.Rules, m.Default, m.Err
	m.mu.Unlock()

	if err != nil {
		return "", err
	}
	if respond != nil {
		return respond(ctx, prompt)
	}
	for _, r := range rules {
		if strings.Contains(prompt, r.Contains) {
			return r.Reply, nil
		}
	}
	return def, nil
}

// Prompts returns every prompt seen so far, in call order.
func (m *MockOracle) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Calls returns the number of Invoke calls.
func (m *MockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
