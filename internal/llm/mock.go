package llm

import "context"

// MockClient is a test double for the LLM Client interface.
type MockClient struct {
	Response *Response
	Err      error
	Calls    []string // records prompts sent

	// Fn, when set, decides the response per prompt. Used by classifier
	// tests that need different answers for different candidates.
	Fn func(prompt string) (*Response, error)
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Fn != nil {
		return m.Fn(prompt)
	}
	return m.Response, m.Err
}
