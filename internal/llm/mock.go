package llm

import (
	"context"
	"sync"
)

// Mock is a Client for tests with a fixed answer table.
type Mock struct {
	// Answers maps questions to canned answers.
	Answers map[string]string

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls []string
}

// Answer returns the canned answer for the question, or ErrEmptyAnswer
// when none is configured.
func (m *Mock) Answer(_ context.Context, question string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, question)
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	answer, ok := m.Answers[question]
	if !ok {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}

// Calls returns the questions asked so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
