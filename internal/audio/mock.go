package audio

import (
	"context"
	"sync"
	"time"

	"github.com/parley-voice/parley/internal/speech"
)

// MockPlayer is a Player for tests. It records everything handed to it
// and simulates playback by sleeping a configurable duration per call.
type MockPlayer struct {
	mu        sync.Mutex
	playDelay time.Duration
	playErr   error
	played    []*speech.AudioResource
	stops     int
	closed    bool
	started   chan *speech.AudioResource
}

// NewMockPlayer returns a mock that records plays without delay.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// SetPlayDelay sets how long each Play blocks, standing in for real
// device time. Safe to change while playback is in progress.
func (m *MockPlayer) SetPlayDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playDelay = d
}

// SetPlayErr makes every subsequent Play return err.
func (m *MockPlayer) SetPlayErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// NotifyStarted sets a channel that receives each resource as its
// playback begins. Sends never block; the channel should be buffered.
func (m *MockPlayer) NotifyStarted(ch chan *speech.AudioResource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = ch
}

// Play records the resource, then blocks for PlayDelay or until the
// context is cancelled.
func (m *MockPlayer) Play(ctx context.Context, res *speech.AudioResource) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.playErr != nil {
		err := m.playErr
		m.mu.Unlock()
		return err
	}
	m.played = append(m.played, res)
	started := m.started
	delay := m.playDelay
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- res:
		default:
		}
	}

	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stop records the stop call.
func (m *MockPlayer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

// Close marks the mock closed; further plays fail with ErrClosed.
func (m *MockPlayer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Played returns a copy of the resources played so far, in order.
func (m *MockPlayer) Played() []*speech.AudioResource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*speech.AudioResource, len(m.played))
	copy(out, m.played)
	return out
}

// Stops returns how many times Stop was called.
func (m *MockPlayer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
