package tts

import (
	"context"
	"sync"
)

// MockSpeaker is a deterministic Speaker for tests: it "speaks"
// instantly, reporting a single 100% progress tick and a duration
// derived from char count, unless StopCurrent is called first.
type MockSpeaker struct {
	mu         sync.Mutex
	spoken     []string
	stopCalls  int
	closeCalls int
	stopNow    bool
}

// NewMockSpeaker creates a MockSpeaker with no utterances recorded.
func NewMockSpeaker() *MockSpeaker {
	return &MockSpeaker{}
}

func (m *MockSpeaker) Speak(ctx context.Context, text string, onProgress ProgressCallback) (Result, error) {
	m.mu.Lock()
	m.spoken = append(m.spoken, text)
	interrupted := m.stopNow
	m.stopNow = false
	m.mu.Unlock()

	if interrupted {
		return Result{}, nil
	}

	if onProgress != nil {
		onProgress(100)
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	return Result{
		AudioDurationSeconds: float64(len(text)) / 15.0,
		CharCount:            len(text),
	}, nil
}

// StopCurrent simulates an interrupt: the next (or in-flight) Speak
// call returns an empty, error-free Result as if playback had been
// cut short.
func (m *MockSpeaker) StopCurrent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.stopNow = true
	return nil
}

func (m *MockSpeaker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// Spoken returns every utterance passed to Speak so far, in order.
func (m *MockSpeaker) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

// StopCalls reports how many times StopCurrent was invoked.
func (m *MockSpeaker) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// CloseCalls reports how many times Close was invoked.
func (m *MockSpeaker) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
