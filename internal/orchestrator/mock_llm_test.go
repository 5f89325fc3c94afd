package orchestrator

import (
	"context"
	"fmt"

	"github.com/codalite/coda/internal/llm"
)

// scriptedLLM returns queued responses in order, one per ChatStream
// call, streaming each as a single token. It lets tests drive both
// passes of the two-pass protocol deterministically.
type scriptedLLM struct {
	responses []string
	calls     int
	errOn     map[int]error
	// inputTokens/outputTokens, when non-zero, are reported on every
	// ChatResponse so tests can exercise usage/cost recording without
	// a real model backend.
	inputTokens  int
	outputTokens int
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	return nil, fmt.Errorf("Chat not used in tests")
}

func (s *scriptedLLM) ChatStream(_ context.Context, _ string, _ []llm.Message, _ []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	idx := s.calls
	s.calls++
	if err, ok := s.errOn[idx]; ok {
		return nil, err
	}
	if idx >= len(s.responses) {
		return nil, fmt.Errorf("scriptedLLM: no response queued for call %d", idx)
	}
	text := s.responses[idx]
	if callback != nil {
		callback(text)
	}
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: text},
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
	}, nil
}

func (s *scriptedLLM) GenerateStructured(_ context.Context, _ string, _ string, _ map[string]any, _ float64) (map[string]any, error) {
	return map[string]any{"error": "not used in tests"}, nil
}

func (s *scriptedLLM) Ping(_ context.Context) error { return nil }
