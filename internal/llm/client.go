// Package llm provides LLM client implementations.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If callback is non-nil, tokens are streamed to it.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// GenerateStructured asks the model to produce JSON conforming to
	// schema (a JSON-Schema-shaped map) and returns the parsed object.
	// Per spec.md §4.6, a parse failure never raises — it returns a
	// marker object {"error": "..."} instead, leaving the caller free
	// to treat it as "no structured result" rather than aborting a turn.
	GenerateStructured(ctx context.Context, model string, prompt string, schema map[string]any, temperature float64) (map[string]any, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// generateStructuredViaChat is the shared GenerateStructured
// implementation every concrete Client delegates to: it wraps prompt in
// a system message instructing strict-JSON output matching schema, runs
// a non-streaming Chat call, and parses the result. Provider-specific
// temperature knobs (Ollama's Options.Temperature, Anthropic's top-level
// "temperature") are adapter-internal per the teacher's existing Chat
// contract, so the temperature argument is accepted but not used: it is
// neither written into the instruction text nor passed to Chat, whose
// signature the rest of the codebase depends on staying stable.
func generateStructuredViaChat(ctx context.Context, c Client, model, prompt string, schema map[string]any, temperature float64) (map[string]any, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("marshal schema: %v", err)}, nil
	}

	sysPrompt := fmt.Sprintf(
		"Respond with ONLY a single JSON object conforming to this JSON Schema, no prose, no markdown fences:\n%s",
		string(schemaJSON),
	)
	messages := []Message{
		{Role: "system", Content: sysPrompt},
		{Role: "user", Content: prompt},
	}

	resp, err := c.Chat(ctx, model, messages, nil)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}

	content := strings.TrimSpace(resp.Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return map[string]any{"error": "no JSON object found in model output"}, nil
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return map[string]any{"error": fmt.Sprintf("parse structured output: %v", err)}, nil
	}
	return out, nil
}
