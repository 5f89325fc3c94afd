package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codalite/coda/internal/memory"
)

// Require resolves name the same way Execute does but returns a typed
// *ErrToolUnavailable instead of a string on miss. Callers that need to
// distinguish "no such tool" from "tool ran and failed" — a filtered
// copy deciding whether to even attempt dispatch, for instance — use
// this instead of Execute.
func (r *Registry) Require(name string) (*Tool, error) {
	t := r.Get(name)
	if t == nil {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// BuiltinDeps are the collaborators the built-in tool set needs.
// Memory may be nil in contexts that never wire long-term memory
// (tests, a stripped-down tool-only registry); remember_fact/recall_fact
// report a plain error in that case rather than panicking.
type BuiltinDeps struct {
	Memory     *memory.Manager
	WorkingLog *memory.WorkingLog
	Registry   *Registry
}

// RegisterBuiltins adds the always-available tool set: time/date,
// a scripted joke, memory introspection, and self-description. Aliases
// are chosen so none collide with each other — the fail-fast policy in
// Register exists to catch exactly that class of bug, the way the
// source's duplicated "help" alias did, but a correct registration
// table simply doesn't trigger it.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	builtins := []*Tool{
		toolGetTime(),
		toolGetDate(),
		toolTellJoke(),
		toolListMemoryFiles(deps),
		toolCountConversationTurns(deps),
		toolListTools(r),
		toolShowCapabilities(r),
		toolRememberFact(deps),
		toolRecallFact(deps),
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	return nil
}

func toolGetTime() *Tool {
	return &Tool{
		Name:        "get_time",
		Aliases:     []string{"current_time", "what_time_is_it"},
		Category:    "system",
		Description: "Returns the current local time.",
		Example:     "get_time()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return time.Now().Format("15:04:05"), nil
		},
	}
}

func toolGetDate() *Tool {
	return &Tool{
		Name:        "get_date",
		Aliases:     []string{"current_date", "todays_date"},
		Category:    "system",
		Description: "Returns today's date.",
		Example:     "get_date()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return time.Now().Format("Monday, January 2, 2006"), nil
		},
	}
}

var builtinJokes = []string{
	"I told my computer I needed a break, and now it won't stop sending me KitKat ads.",
	"Why do programmers prefer dark mode? Because light attracts bugs.",
	"There are 10 kinds of people: those who understand binary and those who don't.",
}

func toolTellJoke() *Tool {
	return &Tool{
		Name:        "tell_joke",
		Aliases:     []string{"joke"},
		Category:    "fun",
		Description: "Tells a short joke.",
		Example:     "tell_joke()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			idx := int(time.Now().UnixNano()) % len(builtinJokes)
			if idx < 0 {
				idx += len(builtinJokes)
			}
			return builtinJokes[idx], nil
		},
	}
}

func toolListMemoryFiles(deps BuiltinDeps) *Tool {
	return &Tool{
		Name:        "list_memory_files",
		Aliases:     []string{"memory_stats"},
		Category:    "memory",
		Description: "Summarizes what is stored in long-term memory.",
		Example:     "list_memory_files()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			if deps.Memory == nil {
				return "", fmt.Errorf("long-term memory is not configured")
			}
			stats, err := deps.Memory.MemoryStats()
			if err != nil {
				return "", err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "%v memories stored", stats["memory_count"])
			if clusters, ok := stats["topic_clusters"]; ok {
				fmt.Fprintf(&b, " across %v topic clusters", clusters)
			}
			b.WriteString(".")
			return b.String(), nil
		},
	}
}

func toolCountConversationTurns(deps BuiltinDeps) *Tool {
	return &Tool{
		Name:        "count_conversation_turns",
		Aliases:     []string{"turn_count"},
		Category:    "memory",
		Description: "Reports how many turns are in the current conversation.",
		Example:     "count_conversation_turns()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			if deps.WorkingLog == nil {
				return "", fmt.Errorf("conversation log is not configured")
			}
			return fmt.Sprintf("%d turns so far this conversation.", deps.WorkingLog.Len()), nil
		},
	}
}

func toolListTools(r *Registry) *Tool {
	return &Tool{
		Name:        "list_tools",
		Aliases:     []string{"help"},
		Category:    "system",
		Description: "Lists every tool available right now.",
		Example:     "list_tools()",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"category": map[string]any{"type": "string", "description": "optional category filter"},
				"format":   map[string]any{"type": "string", "description": "text, markdown, or json"},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			category, _ := args["category"].(string)
			format, _ := args["format"].(string)
			if format == "" {
				format = "text"
			}
			return r.DescribeTools(category, format), nil
		},
	}
}

func toolShowCapabilities(r *Registry) *Tool {
	return &Tool{
		Name:        "show_capabilities",
		Aliases:     []string{"what_can_you_do"},
		Category:    "system",
		Description: "Explains, in prose, what this assistant can help with.",
		Example:     "show_capabilities()",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			names := r.AllToolNames()
			return fmt.Sprintf("I can hold a conversation, remember things you tell me, and use %d tools: %s.",
				len(names), strings.Join(names, ", ")), nil
		},
	}
}

func toolRememberFact(deps BuiltinDeps) *Tool {
	return &Tool{
		Name:        "remember_fact",
		Category:    "memory",
		Description: "Stores a fact in long-term memory for later recall.",
		Example:     `remember_fact(fact="the user's dog is named Biscuit")`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact":       map[string]any{"type": "string", "description": "the fact to remember"},
				"importance": map[string]any{"type": "number", "description": "0 to 1, how important this fact is"},
			},
			"required": []string{"fact"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if deps.Memory == nil {
				return "", fmt.Errorf("long-term memory is not configured")
			}
			fact, _ := args["fact"].(string)
			if strings.TrimSpace(fact) == "" {
				return "", fmt.Errorf("fact is required")
			}
			importance := 0.6
			if v, ok := args["importance"].(float64); ok {
				importance = v
			}
			id, err := deps.Memory.Add(ctx, fact, memory.SourceFact, importance, nil, nil)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Remembered (id %s): %s", id, fact), nil
		},
	}
}

func toolRecallFact(deps BuiltinDeps) *Tool {
	return &Tool{
		Name:        "recall_fact",
		Category:    "memory",
		Description: "Searches long-term memory for facts matching a query.",
		Example:     `recall_fact(query="the user's dog")`,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "what to search for"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if deps.Memory == nil {
				return "", fmt.Errorf("long-term memory is not configured")
			}
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			hits, err := deps.Memory.Search(ctx, query, 3, 0.3, nil)
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "I don't have anything relevant stored.", nil
			}
			var b strings.Builder
			for i, h := range hits {
				if i > 0 {
					b.WriteString(" ")
				}
				b.WriteString(h.Content)
			}
			return b.String(), nil
		},
	}
}
