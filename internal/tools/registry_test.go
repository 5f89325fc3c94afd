package tools

import (
	"context"
	"errors"
	"testing"
)

func TestExecute_UnknownToolReturnsErrorString(t *testing.T) {
	r := NewRegistry()
	got := r.Execute(context.Background(), "nonexistent", nil)
	want := "Error: Unknown tool 'nonexistent'"
	if got != want {
		t.Fatalf("Execute() = %q, want %q", got, want)
	}
}

func TestExecute_HandlerFailureReturnsErrorString(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Tool{
		Name: "explode",
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "", errors.New("kaboom")
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got := r.Execute(context.Background(), "explode", nil)
	want := "Error executing tool 'explode': kaboom"
	if got != want {
		t.Fatalf("Execute() = %q, want %q", got, want)
	}
}

func TestExecute_ResolvesAlias(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Tool{
		Name:    "get_time",
		Aliases: []string{"current_time"},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return "12:00:00", nil
		},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := r.Execute(context.Background(), "current_time", nil); got != "12:00:00" {
		t.Fatalf("Execute(alias) = %q, want 12:00:00", got)
	}
}

func TestRegister_RejectsNameCollision(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "foo"}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&Tool{Name: "foo"}); err == nil {
		t.Fatal("expected collision error registering a duplicate name")
	}
}

func TestRegister_RejectsAliasCollisionWithAnotherToolsAlias(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "list_tools", Aliases: []string{"help"}}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(&Tool{Name: "show_capabilities", Aliases: []string{"help"}}); err == nil {
		t.Fatal("expected collision error when two tools share the same alias")
	}
}

func TestRequire_ReturnsTypedErrorOnMiss(t *testing.T) {
	r := NewRegistry()
	_, err := r.Require("nonexistent")
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected *ErrToolUnavailable, got %v", err)
	}
	if unavail.ToolName != "nonexistent" {
		t.Fatalf("ToolName = %q, want nonexistent", unavail.ToolName)
	}
}

func TestExtractToolCall_FindsCallAmongProse(t *testing.T) {
	text := `Sure, let me check that for you. {"tool_call": {"name": "get_time", "args": {}}} One moment.`
	call, ok := ExtractToolCall(text)
	if !ok {
		t.Fatal("expected a tool call to be extracted")
	}
	if call.Name != "get_time" {
		t.Fatalf("Name = %q, want get_time", call.Name)
	}
}

func TestExtractToolCall_WithArgs(t *testing.T) {
	text := `{"tool_call": {"name": "remember_fact", "args": {"fact": "loves {curly braces}"}}}`
	call, ok := ExtractToolCall(text)
	if !ok {
		t.Fatal("expected a tool call to be extracted")
	}
	if call.Args["fact"] != "loves {curly braces}" {
		t.Fatalf("args.fact = %v, want the nested-brace string preserved", call.Args["fact"])
	}
}

func TestExtractToolCall_NoObjectReturnsFalse(t *testing.T) {
	if _, ok := ExtractToolCall("just a plain reply, no tool needed"); ok {
		t.Fatal("expected ok=false for plain text")
	}
}

func TestExtractToolCall_UnrelatedJSONObjectSkipped(t *testing.T) {
	text := `Here's some data: {"unrelated": true} and then {"tool_call": {"name": "get_date", "args": {}}}`
	call, ok := ExtractToolCall(text)
	if !ok {
		t.Fatal("expected the second object to be found")
	}
	if call.Name != "get_date" {
		t.Fatalf("Name = %q, want get_date", call.Name)
	}
}

func TestDescribeTools_TextFormatListsAliases(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: "get_time", Aliases: []string{"current_time"}, Description: "tells time"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	out := r.DescribeTools("", "text")
	if out == "" {
		t.Fatal("expected non-empty description")
	}
}
