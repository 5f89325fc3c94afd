package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codalite/coda/internal/memory"
)

func newTestDeps(t *testing.T) BuiltinDeps {
	t.Helper()
	dir := t.TempDir()
	idx := memory.NewCosineIndex()
	archive, err := memory.NewArchive(filepath.Join(dir, "archive.db"), idx, nil)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	policy := memory.NewPolicy(archive, memory.DefaultPolicyConfig())
	mgr := memory.NewManager(archive, nil, policy, filepath.Join(dir, "metadata.json"), nil)
	log := memory.NewWorkingLog(20, nil)
	return BuiltinDeps{Memory: mgr, WorkingLog: log}
}

func TestRegisterBuiltins_NoAliasCollisions(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	deps.Registry = r
	if err := RegisterBuiltins(r, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	if got := len(r.AllToolNames()); got != 9 {
		t.Fatalf("expected 9 builtin tools, got %d", got)
	}
}

func TestBuiltins_RememberFact(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	deps.Registry = r
	if err := RegisterBuiltins(r, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	ctx := context.Background()
	result := r.Execute(ctx, "remember_fact", map[string]any{"fact": "the user's dog is named Biscuit"})
	if result == "" || result[:5] == "Error" {
		t.Fatalf("remember_fact failed: %s", result)
	}
}

func TestBuiltins_RememberFactRequiresFact(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	deps.Registry = r
	if err := RegisterBuiltins(r, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	result := r.Execute(context.Background(), "remember_fact", map[string]any{})
	if result[:5] != "Error" {
		t.Fatalf("expected an error string for missing fact, got %q", result)
	}
}

func TestBuiltins_ListToolsReflectsRegistry(t *testing.T) {
	r := NewRegistry()
	deps := newTestDeps(t)
	deps.Registry = r
	if err := RegisterBuiltins(r, deps); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	out := r.Execute(context.Background(), "list_tools", map[string]any{"format": "text"})
	if out == "" {
		t.Fatal("expected non-empty tool listing")
	}
}
