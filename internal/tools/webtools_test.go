package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/codalite/coda/internal/fetch"
	"github.com/codalite/coda/internal/search"
)

type stubProvider struct{ results []search.Result }

func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Search(_ context.Context, _ string, _ search.Options) ([]search.Result, error) {
	return s.results, nil
}

func TestRegisterWebTools_RegistersSearchAndFetch(t *testing.T) {
	r := NewRegistry()
	mgr := search.NewManager("stub")
	mgr.Register(&stubProvider{results: []search.Result{{Title: "Go", URL: "https://go.dev"}}})

	if err := RegisterWebTools(r, mgr, fetch.New()); err != nil {
		t.Fatalf("RegisterWebTools: %v", err)
	}
	if r.Get("web_search") == nil {
		t.Fatal("expected web_search to be registered")
	}
	if r.Get("web_fetch") == nil {
		t.Fatal("expected web_fetch to be registered")
	}

	out := r.Execute(context.Background(), "web_search", map[string]any{"query": "golang"})
	if !strings.Contains(out, "go.dev") {
		t.Fatalf("web_search output = %q, want it to mention go.dev", out)
	}
}

func TestRegisterWebTools_NilCollaboratorsSkipRegistration(t *testing.T) {
	r := NewRegistry()
	if err := RegisterWebTools(r, nil, nil); err != nil {
		t.Fatalf("RegisterWebTools: %v", err)
	}
	if r.Get("web_search") != nil || r.Get("web_fetch") != nil {
		t.Fatal("expected no tools registered when collaborators are nil")
	}
}
