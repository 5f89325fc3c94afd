package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// fakeEmbedder returns the vector mapped to the text in vectors (or
// {0, 0, 1} for unmapped text) so semantically "similar" test inputs
// can be constructed by hand without depending on a real embedding model.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Generate(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func newTestManager(t *testing.T, embedder Embedder) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	idx := NewCosineIndex()
	archive, err := NewArchive(filepath.Join(dir, "archive.db"), idx, nil)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { _ = archive.Close() })

	metaPath := filepath.Join(dir, "metadata.json")
	policy := NewPolicy(archive, DefaultPolicyConfig())
	return NewManager(archive, embedder, policy, metaPath, nil), metaPath
}

func TestManager_AddFlushesMetadataOnEveryWrite(t *testing.T) {
	fe := &fakeEmbedder{vectors: map[string][]float32{"My name is X": {1, 0, 0}}}
	mgr, metaPath := newTestManager(t, fe)

	id, err := mgr.Add(context.Background(), "My name is X", SourceFact, 0.9, []string{"name"}, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("expected metadata document written after Add, got error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty metadata document")
	}
}

func TestManager_SearchAppliesMinSimilarityAndFilter(t *testing.T) {
	fe := &fakeEmbedder{vectors: map[string][]float32{
		"close match":  {1, 0, 0},
		"far match":    {0, 1, 0},
		"query":        {1, 0, 0},
	}}
	mgr, _ := newTestManager(t, fe)
	ctx := context.Background()

	if _, err := mgr.Add(ctx, "close match", SourceFact, 0.5, nil, map[string]any{"kind": "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := mgr.Add(ctx, "far match", SourceFact, 0.5, nil, map[string]any{"kind": "b"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := mgr.Search(ctx, "query", 5, 0.5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "close match" {
		t.Fatalf("expected only the close match above the similarity floor, got %+v", hits)
	}

	filtered, err := mgr.Search(ctx, "query", 5, 0.0, map[string]any{"kind": "b"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Content != "far match" {
		t.Fatalf("expected metadata filter to select only the 'b' record, got %+v", filtered)
	}
}

func TestManager_EncodeAndAddDeclinesUninterestingTurns(t *testing.T) {
	fe := &fakeEmbedder{}
	mgr, _ := newTestManager(t, fe)

	id, err := mgr.EncodeAndAdd(context.Background(), Turn{Role: RoleUser, Content: "ok"})
	if err != nil {
		t.Fatalf("EncodeAndAdd: %v", err)
	}
	if id != "" {
		t.Fatalf("expected no candidate for a short non-heuristic turn, got id %q", id)
	}

	id2, err := mgr.EncodeAndAdd(context.Background(), Turn{Role: RoleUser, Content: "my name is Ada"})
	if err != nil {
		t.Fatalf("EncodeAndAdd: %v", err)
	}
	if id2 == "" {
		t.Fatal("expected a candidate for a self-referential turn")
	}
}

func TestManager_SaveMetadataErrorsWhenBackupPathAlsoFails(t *testing.T) {
	fe := &fakeEmbedder{}
	mgr, metaPath := newTestManager(t, fe)

	// Replace the primary path's directory with an unwritable file so
	// the primary write fails and the backup path is exercised.
	dir := filepath.Dir(metaPath)
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	mgr.metadataPath = filepath.Join(blocked, "metadata.json") // blocked is a file, not a dir

	if err := mgr.SaveMetadata(); err == nil {
		t.Fatal("expected an error when both primary and backup writes fail under a blocked path")
	}
}
