package memory

import (
	"math"
	"path/filepath"
	"testing"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	dir := t.TempDir()
	idx := NewCosineIndex()
	a, err := NewArchive(filepath.Join(dir, "archive.db"), idx, nil)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_ImportanceClamped(t *testing.T) {
	a := newTestArchive(t)

	id, err := a.Add("too important", SourceFact, 5.0, nil, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	rec, err := a.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Importance != 1.0 {
		t.Errorf("expected importance clamped to 1.0, got %f", rec.Importance)
	}

	id2, err := a.Add("negative", SourceFact, -3.0, nil, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	rec2, err := a.Get(id2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec2.Importance != 0.0 {
		t.Errorf("expected importance clamped to 0.0, got %f", rec2.Importance)
	}
}

func TestArchive_ReinforceIsMonotonic(t *testing.T) {
	a := newTestArchive(t)
	id, err := a.Add("my name is X", SourceFact, 0.5, []string{"name"}, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := a.Reinforce(id, 0.1); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	rec, err := a.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", rec.AccessCount)
	}
	if math.Abs(rec.Importance-0.6) > 0.0001 {
		t.Errorf("expected importance ~0.6, got %f", rec.Importance)
	}

	if err := a.Reinforce(id, 10); err != nil {
		t.Fatalf("Reinforce: %v", err)
	}
	rec2, err := a.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec2.AccessCount != 2 {
		t.Errorf("expected access count 2, got %d", rec2.AccessCount)
	}
	if rec2.Importance != 1.0 {
		t.Errorf("reinforcement must never exceed the [0,1] bound, got %f", rec2.Importance)
	}
}

func TestArchive_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")

	idx := NewCosineIndex()
	a, err := NewArchive(path, idx, nil)
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}

	id, err := a.Add("My name is X", SourceFact, 0.9, []string{"name"}, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	vec := []float32{1, 0, 0}
	if err := a.SetEmbedding(id, vec); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx2 := NewCosineIndex()
	if err := idx2.Upsert(id, vec); err != nil { // vector index itself isn't persisted by the default backend
		t.Fatalf("Upsert: %v", err)
	}
	a2, err := NewArchive(path, idx2, nil)
	if err != nil {
		t.Fatalf("NewArchive (reopen): %v", err)
	}
	defer a2.Close()

	results, err := a2.Search([]float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if got := results[0].Record.Content; got != "My name is X" {
		t.Errorf("expected persisted content, got %q", got)
	}
}

func TestArchive_SearchReinforcesHits(t *testing.T) {
	a := newTestArchive(t)
	id, err := a.Add("fact one", SourceFact, 0.5, nil, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.SetEmbedding(id, []float32{1, 0}); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}

	if _, err := a.Search([]float32{1, 0}, 1); err != nil {
		t.Fatalf("Search: %v", err)
	}

	rec, err := a.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.AccessCount != 1 {
		t.Errorf("expected search hit to reinforce access count to 1, got %d", rec.AccessCount)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1.0) > 0.0001 {
		t.Errorf("expected similarity 1.0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 0.0001 {
		t.Errorf("expected similarity 0.0, got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 2}, []float32{1}); got != 0.0 {
		t.Errorf("expected similarity 0.0 for mismatched dimensions, got %f", got)
	}
}
