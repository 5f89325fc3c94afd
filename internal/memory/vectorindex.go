package memory

import (
	"math"
	"sort"
	"sync"
)

// VectorHit is a single nearest-neighbor result from a [VectorIndex].
type VectorHit struct {
	ID    string
	Score float64
}

// VectorIndex is the pluggable backend behind [Archive.Search]. The
// default implementation ([NewCosineIndex]) is an in-process
// brute-force scan; [NewQdrantIndex] swaps in an external ANN service
// for larger deployments without changing any caller.
type VectorIndex interface {
	// Upsert stores or replaces the vector for id.
	Upsert(id string, vec []float32) error
	// Delete removes id's vector, if present. Deleting an id that was
	// never indexed is not an error.
	Delete(id string) error
	// TopK returns the k nearest neighbors to query, ranked by
	// descending cosine similarity.
	TopK(query []float32, k int) ([]VectorHit, error)
}

// CosineIndex is a brute-force in-process vector index. It loads every
// stored vector and ranks by cosine similarity with a full sort, which
// is more than adequate for the record counts a single voice-assistant
// deployment accumulates.
type CosineIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewCosineIndex creates an empty in-process cosine-similarity index.
func NewCosineIndex() *CosineIndex {
	return &CosineIndex{vectors: make(map[string][]float32)}
}

// Upsert implements [VectorIndex].
func (c *CosineIndex) Upsert(id string, vec []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.vectors[id] = stored
	return nil
}

// Delete implements [VectorIndex].
func (c *CosineIndex) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vectors, id)
	return nil
}

// TopK implements [VectorIndex] by sorting all cosine similarity
// scores and keeping the first k — O(n log n), fine for the
// thousands-of-records scale this index targets.
func (c *CosineIndex) TopK(query []float32, k int) ([]VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	scored := make([]VectorHit, 0, len(c.vectors))
	for id, vec := range c.vectors {
		scored = append(scored, VectorHit{ID: id, Score: CosineSimilarity(query, vec)})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 if
// either vector has zero magnitude or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
