package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/codalite/coda/internal/events"
)

// Embedder turns text into a vector. [internal/embeddings.Client]
// satisfies this; tests substitute a deterministic fake so C4's
// retrieval invariants can be checked without a running Ollama.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Manager is the thin façade spec.md's C4 operations are called
// through. It forwards writes to the long-term [Archive] and reads
// from either the archive or the embedder, but — per the design note
// against tightly coupling short- and long-term memory — it never
// merges their state: [WorkingLog] stays a fully independent type that
// a caller (the orchestrator) wires in separately.
type Manager struct {
	archive  *Archive
	embedder Embedder
	encoder  *Encoder
	policy   *Policy
	logger   *slog.Logger
	bus      *events.Bus

	metadataPath string
	mu           sync.Mutex
}

// SetBus wires the event bus memory_store/memory_retrieve/memory_update
// are published on. Submit is nil-safe, so a Manager constructed
// without ever calling SetBus simply publishes nothing.
func (m *Manager) SetBus(bus *events.Bus) {
	m.bus = bus
}

// NewManager constructs a Manager around an already-open Archive.
// embedder may be nil, which disables Search (Add/Get/Reinforce/Delete
// remain usable, matching Archive's own degraded-mode contract).
// metadataPath, if non-empty, is where SaveMetadata writes its JSON
// summary document.
func NewManager(archive *Archive, embedder Embedder, policy *Policy, metadataPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		archive:      archive,
		embedder:     embedder,
		encoder:      NewEncoder(),
		policy:       policy,
		metadataPath: metadataPath,
		logger:       logger,
	}
}

// SearchHit is one scored result from [Manager.Search].
type SearchHit struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// Add embeds content (if an embedder is configured), persists the
// record, and flushes the metadata document — every write is visible
// on disk before Add returns, per the persistence hazard in spec.md
// §4.4 ("metadata MUST be flushed on every add, not only on clean
// shutdown").
func (m *Manager) Add(ctx context.Context, content string, sourceType SourceType, importance float64, topics []string, metadata map[string]any) (string, error) {
	id, err := m.archive.Add(content, sourceType, importance, topics, metadata)
	if err != nil {
		return "", err
	}

	if m.embedder != nil {
		vec, err := m.embedder.Generate(ctx, content)
		if err != nil {
			m.logger.Warn("embed memory failed, stored without vector", "memory_id", id, "error", err)
		} else if err := m.archive.SetEmbedding(id, vec); err != nil {
			m.logger.Warn("index memory embedding failed", "memory_id", id, "error", err)
		}
	}

	if err := m.SaveMetadata(); err != nil {
		m.logger.Error("save metadata after add failed", "memory_id", id, "error", err)
	}
	m.bus.Submit(events.TypeMemoryStore, map[string]any{
		"id":          id,
		"source_type": sourceType,
		"importance":  importance,
		"topics":      topics,
	}, events.PriorityNormal)
	return id, nil
}

// EncodeAndAdd runs the heuristic [Encoder] over turn and, if it judges
// the content worth persisting, adds it via Add. Returns "" (no error)
// when the encoder declines.
func (m *Manager) EncodeAndAdd(ctx context.Context, turn Turn) (string, error) {
	candidate, ok := m.encoder.Encode(turn)
	if !ok {
		return "", nil
	}
	return m.Add(ctx, candidate.Content, candidate.SourceType, candidate.Importance, candidate.Topics, nil)
}

// Get retrieves a single record without counting as an access.
func (m *Manager) Get(id string) (*Record, error) {
	return m.archive.Get(id)
}

// Delete removes a record and flushes the metadata document.
func (m *Manager) Delete(id string) error {
	if err := m.archive.Delete(id); err != nil {
		return err
	}
	return m.SaveMetadata()
}

// Search embeds query, finds the nearest stored records, applies
// minSimilarity and metadataFilter, and re-ranks by similarity combined
// with a recency decay factor so fresher matches edge out stale ones at
// similar similarity. limit bounds the returned slice.
func (m *Manager) Search(ctx context.Context, query string, limit int, minSimilarity float64, metadataFilter map[string]any) ([]SearchHit, error) {
	if m.embedder == nil {
		return nil, fmt.Errorf("search: no embedder configured")
	}
	if limit <= 0 {
		limit = 5
	}

	vec, err := m.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	// Over-fetch so filtering/re-ranking still has enough candidates.
	raw, err := m.archive.Search(vec, limit*4+10)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	now := time.Now()
	type scoredHit struct {
		hit     SearchHit
		adjusted float64
	}
	var hits []scoredHit
	for _, r := range raw {
		if r.Score < minSimilarity {
			continue
		}
		if !matchesFilter(r.Record.Metadata, metadataFilter) {
			continue
		}
		ageDays := now.Sub(r.Record.LastAccess).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		decay := 1.0 / (1.0 + ageDays/30.0)
		hits = append(hits, scoredHit{
			hit: SearchHit{
				ID:         r.Record.ID,
				Content:    r.Record.Content,
				Metadata:   r.Record.Metadata,
				Similarity: r.Score,
			},
			adjusted: r.Score * decay,
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].adjusted > hits[j].adjusted })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]SearchHit, len(hits))
	for i, h := range hits {
		out[i] = h.hit
	}
	m.bus.Submit(events.TypeMemoryRetrieve, map[string]any{
		"query":        query,
		"result_count": len(out),
	}, events.PriorityNormal)
	return out, nil
}

func matchesFilter(metadata map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Reinforce raises importance and bumps access bookkeeping, then
// flushes the metadata document.
func (m *Manager) Reinforce(id string, strength float64) error {
	if err := m.archive.Reinforce(id, strength); err != nil {
		return err
	}
	if err := m.SaveMetadata(); err != nil {
		return err
	}
	m.bus.Submit(events.TypeMemoryUpdate, map[string]any{
		"id":       id,
		"strength": strength,
	}, events.PriorityNormal)
	return nil
}

// AllMemories, AllTopics, MemoryStats forward directly to the archive.
func (m *Manager) AllMemories() ([]*Record, error) { return m.archive.AllMemories() }
func (m *Manager) AllTopics() ([]string, error)    { return m.archive.AllTopics() }
func (m *Manager) MemoryStats() (map[string]any, error) {
	stats, err := m.archive.Stats()
	if err != nil {
		return nil, err
	}
	if m.policy != nil {
		clusters, cerr := m.policy.Clusters()
		if cerr == nil {
			stats["topic_clusters"] = len(clusters)
		}
	}
	return stats, nil
}

// metadataDocument is the on-disk shape spec.md §6 names for the
// long-term memory path: a metadata JSON document alongside the
// backend-specific vector index.
type metadataDocument struct {
	MemoryCount int                        `json:"memory_count"`
	Memories    map[string]map[string]any  `json:"memories"`
	Topics      []string                   `json:"topics"`
	LastUpdated time.Time                  `json:"last_updated"`
}

// SaveMetadata writes the metadata document atomically (write to a
// temp file, then rename). If the primary path's directory can't be
// written to, a backup path alongside it (".bak" suffix) is tried, per
// the persistence hazard design in spec.md §4.4. A no-op if no
// metadataPath was configured.
func (m *Manager) SaveMetadata() error {
	if m.metadataPath == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.archive.AllMemories()
	if err != nil {
		return fmt.Errorf("save metadata: list records: %w", err)
	}
	topics, err := m.archive.AllTopics()
	if err != nil {
		return fmt.Errorf("save metadata: list topics: %w", err)
	}

	doc := metadataDocument{
		MemoryCount: len(records),
		Memories:    make(map[string]map[string]any, len(records)),
		Topics:      topics,
		LastUpdated: time.Now().UTC(),
	}
	for _, r := range records {
		doc.Memories[r.ID] = map[string]any{
			"content":      r.Content,
			"source_type":  r.SourceType,
			"importance":   r.Importance,
			"created_at":   r.CreatedAt,
			"last_access":  r.LastAccess,
			"access_count": r.AccessCount,
			"topics":       r.Topics,
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("save metadata: marshal: %w", err)
	}

	if err := atomicWrite(m.metadataPath, data); err != nil {
		backup := m.metadataPath + ".bak"
		m.logger.Warn("metadata primary write failed, trying backup path", "primary", m.metadataPath, "backup", backup, "error", err)
		if berr := atomicWrite(backup, data); berr != nil {
			return fmt.Errorf("save metadata: primary write failed (%v) and backup write failed: %w", err, berr)
		}
	}
	return nil
}

// atomicWrite writes data to path via a temp-file-then-rename so a
// crash mid-write never leaves a half-written metadata document.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
