package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SourceType classifies where a memory record came from.
type SourceType string

const (
	SourceConversation SourceType = "conversation"
	SourceFact         SourceType = "fact"
	SourcePreference   SourceType = "preference"
	SourceSystem       SourceType = "system"
)

// Record is a persistent unit of knowledge — the long-term counterpart
// to a short-term [Turn]. Importance is always clamped to [0,1] and
// AccessCount only ever moves forward; see [Archive.Reinforce].
type Record struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	SourceType SourceType     `json:"source_type"`
	Importance float64        `json:"importance"`
	CreatedAt  time.Time      `json:"created_at"`
	LastAccess time.Time      `json:"last_access"`
	AccessCount int           `json:"access_count"`
	Topics     []string       `json:"topics"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Embedding  []float32      `json:"-"`
}

// clampImportance restricts a value to the [0,1] invariant every
// record must satisfy at rest.
func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Archive is the SQLite-backed long-term memory store. It persists
// records immediately on every mutating call (no write buffering) so
// that a crash never loses a memory that was reported as stored.
//
// The write path (Add/Delete/SetEmbedding/Reinforce) is serialized by
// mu; concurrent reads (Get/Search/AllMemories) take an RLock and can
// proceed in parallel with each other.
type Archive struct {
	mu     sync.RWMutex
	db     *sql.DB
	index  VectorIndex
	logger *slog.Logger
}

// NewArchive opens (creating if necessary) a SQLite long-term memory
// store at dbPath, migrates its schema, and wires the given vector
// index for semantic search. Passing a nil index disables
// [Archive.Search] (Add/Get/Reinforce/Delete remain usable).
func NewArchive(dbPath string, index VectorIndex, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	a := &Archive{db: db, index: index, logger: logger}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_records (
			id            TEXT PRIMARY KEY,
			content       TEXT NOT NULL,
			source_type   TEXT NOT NULL,
			importance    REAL NOT NULL,
			created_at    TEXT NOT NULL,
			last_access   TEXT NOT NULL,
			access_count  INTEGER NOT NULL DEFAULT 0,
			topics        TEXT NOT NULL DEFAULT '[]',
			metadata      TEXT NOT NULL DEFAULT '{}',
			embedding     BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_memory_records_importance ON memory_records(importance);
	`)
	return err
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Add persists a new memory record and returns its stable id.
// Importance is clamped to [0,1] before storage. Metadata is stored as
// given; Add does not touch the vector index — embeddings are attached
// separately via SetEmbedding.
func (a *Archive) Add(content string, sourceType SourceType, importance float64, topics []string, metadata map[string]any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC()
	importance = clampImportance(importance)

	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return "", fmt.Errorf("marshal topics: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = a.db.Exec(`
		INSERT INTO memory_records (id, content, source_type, importance, created_at, last_access, access_count, topics, metadata)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, id, content, string(sourceType), importance, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), string(topicsJSON), string(metaJSON))
	if err != nil {
		return "", fmt.Errorf("insert memory record: %w", err)
	}

	a.logger.Debug("memory record added", "memory_id", id, "memory_type", sourceType, "importance", importance)
	return id, nil
}

// SetEmbedding attaches a vector embedding to an existing record and
// indexes it for semantic search.
func (a *Archive) SetEmbedding(id string, vec []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	blob, err := encodeEmbedding(vec)
	if err != nil {
		return err
	}
	if _, err := a.db.Exec(`UPDATE memory_records SET embedding = ? WHERE id = ?`, blob, id); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	if a.index != nil {
		if err := a.index.Upsert(id, vec); err != nil {
			return fmt.Errorf("index embedding: %w", err)
		}
	}
	return nil
}

// Get retrieves a single record by id without counting as an access.
func (a *Archive) Get(id string) (*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.scanOne(a.db.QueryRow(`
		SELECT id, content, source_type, importance, created_at, last_access, access_count, topics, metadata, embedding
		FROM memory_records WHERE id = ?
	`, id))
}

// Reinforce raises a record's importance by strength (clamped to 1)
// and bumps its last-access timestamp and access count. AccessCount is
// monotonic: Reinforce never decreases it.
func (a *Archive) Reinforce(id string, strength float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var importance float64
	if err := a.db.QueryRow(`SELECT importance FROM memory_records WHERE id = ?`, id).Scan(&importance); err != nil {
		return fmt.Errorf("reinforce: lookup: %w", err)
	}
	newImportance := clampImportance(importance + strength)

	_, err := a.db.Exec(`
		UPDATE memory_records
		SET importance = ?, last_access = ?, access_count = access_count + 1
		WHERE id = ?
	`, newImportance, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("reinforce: update: %w", err)
	}
	return nil
}

// Delete removes a record and its vector index entry.
func (a *Archive) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.db.Exec(`DELETE FROM memory_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	if a.index != nil {
		if err := a.index.Delete(id); err != nil {
			a.logger.Warn("vector index delete failed", "memory_id", id, "error", err)
		}
	}
	return nil
}

// SearchResult pairs a record with its similarity score against the
// query (1.0 = identical direction, -1.0 = opposite).
type SearchResult struct {
	Record *Record
	Score  float64
}

// Search performs semantic retrieval: embed queryVec externally (via
// the embeddings client) and pass it here to find the topK most
// similar records, in the order the index ranks them (ties are not
// broken by any other field). Every returned record
// is reinforced with a small access bump, matching the reference
// semantics that recall itself reinforces memory.
func (a *Archive) Search(queryVec []float32, topK int) ([]SearchResult, error) {
	if a.index == nil {
		return nil, fmt.Errorf("search: no vector index configured")
	}
	hits, err := a.index.TopK(queryVec, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, err := a.Get(h.ID)
		if err != nil {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: h.Score})
		_ = a.Reinforce(h.ID, 0.01)
	}
	return results, nil
}

// AllMemories returns every stored record, newest first.
func (a *Archive) AllMemories() ([]*Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rows, err := a.db.Query(`
		SELECT id, content, source_type, importance, created_at, last_access, access_count, topics, metadata, embedding
		FROM memory_records ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := a.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllTopics returns the union of topics across all stored records.
func (a *Archive) AllTopics() ([]string, error) {
	records, err := a.AllMemories()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, r := range records {
		for _, t := range r.Topics {
			seen[t] = struct{}{}
		}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

// Stats reports counters useful for telemetry and the snapshot format.
func (a *Archive) Stats() (map[string]any, error) {
	records, err := a.AllMemories()
	if err != nil {
		return nil, err
	}
	topics, err := a.AllTopics()
	if err != nil {
		return nil, err
	}
	bySource := make(map[string]int)
	for _, r := range records {
		bySource[string(r.SourceType)]++
	}
	return map[string]any{
		"memory_count": len(records),
		"topic_count":  len(topics),
		"by_source":    bySource,
	}, nil
}

func (a *Archive) scanOne(row *sql.Row) (*Record, error) {
	var rec Record
	var sourceType, createdAt, lastAccess, topicsJSON, metaJSON string
	var embedding []byte
	err := row.Scan(&rec.ID, &rec.Content, &sourceType, &rec.Importance, &createdAt, &lastAccess, &rec.AccessCount, &topicsJSON, &metaJSON, &embedding)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory record: %w", err)
	}
	return finishScan(&rec, sourceType, createdAt, lastAccess, topicsJSON, metaJSON, embedding)
}

func (a *Archive) scanRow(rows *sql.Rows) (*Record, error) {
	var rec Record
	var sourceType, createdAt, lastAccess, topicsJSON, metaJSON string
	var embedding []byte
	err := rows.Scan(&rec.ID, &rec.Content, &sourceType, &rec.Importance, &createdAt, &lastAccess, &rec.AccessCount, &topicsJSON, &metaJSON, &embedding)
	if err != nil {
		return nil, fmt.Errorf("scan memory record: %w", err)
	}
	return finishScan(&rec, sourceType, createdAt, lastAccess, topicsJSON, metaJSON, embedding)
}

func finishScan(rec *Record, sourceType, createdAt, lastAccess, topicsJSON, metaJSON string, embedding []byte) (*Record, error) {
	rec.SourceType = SourceType(sourceType)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.LastAccess, _ = time.Parse(time.RFC3339Nano, lastAccess)
	_ = json.Unmarshal([]byte(topicsJSON), &rec.Topics)
	_ = json.Unmarshal([]byte(metaJSON), &rec.Metadata)
	if len(embedding) > 0 {
		vec, err := decodeEmbedding(embedding)
		if err == nil {
			rec.Embedding = vec
		}
	}
	return rec, nil
}

// encodeEmbedding/decodeEmbedding round-trip a []float32 through a
// compact little-endian byte blob for BLOB storage, avoiding the
// overhead of JSON-encoding potentially high-dimensional vectors.
func encodeEmbedding(vec []float32) ([]byte, error) {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf, nil
}

func decodeEmbedding(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("decode embedding: invalid blob length %d", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// memoryTypeFromContent is a small helper used by the policy's cluster
// summaries to render a human-readable content preview (truncated to
// 60 bytes so a summary line never carries full record text).
func memoryTypeFromContent(content string) string {
	const maxPreview = 60
	trimmed := strings.TrimSpace(content)
	if len(trimmed) <= maxPreview {
		return trimmed
	}
	return trimmed[:maxPreview] + "…"
}
