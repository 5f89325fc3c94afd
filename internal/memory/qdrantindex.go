package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores a record's original (non-UUID-shaped) id in
// the point payload — Qdrant point IDs must be a UUID or unsigned
// integer, but [Archive] ids are already uuid.NewString() values, so
// in practice the ids coincide and this path only matters if callers
// ever switch id generation.
const payloadIDField = "_original_id"

// QdrantIndex is an optional [VectorIndex] backend for deployments
// that want an external ANN service instead of the in-process
// [CosineIndex]. It is selected by configuration, not by default.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	timeout    time.Duration
}

// NewQdrantIndex connects to a Qdrant instance at dsn (e.g.
// "http://localhost:6334", optionally with an "?api_key=..." query
// parameter) and ensures the named collection exists with the given
// vector dimension and cosine distance metric.
func NewQdrantIndex(dsn, collection string, dimension int) (*QdrantIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be positive")
	}

	host, port, useTLS, apiKey, err := parseQdrantDSN(dsn)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}

	q := &QdrantIndex{client: client, collection: collection, timeout: 10 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.ensureCollection(ctx, dimension); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

func parseQdrantDSN(dsn string) (host string, port int, useTLS bool, apiKey string, err error) {
	u, err := parseURL(dsn)
	if err != nil {
		return "", 0, false, "", fmt.Errorf("qdrant: parse dsn: %w", err)
	}
	host = u.hostname
	if host == "" {
		host = "localhost"
	}
	portStr := u.port
	if portStr == "" {
		portStr = "6334"
	}
	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, "", fmt.Errorf("qdrant: invalid port %q: %w", portStr, err)
	}
	return host, portNum, u.scheme == "https", u.apiKey, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func qdrantPointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// Upsert implements [VectorIndex].
func (q *QdrantIndex) Upsert(id string, vec []float32) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	pointUUID := qdrantPointID(id)
	payload := map[string]any{}
	if pointUUID != id {
		payload[payloadIDField] = id
	}

	vecCopy := make([]float32, len(vec))
	copy(vecCopy, vec)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vecCopy),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

// Delete implements [VectorIndex].
func (q *QdrantIndex) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	pointID := qdrant.NewIDUUID(qdrantPointID(id))
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

// TopK implements [VectorIndex].
func (q *QdrantIndex) TopK(query []float32, k int) ([]VectorHit, error) {
	if k <= 0 {
		k = 10
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	out := make([]VectorHit, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if hit.Payload != nil {
			if original, ok := hit.Payload[payloadIDField]; ok {
				if s := original.GetStringValue(); s != "" {
					id = s
				}
			}
		}
		out = append(out, VectorHit{ID: id, Score: float64(hit.Score)})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// minimal DSN-parsing helper, kept local to avoid importing net/url
// just for hostname/port/query extraction in a single call site.
type parsedDSN struct {
	scheme   string
	hostname string
	port     string
	apiKey   string
}

func parseURL(dsn string) (parsedDSN, error) {
	scheme := "http"
	rest := dsn
	if idx := strings.Index(dsn, "://"); idx >= 0 {
		scheme = dsn[:idx]
		rest = dsn[idx+3:]
	}

	query := ""
	if idx := strings.Index(rest, "?"); idx >= 0 {
		query = rest[idx+1:]
		rest = rest[:idx]
	}

	host := rest
	port := ""
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		host = rest[:idx]
		port = rest[idx+1:]
	}

	apiKey := ""
	for _, pair := range strings.Split(query, "&") {
		if k, v, ok := strings.Cut(pair, "="); ok && k == "api_key" {
			apiKey = v
		}
	}

	return parsedDSN{scheme: scheme, hostname: host, port: port, apiKey: apiKey}, nil
}
