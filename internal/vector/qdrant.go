package vector

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const payloadChunkID = "chunk_id"

// pointNamespace derives stable Qdrant point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c1f0e-4a43-4d7e-9a57-2b1f3d0c8e21")

// QdrantConfig locates a Qdrant server (gRPC port).
type QdrantConfig struct {
	Host             string
	Port             int
	CollectionPrefix string
	// HealthTimeout bounds the startup health check retries. Zero uses 30s.
	HealthTimeout time.Duration
}

// QdrantClient is a health-checked connection shared by the per-dimension indexes.
type QdrantClient struct {
	client *qdrant.Client
	prefix string
	logger *zap.Logger
}

// DialQdrant connects and waits for the server to report healthy, retrying with
// exponential backoff.
func DialQdrant(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantClient, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "ragindex"
	}
	c := &QdrantClient{client: client, prefix: prefix, logger: logger}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = cfg.HealthTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 30 * time.Second
	}
	if err := backoff.Retry(func() error { return c.Health(ctx) }, backoff.WithContext(b, ctx)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return c, nil
}

// Health performs a single health check.
func (c *QdrantClient) Health(ctx context.Context) error {
	result, err := c.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// CollectionName returns the collection used for dim.
func (c *QdrantClient) CollectionName(dim int) string {
	return fmt.Sprintf("%s_d%d", c.prefix, dim)
}

// Index opens (creating if needed) the collection for dim.
func (c *QdrantClient) Index(ctx context.Context, dim int) (*QdrantIndex, error) {
	name := c.CollectionName(dim)
	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	exists := false
	for _, n := range collections {
		if n == name {
			exists = true
			break
		}
	}
	if !exists {
		err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		if c.logger != nil {
			c.logger.Info("qdrant collection created", zap.String("collection", name), zap.Int("dimension", dim))
		}
	}
	return &QdrantIndex{client: c.client, collection: name, dim: dim}, nil
}

// Close closes the connection.
func (c *QdrantClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// QdrantIndex is one Qdrant collection holding vectors of a single dimension.
// Point IDs are UUIDv5 of the chunk ID; the chunk ID itself travels in the payload.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
}

var _ Index = (*QdrantIndex)(nil)

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(chunkID)).String())
}

// Dimension returns the vector size of the collection.
func (q *QdrantIndex) Dimension() int { return q.dim }

// Add upserts points and waits for them to be applied.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dim {
			return fmt.Errorf("vector %s has dimension %d, collection is %d", id, len(vectors[i]), q.dim)
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{payloadChunkID: id}),
		}
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Remove deletes points by chunk ID.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// Search returns up to k chunk IDs nearest to query.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]string, error) {
	if len(query) != q.dim {
		return nil, fmt.Errorf("query has dimension %d, collection is %d", len(query), q.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if id := r.Payload[payloadChunkID].GetStringValue(); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// Len returns the exact point count.
func (q *QdrantIndex) Len(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Save is a no-op; Qdrant persists on its own.
func (q *QdrantIndex) Save() error { return nil }

// Drop deletes the collection.
func (q *QdrantIndex) Drop(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", q.collection, err)
	}
	return nil
}

// Close is a no-op; the shared QdrantClient owns the connection.
func (q *QdrantIndex) Close() error { return nil }
