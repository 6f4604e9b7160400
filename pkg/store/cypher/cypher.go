// Package cypher implements GraphStorage on a Neo4j-compatible graph
// database. Nodes and edges live as (:Entity)-[:RELATES]->(:Entity)
// structures; similarity queries fetch stored vectors and rank them in
// process, so no server-side vector index is required.
package cypher

import (
	"context"
	"fmt"
	"time"

	"github.com/tubegraph/backend/pkg/index"
	"github.com/tubegraph/backend/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphCypherStorage implements the GraphStorage interface using the Neo4j
// Bolt driver. Enrichment batches run inside explicit transactions so a
// failed batch rolls back without partial writes.
type GraphCypherStorage struct {
	driver   neo4j.DriverWithContext
	distance index.DistanceFunc
}

// NewGraphCypherStorageParams defines the connection parameters for creating
// a new GraphCypherStorage.
type NewGraphCypherStorageParams struct {
	URI      string
	Username string
	Password string
	Metric   string
}

// NewGraphCypherStorage connects to the graph database, verifies
// connectivity and returns a storage handle. Metric selects the distance
// function used when ranking stored vectors.
func NewGraphCypherStorage(
	ctx context.Context,
	params NewGraphCypherStorageParams,
) (*GraphCypherStorage, error) {
	distance, err := index.MetricFunc(params.Metric)
	if err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(
		params.URI,
		neo4j.BasicAuth(params.Username, params.Password, ""),
	)
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}

	return &GraphCypherStorage{
		driver:   driver,
		distance: distance,
	}, nil
}

// Close shuts down the underlying driver.
func (s *GraphCypherStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *GraphCypherStorage) read(
	ctx context.Context,
	query string,
	params map[string]any,
) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("cypher query failed: %w", err)
	}
	return result, nil
}

// BeginEnrichment opens a write session and an explicit transaction for one
// enrichment batch. The session stays open until Commit or Rollback.
func (s *GraphCypherStorage) BeginEnrichment(ctx context.Context) (store.EnrichmentTx, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})

	tx, err := session.BeginTransaction(ctx)
	if err != nil {
		_ = session.Close(ctx)
		return nil, err
	}

	return &enrichmentTx{
		session:  session,
		tx:       tx,
		distance: s.distance,
	}, nil
}

func nowMs() int64 {
	return time.Now().UTC().UnixMilli()
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	i, _ := v.(int64)
	return int(i)
}

func asInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}

func asStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asVector(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func vectorParam(embedding []float32) []float64 {
	out := make([]float64, len(embedding))
	for i, v := range embedding {
		out[i] = float64(v)
	}
	return out
}
