package cypher

import (
	"context"

	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/index"
	"github.com/tubegraph/backend/pkg/store"
)

const getNodeCypher = `
MATCH (n:Entity {id: $id})
RETURN n.id, n.canonical_label, n.aliases, n.embedding, n.match_count, n.created_at_ms, n.updated_at_ms`

const listNodesCypher = `
MATCH (n:Entity)
RETURN n.id, n.canonical_label, n.aliases, n.embedding, n.match_count, n.created_at_ms, n.updated_at_ms
ORDER BY n.created_at_ms DESC, n.id
LIMIT $limit`

const indexedNodesCypher = `
MATCH (n:Entity)
WHERE n.embedding IS NOT NULL
RETURN n.id, n.canonical_label, n.aliases, n.embedding, n.match_count, n.created_at_ms, n.updated_at_ms
ORDER BY n.id`

const getNodeEdgesCypher = `
MATCH (a:Entity)-[r:RELATES]->(b:Entity)
WHERE a.id = $id OR b.id = $id
RETURN r.id, a.id, r.relation, b.id, r.provenance, r.created_at_ms, r.updated_at_ms
ORDER BY r.created_at_ms, r.id`

const countNodesCypher = `MATCH (n:Entity) RETURN count(n)`
const countEdgesCypher = `MATCH (:Entity)-[r:RELATES]->(:Entity) RETURN count(r)`
const countVideosCypher = `MATCH (v:Video) RETURN count(v)`
const countRunsCypher = `MATCH (r:EnrichmentRun) RETURN count(r)`

func (s *GraphCypherStorage) GetNode(ctx context.Context, id string) (*common.Node, error) {
	result, err := s.read(ctx, getNodeCypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, store.ErrNotFound
	}
	n := recordToNode(result.Records[0].Values)
	return &n, nil
}

func (s *GraphCypherStorage) ListNodes(ctx context.Context, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 100
	}

	result, err := s.read(ctx, listNodesCypher, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}

	out := make([]common.Node, 0, len(result.Records))
	for _, record := range result.Records {
		out = append(out, recordToNode(record.Values))
	}
	return out, nil
}

func (s *GraphCypherStorage) SearchNodes(ctx context.Context, embedding []float32, k int) ([]common.NodeMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	result, err := s.read(ctx, indexedNodesCypher, nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]common.Node, len(result.Records))
	entries := make([]index.Entry, 0, len(result.Records))
	for _, record := range result.Records {
		n := recordToNode(record.Values)
		byID[n.ID] = n
		entries = append(entries, index.Entry{ID: n.ID, Vector: n.Embedding})
	}

	candidates := index.Rank(entries, embedding, s.distance, k)
	out := make([]common.NodeMatch, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, common.NodeMatch{Node: byID[c.NodeID], Distance: c.Distance})
	}
	return out, nil
}

func (s *GraphCypherStorage) GetNodeEdges(ctx context.Context, nodeID string) ([]common.Edge, error) {
	result, err := s.read(ctx, getNodeEdgesCypher, map[string]any{"id": nodeID})
	if err != nil {
		return nil, err
	}

	out := make([]common.Edge, 0, len(result.Records))
	for _, record := range result.Records {
		values := record.Values
		out = append(out, common.Edge{
			ID:         asString(values[0]),
			SubjectID:  asString(values[1]),
			Relation:   asString(values[2]),
			ObjectID:   asString(values[3]),
			Provenance: asStringSlice(values[4]),
			CreatedAt:  msToTime(asInt64(values[5])),
			UpdatedAt:  msToTime(asInt64(values[6])),
		})
	}
	return out, nil
}

func (s *GraphCypherStorage) GraphStats(ctx context.Context) (*common.GraphStats, error) {
	counts := make([]int, 0, 4)
	for _, query := range []string{countNodesCypher, countEdgesCypher, countVideosCypher, countRunsCypher} {
		result, err := s.read(ctx, query, nil)
		if err != nil {
			return nil, err
		}
		if len(result.Records) == 0 {
			counts = append(counts, 0)
			continue
		}
		counts = append(counts, asInt(result.Records[0].Values[0]))
	}

	return &common.GraphStats{
		NodeCount:  counts[0],
		EdgeCount:  counts[1],
		VideoCount: counts[2],
		RunCount:   counts[3],
	}, nil
}
