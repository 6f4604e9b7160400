package cypher

import (
	"context"
	"fmt"
	"sort"

	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/index"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const fetchVectorsCypher = `
MATCH (n:Entity)
WHERE n.embedding IS NOT NULL
RETURN n.id AS id, n.embedding AS embedding`

const setVectorCypher = `
MATCH (n:Entity {id: $id})
WHERE n.embedding IS NULL
SET n.embedding = $embedding, n.updated_at_ms = $now
RETURN count(n) AS updated`

const replaceVectorCypher = `
MATCH (n:Entity {id: $id})
WHERE n.embedding IS NOT NULL
SET n.embedding = $embedding, n.updated_at_ms = $now
RETURN count(n) AS updated`

const createNodeCypher = `
CREATE (n:Entity {
	id: $id,
	canonical_label: $canonical_label,
	aliases: $aliases,
	match_count: $match_count,
	created_at_ms: $now,
	updated_at_ms: $now
})`

const updateNodeCypher = `
MATCH (n:Entity {id: $id})
SET n.canonical_label = $canonical_label,
    n.aliases = $aliases,
    n.match_count = $match_count,
    n.updated_at_ms = $now
RETURN count(n) AS updated`

const getNodesCypher = `
MATCH (n:Entity)
WHERE n.id IN $ids
RETURN n.id, n.canonical_label, n.aliases, n.embedding, n.match_count, n.created_at_ms, n.updated_at_ms`

const getEdgeProvenanceCypher = `
MATCH (:Entity {id: $subject_id})-[r:RELATES {relation: $relation}]->(:Entity {id: $object_id})
RETURN r.provenance AS provenance`

const createEdgeCypher = `
MATCH (a:Entity {id: $subject_id}), (b:Entity {id: $object_id})
CREATE (a)-[r:RELATES {
	id: $id,
	relation: $relation,
	provenance: [$video_id],
	created_at_ms: $now,
	updated_at_ms: $now
}]->(b)
RETURN count(r) AS created`

const appendProvenanceCypher = `
MATCH (:Entity {id: $subject_id})-[r:RELATES {relation: $relation}]->(:Entity {id: $object_id})
SET r.provenance = r.provenance + $video_id, r.updated_at_ms = $now`

type enrichmentTx struct {
	session  neo4j.SessionWithContext
	tx       neo4j.ExplicitTransaction
	distance index.DistanceFunc
	done     bool
}

func (t *enrichmentTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("enrichment batch already finished")
	}
	t.done = true

	err := t.tx.Commit(ctx)
	closeErr := t.session.Close(ctx)
	if err != nil {
		return err
	}
	return closeErr
}

func (t *enrichmentTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	err := t.tx.Rollback(ctx)
	closeErr := t.session.Close(ctx)
	if err != nil {
		return err
	}
	return closeErr
}

// affectedCount reads the single aggregate row that the write statements
// return and reports how many nodes or relationships they touched.
func affectedCount(ctx context.Context, result neo4j.ResultWithContext) (int64, error) {
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	return asInt64(record.Values[0]), nil
}

func (t *enrichmentTx) Query(ctx context.Context, embedding []float32, k int) ([]common.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	result, err := t.tx.Run(ctx, fetchVectorsCypher, nil)
	if err != nil {
		return nil, err
	}

	entries := make([]index.Entry, 0)
	for result.Next(ctx) {
		record := result.Record()
		entries = append(entries, index.Entry{
			ID:     asString(record.Values[0]),
			Vector: asVector(record.Values[1]),
		})
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return index.Rank(entries, embedding, t.distance, k), nil
}

func (t *enrichmentTx) Insert(ctx context.Context, nodeID string, embedding []float32) error {
	result, err := t.tx.Run(ctx, setVectorCypher, map[string]any{
		"id":        nodeID,
		"embedding": vectorParam(embedding),
		"now":       nowMs(),
	})
	if err != nil {
		return err
	}
	updated, err := affectedCount(ctx, result)
	if err != nil {
		return err
	}
	if updated != 1 {
		return fmt.Errorf("node %s is missing or already indexed", nodeID)
	}
	return nil
}

func (t *enrichmentTx) Update(ctx context.Context, nodeID string, embedding []float32) error {
	result, err := t.tx.Run(ctx, replaceVectorCypher, map[string]any{
		"id":        nodeID,
		"embedding": vectorParam(embedding),
		"now":       nowMs(),
	})
	if err != nil {
		return err
	}
	updated, err := affectedCount(ctx, result)
	if err != nil {
		return err
	}
	if updated != 1 {
		return fmt.Errorf("node %s is not indexed", nodeID)
	}
	return nil
}

func (t *enrichmentTx) CreateNode(ctx context.Context, node *common.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is empty")
	}

	result, err := t.tx.Run(ctx, createNodeCypher, map[string]any{
		"id":              node.ID,
		"canonical_label": node.CanonicalLabel,
		"aliases":         node.Aliases,
		"match_count":     node.MatchCount,
		"now":             nowMs(),
	})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func (t *enrichmentTx) UpdateNode(ctx context.Context, node *common.Node) error {
	result, err := t.tx.Run(ctx, updateNodeCypher, map[string]any{
		"id":              node.ID,
		"canonical_label": node.CanonicalLabel,
		"aliases":         node.Aliases,
		"match_count":     node.MatchCount,
		"now":             nowMs(),
	})
	if err != nil {
		return err
	}
	updated, err := affectedCount(ctx, result)
	if err != nil {
		return err
	}
	if updated != 1 {
		return fmt.Errorf("node %s not found", node.ID)
	}
	return nil
}

func (t *enrichmentTx) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	result, err := t.tx.Run(ctx, getNodesCypher, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]common.Node, len(ids))
	for result.Next(ctx) {
		n := recordToNode(result.Record().Values)
		byID[n.ID] = n
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	out := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("node %s not found", id)
		}
		out = append(out, n)
	}
	return out, nil
}

func (t *enrichmentTx) UpsertEdge(
	ctx context.Context,
	subjectID string,
	relation string,
	objectID string,
	videoID string,
) (bool, bool, error) {
	params := map[string]any{
		"subject_id": subjectID,
		"relation":   relation,
		"object_id":  objectID,
		"video_id":   videoID,
	}

	result, err := t.tx.Run(ctx, getEdgeProvenanceCypher, params)
	if err != nil {
		return false, false, err
	}

	if result.Next(ctx) {
		provenance := asStringSlice(result.Record().Values[0])
		if err := result.Err(); err != nil {
			return false, false, err
		}
		for _, v := range provenance {
			if v == videoID {
				return false, false, nil
			}
		}

		params["now"] = nowMs()
		appendResult, err := t.tx.Run(ctx, appendProvenanceCypher, params)
		if err != nil {
			return false, false, err
		}
		if _, err := appendResult.Consume(ctx); err != nil {
			return false, false, err
		}
		return false, true, nil
	}
	if err := result.Err(); err != nil {
		return false, false, err
	}

	id, err := gonanoid.New()
	if err != nil {
		return false, false, err
	}
	params["id"] = id
	params["now"] = nowMs()

	createResult, err := t.tx.Run(ctx, createEdgeCypher, params)
	if err != nil {
		return false, false, err
	}
	created, err := affectedCount(ctx, createResult)
	if err != nil {
		return false, false, err
	}
	if created != 1 {
		return false, false, fmt.Errorf("subject %s or object %s not found", subjectID, objectID)
	}
	return true, false, nil
}

func recordToNode(values []any) common.Node {
	return common.Node{
		ID:             asString(values[0]),
		CanonicalLabel: asString(values[1]),
		Aliases:        asStringSlice(values[2]),
		Embedding:      asVector(values[3]),
		MatchCount:     asInt(values[4]),
		CreatedAt:      msToTime(asInt64(values[5])),
		UpdatedAt:      msToTime(asInt64(values[6])),
	}
}
