package pgx

import (
	"context"
	"fmt"

	"github.com/tubegraph/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"
)

// The similarity query substitutes the configured pgvector operator. The
// secondary sort on id keeps equidistant results in a stable order.
const querySQLTemplate = `
SELECT id, embedding %[1]s $1 AS distance
FROM nodes
WHERE embedding IS NOT NULL
ORDER BY embedding %[1]s $1, id
LIMIT $2`

const insertVectorSQL = `
UPDATE nodes
SET embedding = $2, updated_at = now()
WHERE id = $1 AND embedding IS NULL`

const updateVectorSQL = `
UPDATE nodes
SET embedding = $2, updated_at = now()
WHERE id = $1 AND embedding IS NOT NULL`

const createNodeSQL = `
INSERT INTO nodes (id, canonical_label, aliases, match_count)
VALUES ($1, $2, $3, $4)`

const updateNodeSQL = `
UPDATE nodes
SET canonical_label = $2, aliases = $3, match_count = $4, updated_at = now()
WHERE id = $1`

const getNodesSQL = `
SELECT id, canonical_label, aliases, embedding, match_count, created_at, updated_at
FROM nodes
WHERE id = ANY($1)`

const createEdgeSQL = `
INSERT INTO edges (id, subject_id, relation, object_id, provenance)
VALUES ($1, $2, $3, $4, ARRAY[$5::text])
ON CONFLICT (subject_id, relation, object_id) DO NOTHING`

const appendProvenanceSQL = `
UPDATE edges
SET provenance = array_append(provenance, $4), updated_at = now()
WHERE subject_id = $1 AND relation = $2 AND object_id = $3
  AND NOT ($4 = ANY(provenance))`

func (t *enrichmentTx) Query(ctx context.Context, embedding []float32, k int) ([]common.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(querySQLTemplate, t.operator)
	rows, err := t.tx.Query(ctx, sql, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Candidate, 0, k)
	for rows.Next() {
		var c common.Candidate
		if err := rows.Scan(&c.NodeID, &c.Distance); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *enrichmentTx) Insert(ctx context.Context, nodeID string, embedding []float32) error {
	tag, err := t.tx.Exec(ctx, insertVectorSQL, nodeID, pgvector.NewVector(embedding))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("node %s is missing or already indexed", nodeID)
	}
	return nil
}

func (t *enrichmentTx) Update(ctx context.Context, nodeID string, embedding []float32) error {
	tag, err := t.tx.Exec(ctx, updateVectorSQL, nodeID, pgvector.NewVector(embedding))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("node %s is not indexed", nodeID)
	}
	return nil
}

func (t *enrichmentTx) CreateNode(ctx context.Context, node *common.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	_, err := t.tx.Exec(ctx, createNodeSQL, node.ID, node.CanonicalLabel, node.Aliases, node.MatchCount)
	return err
}

func (t *enrichmentTx) UpdateNode(ctx context.Context, node *common.Node) error {
	tag, err := t.tx.Exec(ctx, updateNodeSQL, node.ID, node.CanonicalLabel, node.Aliases, node.MatchCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("node %s not found", node.ID)
	}
	return nil
}

func (t *enrichmentTx) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := t.tx.Query(ctx, getNodesSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]common.Node, len(ids))
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		byID[n.ID] = n
	}
	if err := rows.Err(); err != nil {
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
	id, err := gonanoid.New()
	if err != nil {
		return false, false, err
	}

	tag, err := t.tx.Exec(ctx, createEdgeSQL, id, subjectID, relation, objectID, videoID)
	if err != nil {
		return false, false, err
	}
	if tag.RowsAffected() == 1 {
		return true, false, nil
	}

	tag, err = t.tx.Exec(ctx, appendProvenanceSQL, subjectID, relation, objectID, videoID)
	if err != nil {
		return false, false, err
	}
	return false, tag.RowsAffected() == 1, nil
}
