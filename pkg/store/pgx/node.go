package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const getNodeSQL = `
SELECT id, canonical_label, aliases, embedding, match_count, created_at, updated_at
FROM nodes
WHERE id = $1`

const listNodesSQL = `
SELECT id, canonical_label, aliases, embedding, match_count, created_at, updated_at
FROM nodes
ORDER BY created_at DESC, id
LIMIT $1`

const searchNodesSQLTemplate = `
SELECT id, canonical_label, aliases, embedding, match_count, created_at, updated_at,
       embedding %[1]s $1 AS distance
FROM nodes
WHERE embedding IS NOT NULL
ORDER BY embedding %[1]s $1, id
LIMIT $2`

const getNodeEdgesSQL = `
SELECT id, subject_id, relation, object_id, provenance, created_at, updated_at
FROM edges
WHERE subject_id = $1 OR object_id = $1
ORDER BY created_at, id`

const graphStatsSQL = `
SELECT
	(SELECT count(*) FROM nodes),
	(SELECT count(*) FROM edges),
	(SELECT count(*) FROM videos),
	(SELECT count(*) FROM enrichment_runs)`

func scanNode(row interface{ Scan(dest ...any) error }) (common.Node, error) {
	var (
		n   common.Node
		emb *pgvector.Vector
	)
	err := row.Scan(&n.ID, &n.CanonicalLabel, &n.Aliases, &emb, &n.MatchCount, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return common.Node{}, err
	}
	if emb != nil {
		n.Embedding = emb.Slice()
	}
	return n, nil
}

func (s *GraphDBStorage) GetNode(ctx context.Context, id string) (*common.Node, error) {
	n, err := scanNode(s.conn.QueryRow(ctx, getNodeSQL, id))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

func (s *GraphDBStorage) ListNodes(ctx context.Context, limit int) ([]common.Node, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, listNodesSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Node, 0, limit)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) SearchNodes(ctx context.Context, embedding []float32, k int) ([]common.NodeMatch, error) {
	if k <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(searchNodesSQLTemplate, s.operator)
	rows, err := s.conn.Query(ctx, sql, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.NodeMatch, 0, k)
	for rows.Next() {
		var (
			m   common.NodeMatch
			emb *pgvector.Vector
		)
		err := rows.Scan(
			&m.Node.ID,
			&m.Node.CanonicalLabel,
			&m.Node.Aliases,
			&emb,
			&m.Node.MatchCount,
			&m.Node.CreatedAt,
			&m.Node.UpdatedAt,
			&m.Distance,
		)
		if err != nil {
			return nil, err
		}
		if emb != nil {
			m.Node.Embedding = emb.Slice()
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GetNodeEdges(ctx context.Context, nodeID string) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, getNodeEdgesSQL, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Edge, 0)
	for rows.Next() {
		var e common.Edge
		err := rows.Scan(&e.ID, &e.SubjectID, &e.Relation, &e.ObjectID, &e.Provenance, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) GraphStats(ctx context.Context) (*common.GraphStats, error) {
	var stats common.GraphStats
	err := s.conn.QueryRow(ctx, graphStatsSQL).Scan(
		&stats.NodeCount,
		&stats.EdgeCount,
		&stats.VideoCount,
		&stats.RunCount,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
