// Package pgx implements GraphStorage on PostgreSQL with pgvector for
// similarity search. Enrichment batches map directly onto database
// transactions, so a batch either commits every write or none.
package pgx

import (
	"context"
	"fmt"

	"github.com/tubegraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStorage interface using PostgreSQL with
// pgvector for vector similarity search. The distance operator is fixed at
// construction from the configured metric.
type GraphDBStorage struct {
	conn     pgxIConn
	operator string
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an
// existing database connection or pool. Metric selects the pgvector distance
// operator used for similarity queries ("cosine" or "euclidean").
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	metric string,
) (*GraphDBStorage, error) {
	operator, err := distanceOperator(metric)
	if err != nil {
		return nil, err
	}
	return &GraphDBStorage{
		conn:     conn,
		operator: operator,
	}, nil
}

func distanceOperator(metric string) (string, error) {
	switch metric {
	case "cosine":
		return "<=>", nil
	case "euclidean":
		return "<->", nil
	default:
		return "", fmt.Errorf("unsupported distance metric: %s", metric)
	}
}

// BeginEnrichment opens a database transaction for one enrichment batch.
func (s *GraphDBStorage) BeginEnrichment(ctx context.Context) (store.EnrichmentTx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &enrichmentTx{tx: tx, operator: s.operator}, nil
}

// Close releases the underlying pool or connection.
func (s *GraphDBStorage) Close(ctx context.Context) error {
	switch c := s.conn.(type) {
	case interface{ Close() }:
		c.Close()
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	}
	return nil
}

type enrichmentTx struct {
	tx       pgxv5.Tx
	operator string
}

func (t *enrichmentTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *enrichmentTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && err != pgxv5.ErrTxClosed {
		return err
	}
	return nil
}
