package store

import (
	"context"
	"errors"

	"github.com/tubegraph/backend/pkg/common"
)

// SimilarityIndex is the vector search surface consulted during mention
// resolution. Query returns up to k candidates ordered by ascending distance
// under the store's configured metric. Insert registers the vector of a newly
// created node; Update replaces the vector of an existing node after a
// centroid recalculation.
//
// An index entry always belongs to exactly one node, so Insert fails on a
// node ID that is already indexed and Update fails on one that is not.
type SimilarityIndex interface {
	Query(ctx context.Context, embedding []float32, k int) ([]common.Candidate, error)
	Insert(ctx context.Context, nodeID string, embedding []float32) error
	Update(ctx context.Context, nodeID string, embedding []float32) error
}

// EnrichmentTx is one enrichment batch against the graph. All node, index and
// edge writes go through the transaction and are visible to its own queries
// immediately, but not to other readers until Commit. Rollback discards every
// write of the batch; a failed Commit must leave the graph unchanged.
type EnrichmentTx interface {
	SimilarityIndex

	CreateNode(ctx context.Context, node *common.Node) error
	UpdateNode(ctx context.Context, node *common.Node) error
	GetNodes(ctx context.Context, ids []string) ([]common.Node, error)

	// UpsertEdge writes one observation of (subjectID, relation, objectID)
	// for the given video. It reports created=true when a new edge row was
	// inserted and merged=true when an existing edge gained the video in its
	// provenance. Replaying an observation reports neither.
	UpsertEdge(
		ctx context.Context,
		subjectID string,
		relation string,
		objectID string,
		videoID string,
	) (created bool, merged bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// GraphStorage defines the interface for persisting and querying the video
// knowledge graph. It covers batched enrichment writes, read access for the
// API surface, and the video registry with its enrichment run history.
type GraphStorage interface {
	BeginEnrichment(ctx context.Context) (EnrichmentTx, error)

	GetNode(ctx context.Context, id string) (*common.Node, error)
	GetNodeEdges(ctx context.Context, nodeID string) ([]common.Edge, error)
	SearchNodes(ctx context.Context, embedding []float32, k int) ([]common.NodeMatch, error)
	ListNodes(ctx context.Context, limit int) ([]common.Node, error)
	GraphStats(ctx context.Context) (*common.GraphStats, error)

	RegisterVideo(ctx context.Context, video *common.Video) error
	RegisterVideos(ctx context.Context, videos []common.Video) (int, error)
	GetVideo(ctx context.Context, id string) (*common.Video, error)
	SetVideoState(ctx context.Context, id string, state string) error
	ListVideos(ctx context.Context, state string, limit int) ([]common.Video, error)

	// DeleteVideo removes a registry entry and its runs. Nodes and edges are
	// untouched, including provenance entries naming the video.
	DeleteVideo(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run *common.EnrichmentRun) error
	GetRuns(ctx context.Context, videoID string) ([]common.EnrichmentRun, error)

	Close(ctx context.Context) error
}

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")
