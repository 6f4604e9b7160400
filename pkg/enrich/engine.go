// Package enrich turns extracted video triples into knowledge graph writes.
// Mentions are resolved against existing nodes by embedding similarity: a
// close-enough node absorbs the mention as an alias, anything else becomes a
// new node. All writes of one batch share a single store transaction.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/ai"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	embedRetries     = 3
	embedConcurrency = 4
)

// Stats summarizes what one enrichment batch changed.
type Stats struct {
	NodesCreated    int `json:"nodes_created"`
	NodesMatched    int `json:"nodes_matched"`
	EdgesCreated    int `json:"edges_created"`
	EdgesMerged     int `json:"edges_merged"`
	MentionsSkipped int `json:"mentions_skipped"`
	TriplesSkipped  int `json:"triples_skipped"`
}

// Engine resolves extracted triples against the knowledge graph and writes
// the resulting nodes and edges.
//
// The engine processes one batch at a time and assumes a single writer:
// concurrent batches against the same store must be serialized by the
// caller, the worker does this with a lease lock.
type Engine struct {
	store    store.GraphStorage
	embedder ai.EmbeddingClient

	threshold      float64
	tieTolerance   float64
	candidates     int
	centroidPolicy string
}

// NewEngineParams defines the dependencies and tuning parameters for
// creating a new Engine.
type NewEngineParams struct {
	Store    store.GraphStorage
	Embedder ai.EmbeddingClient
	Config   config.EnrichmentConfig
}

// NewEngine creates a new enrichment engine. Zero-valued tuning fields fall
// back to the built-in defaults.
func NewEngine(params NewEngineParams) (*Engine, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	cfg := params.Config
	if cfg.Candidates <= 0 {
		cfg.Candidates = config.Default().Enrichment.Candidates
	}
	if cfg.CentroidPolicy == "" {
		cfg.CentroidPolicy = config.CentroidPolicyWeighted
	}

	return &Engine{
		store:    params.Store,
		embedder: params.Embedder,

		threshold:      cfg.Threshold,
		tieTolerance:   cfg.TieTolerance,
		candidates:     cfg.Candidates,
		centroidPolicy: cfg.CentroidPolicy,
	}, nil
}

// NormalizeMention collapses runs of whitespace into single spaces and trims
// the ends. Case is preserved: "GPT-4" and "gpt4" stay distinct surface
// strings and only merge when their embeddings land within the threshold.
func NormalizeMention(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolution is the per-batch cache entry for one distinct mention surface.
type resolution struct {
	nodeID string
	failed bool
}

type cleanTriple struct {
	subject  string
	relation string
	object   string
}

type embedResult struct {
	vector []float32
	err    error
}

// Enrich applies one video's extracted triples to the graph and reports what
// changed. Distinct mention surfaces are embedded once up front with a bounded
// fan-out and resolved in order of first appearance; triples then become edges
// between the resolved nodes, with the video appended to each edge's
// provenance at most once.
//
// Mentions whose embedding fails are skipped together with their triples.
// Any store failure aborts the batch: the transaction rolls back and the
// returned error wraps ExternalStoreError.
func (e *Engine) Enrich(ctx context.Context, videoID string, triples []common.Triple) (*Stats, error) {
	if NormalizeMention(videoID) == "" {
		return nil, fmt.Errorf("video id is empty")
	}

	stats := &Stats{}
	if len(triples) == 0 {
		return stats, nil
	}

	logger.Info("[Enrich] Starting batch", "video_id", videoID, "triples", len(triples))

	valid, mentions := collectMentions(videoID, triples, stats)

	embedded, err := e.embedMentions(ctx, mentions)
	if err != nil {
		return nil, err
	}

	tx, err := e.store.BeginEnrichment(ctx)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	resolutions := make(map[string]resolution, len(mentions))
	for i, mention := range mentions {
		res, err := e.resolveMention(ctx, tx, mention, embedded[i], stats)
		if err != nil {
			return nil, err
		}
		resolutions[mention] = res
	}

	for _, t := range valid {
		subject := resolutions[t.subject]
		object := resolutions[t.object]
		if subject.failed || object.failed {
			stats.TriplesSkipped++
			continue
		}

		created, merged, err := tx.UpsertEdge(ctx, subject.nodeID, t.relation, object.nodeID, videoID)
		if err != nil {
			return nil, storeErr("upsert edge", err)
		}
		if created {
			stats.EdgesCreated++
		}
		if merged {
			stats.EdgesMerged++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit", err)
	}

	logger.Info("[Enrich] Batch committed", "video_id", videoID,
		"nodes_created", stats.NodesCreated, "nodes_matched", stats.NodesMatched,
		"edges_created", stats.EdgesCreated, "edges_merged", stats.EdgesMerged,
		"mentions_skipped", stats.MentionsSkipped, "triples_skipped", stats.TriplesSkipped)

	return stats, nil
}

// collectMentions validates triples and gathers distinct mention surfaces in
// order of first appearance. Malformed triples are dropped here and never
// reach the resolution or edge phases.
func collectMentions(videoID string, triples []common.Triple, stats *Stats) ([]cleanTriple, []string) {
	valid := make([]cleanTriple, 0, len(triples))
	mentions := make([]string, 0, len(triples)*2)
	seen := make(map[string]struct{}, len(triples)*2)

	for i, t := range triples {
		subject := NormalizeMention(t.Subject)
		relation := strings.TrimSpace(t.Relation)
		object := NormalizeMention(t.Object)
		if subject == "" || relation == "" || object == "" {
			logger.Warn("[Enrich] Skipping malformed triple", "video_id", videoID, "index", i)
			stats.TriplesSkipped++
			continue
		}

		valid = append(valid, cleanTriple{subject: subject, relation: relation, object: object})
		for _, mention := range []string{subject, object} {
			if _, ok := seen[mention]; ok {
				continue
			}
			seen[mention] = struct{}{}
			mentions = append(mentions, mention)
		}
	}

	return valid, mentions
}

// embedMentions embeds every distinct mention surface with a bounded fan-out.
// Embedding failures are recorded per mention instead of failing the batch;
// only context cancellation aborts the group.
func (e *Engine) embedMentions(ctx context.Context, mentions []string) ([]embedResult, error) {
	results := make([]embedResult, len(mentions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, mention := range mentions {
		g.Go(func() error {
			vector, err := util.RetryWithContext(gctx, embedRetries, func(ctx context.Context) ([]float32, error) {
				return e.embedder.GenerateEmbedding(ctx, []byte(mention))
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				results[i] = embedResult{err: err}
				return nil
			}
			results[i] = embedResult{vector: vector}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Engine) resolveMention(
	ctx context.Context,
	tx store.EnrichmentTx,
	mention string,
	emb embedResult,
	stats *Stats,
) (resolution, error) {
	if emb.err != nil {
		embErr := &EmbeddingError{Mention: mention, Err: emb.err}
		logger.Warn("[Enrich] Embedding failed, skipping mention", "mention", mention, "error", embErr)
		stats.MentionsSkipped++
		return resolution{failed: true}, nil
	}

	match, err := e.findMatch(ctx, tx, emb.vector)
	if err != nil {
		return resolution{}, err
	}

	if match == nil {
		id, err := e.createNode(ctx, tx, mention, emb.vector)
		if err != nil {
			return resolution{}, err
		}
		stats.NodesCreated++
		return resolution{nodeID: id}, nil
	}

	if err := e.mergeMention(ctx, tx, match, mention, emb.vector); err != nil {
		return resolution{}, err
	}
	stats.NodesMatched++
	return resolution{nodeID: match.ID}, nil
}

// findMatch returns the node the embedding resolves to, or nil when no
// candidate lies within the threshold. When several candidates sit within
// the tie tolerance of the best distance, the node with the larger alias
// set wins, then the lexicographically smaller canonical label.
func (e *Engine) findMatch(
	ctx context.Context,
	tx store.EnrichmentTx,
	embedding []float32,
) (*common.Node, error) {
	candidates, err := tx.Query(ctx, embedding, e.candidates)
	if err != nil {
		return nil, storeErr("similarity query", err)
	}

	matched := make([]common.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Distance <= e.threshold {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	best := matched[0]
	tieIDs := make([]string, 0, 1)
	for _, c := range matched {
		if c.Distance-best.Distance <= e.tieTolerance {
			tieIDs = append(tieIDs, c.NodeID)
		}
	}

	nodes, err := tx.GetNodes(ctx, tieIDs)
	if err != nil {
		return nil, storeErr("load candidates", err)
	}

	chosen := &nodes[0]
	for i := 1; i < len(nodes); i++ {
		n := &nodes[i]
		if len(n.Aliases) > len(chosen.Aliases) {
			chosen = n
			continue
		}
		if len(n.Aliases) == len(chosen.Aliases) && n.CanonicalLabel < chosen.CanonicalLabel {
			chosen = n
		}
	}
	return chosen, nil
}

func (e *Engine) createNode(
	ctx context.Context,
	tx store.EnrichmentTx,
	mention string,
	embedding []float32,
) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	node := &common.Node{
		ID:             id,
		CanonicalLabel: mention,
		Aliases:        []string{mention},
		Embedding:      embedding,
		MatchCount:     1,
	}
	if err := tx.CreateNode(ctx, node); err != nil {
		return "", storeErr("create node", err)
	}
	if err := tx.Insert(ctx, id, embedding); err != nil {
		return "", storeErr("index insert", err)
	}

	logger.Debug("[Enrich] Created node", "node_id", id, "label", mention)
	return id, nil
}

func (e *Engine) mergeMention(
	ctx context.Context,
	tx store.EnrichmentTx,
	node *common.Node,
	mention string,
	embedding []float32,
) error {
	if !node.HasAlias(mention) {
		node.Aliases = append(node.Aliases, mention)
	}

	updateVector := false
	if e.centroidPolicy == config.CentroidPolicyWeighted {
		centroid, err := foldCentroid(node.Embedding, embedding, node.MatchCount)
		if err != nil {
			return err
		}
		node.Embedding = centroid
		updateVector = true
	}
	node.MatchCount++

	if err := tx.UpdateNode(ctx, node); err != nil {
		return storeErr("update node", err)
	}
	if updateVector {
		if err := tx.Update(ctx, node.ID, node.Embedding); err != nil {
			return storeErr("index update", err)
		}
	}

	logger.Debug("[Enrich] Matched mention", "node_id", node.ID, "mention", mention, "aliases", len(node.Aliases))
	return nil
}

// foldCentroid folds a mention vector into the stored centroid as a running
// mean weighted by how many mentions the node has absorbed so far. The
// arithmetic runs in float64 so that differently ordered batches end up with
// near-identical centroids.
func foldCentroid(stored []float32, mention []float32, count int) ([]float32, error) {
	if len(stored) != len(mention) {
		return nil, fmt.Errorf("embedding dimension mismatch: stored %d, mention %d", len(stored), len(mention))
	}
	if count < 1 {
		count = 1
	}

	n := float64(count)
	out := make([]float32, len(stored))
	for i := range stored {
		out[i] = float32((float64(stored[i])*n + float64(mention[i])) / (n + 1))
	}
	return out, nil
}
