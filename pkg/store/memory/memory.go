// Package memory provides an in-process GraphStorage used for development
// runs and tests. Batches work on a snapshot of the graph that is swapped in
// on Commit, so a rolled-back batch leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/index"
	"github.com/tubegraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Storage implements store.GraphStorage with plain maps. A batch mutex keeps
// one enrichment batch in flight at a time, which also serializes writers
// when several workers share the process.
type Storage struct {
	mu      sync.RWMutex
	batchMu sync.Mutex

	nodes  map[string]*common.Node
	edges  map[string]*common.Edge
	index  *index.Memory
	videos map[string]*common.Video
	runs   []common.EnrichmentRun
}

// NewStorage creates an empty in-memory store using the given distance
// metric for similarity queries.
func NewStorage(metric string) (*Storage, error) {
	idx, err := index.NewMemory(metric)
	if err != nil {
		return nil, err
	}
	return &Storage{
		nodes:  make(map[string]*common.Node),
		edges:  make(map[string]*common.Edge),
		index:  idx,
		videos: make(map[string]*common.Video),
		runs:   make([]common.EnrichmentRun, 0),
	}, nil
}

func edgeKey(subjectID, relation, objectID string) string {
	return subjectID + "\x1f" + relation + "\x1f" + objectID
}

func copyNode(n *common.Node) *common.Node {
	out := *n
	out.Aliases = append([]string(nil), n.Aliases...)
	out.Embedding = append([]float32(nil), n.Embedding...)
	return &out
}

func copyEdge(e *common.Edge) *common.Edge {
	out := *e
	out.Provenance = append([]string(nil), e.Provenance...)
	return &out
}

type enrichmentTx struct {
	parent *Storage
	nodes  map[string]*common.Node
	edges  map[string]*common.Edge
	index  *index.Memory
	done   bool
}

// BeginEnrichment snapshots the graph and returns a transaction over the
// snapshot. The batch mutex is held until Commit or Rollback.
func (s *Storage) BeginEnrichment(ctx context.Context) (store.EnrichmentTx, error) {
	s.batchMu.Lock()

	s.mu.RLock()
	nodes := make(map[string]*common.Node, len(s.nodes))
	for id, n := range s.nodes {
		nodes[id] = copyNode(n)
	}
	edges := make(map[string]*common.Edge, len(s.edges))
	for k, e := range s.edges {
		edges[k] = copyEdge(e)
	}
	idx := s.index.Clone()
	s.mu.RUnlock()

	return &enrichmentTx{
		parent: s,
		nodes:  nodes,
		edges:  edges,
		index:  idx,
	}, nil
}

func (t *enrichmentTx) Query(ctx context.Context, embedding []float32, k int) ([]common.Candidate, error) {
	return t.index.Query(ctx, embedding, k)
}

func (t *enrichmentTx) Insert(ctx context.Context, nodeID string, embedding []float32) error {
	return t.index.Insert(ctx, nodeID, embedding)
}

func (t *enrichmentTx) Update(ctx context.Context, nodeID string, embedding []float32) error {
	return t.index.Update(ctx, nodeID, embedding)
}

func (t *enrichmentTx) CreateNode(ctx context.Context, node *common.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	if _, ok := t.nodes[node.ID]; ok {
		return fmt.Errorf("node %s already exists", node.ID)
	}
	n := copyNode(node)
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	t.nodes[n.ID] = n
	return nil
}

func (t *enrichmentTx) UpdateNode(ctx context.Context, node *common.Node) error {
	prev, ok := t.nodes[node.ID]
	if !ok {
		return fmt.Errorf("node %s not found", node.ID)
	}
	n := copyNode(node)
	n.CreatedAt = prev.CreatedAt
	n.UpdatedAt = time.Now().UTC()
	t.nodes[n.ID] = n
	return nil
}

func (t *enrichmentTx) GetNodes(ctx context.Context, ids []string) ([]common.Node, error) {
	out := make([]common.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := t.nodes[id]
		if !ok {
			return nil, fmt.Errorf("node %s not found", id)
		}
		out = append(out, *copyNode(n))
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
	key := edgeKey(subjectID, relation, objectID)
	now := time.Now().UTC()

	if e, ok := t.edges[key]; ok {
		if e.HasProvenance(videoID) {
			return false, false, nil
		}
		e.Provenance = append(e.Provenance, videoID)
		e.UpdatedAt = now
		return false, true, nil
	}

	id, err := gonanoid.New()
	if err != nil {
		return false, false, err
	}
	t.edges[key] = &common.Edge{
		ID:         id,
		SubjectID:  subjectID,
		Relation:   relation,
		ObjectID:   objectID,
		Provenance: []string{videoID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return true, false, nil
}

func (t *enrichmentTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("enrichment batch already finished")
	}

	t.parent.mu.Lock()
	t.parent.nodes = t.nodes
	t.parent.edges = t.edges
	t.parent.index = t.index
	t.parent.mu.Unlock()

	t.done = true
	t.parent.batchMu.Unlock()
	return nil
}

func (t *enrichmentTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.parent.batchMu.Unlock()
	return nil
}

func (s *Storage) GetNode(ctx context.Context, id string) (*common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyNode(n), nil
}

func (s *Storage) GetNodeEdges(ctx context.Context, nodeID string) ([]common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Edge, 0)
	for _, e := range s.edges {
		if e.SubjectID == nodeID || e.ObjectID == nodeID {
			out = append(out, *copyEdge(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Storage) SearchNodes(ctx context.Context, embedding []float32, k int) ([]common.NodeMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates, err := s.index.Query(ctx, embedding, k)
	if err != nil {
		return nil, err
	}

	out := make([]common.NodeMatch, 0, len(candidates))
	for _, c := range candidates {
		n, ok := s.nodes[c.NodeID]
		if !ok {
			continue
		}
		out = append(out, common.NodeMatch{Node: *copyNode(n), Distance: c.Distance})
	}
	return out, nil
}

func (s *Storage) ListNodes(ctx context.Context, limit int) ([]common.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Storage) GraphStats(ctx context.Context) (*common.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &common.GraphStats{
		NodeCount:  len(s.nodes),
		EdgeCount:  len(s.edges),
		VideoCount: len(s.videos),
		RunCount:   len(s.runs),
	}, nil
}

func (s *Storage) RegisterVideo(ctx context.Context, video *common.Video) error {
	if video.ID == "" {
		return fmt.Errorf("video id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.videos[video.ID]; ok {
		prev.Title = video.Title
		prev.Description = video.Description
		prev.ChannelID = video.ChannelID
		prev.ChannelTitle = video.ChannelTitle
		prev.PublishedAt = video.PublishedAt
		return nil
	}

	v := *video
	if v.State == "" {
		v.State = common.VideoStatePending
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.videos[v.ID] = &v
	return nil
}

func (s *Storage) RegisterVideos(ctx context.Context, videos []common.Video) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := 0
	for i := range videos {
		v := videos[i]
		if v.ID == "" {
			continue
		}
		if _, ok := s.videos[v.ID]; ok {
			continue
		}
		if v.State == "" {
			v.State = common.VideoStatePending
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}
		s.videos[v.ID] = &v
		registered++
	}
	return registered, nil
}

func (s *Storage) GetVideo(ctx context.Context, id string) (*common.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *v
	return &out, nil
}

func (s *Storage) SetVideoState(ctx context.Context, id string, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	v.State = state
	return nil
}

func (s *Storage) ListVideos(ctx context.Context, state string, limit int) ([]common.Video, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Video, 0, len(s.videos))
	for _, v := range s.videos {
		if state != "" && v.State != state {
			continue
		}
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Storage) DeleteVideo(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.videos[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.videos, id)

	kept := s.runs[:0]
	for _, r := range s.runs {
		if r.VideoID != id {
			kept = append(kept, r)
		}
	}
	s.runs = kept
	return nil
}

func (s *Storage) SaveRun(ctx context.Context, run *common.EnrichmentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *run
	if r.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		r.ID = id
		run.ID = id
	}
	s.runs = append(s.runs, r)
	return nil
}

func (s *Storage) GetRuns(ctx context.Context, videoID string) ([]common.EnrichmentRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.EnrichmentRun, 0)
	for _, r := range s.runs {
		if r.VideoID == videoID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}
