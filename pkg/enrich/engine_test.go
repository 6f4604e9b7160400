package enrich

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/pkg/ai"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/store/memory"
)

// stubEmbedder returns fixed vectors per normalized surface string and can
// be told to fail for specific surfaces. The engine embeds concurrently, so
// the call counters are guarded.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    map[string]bool
	calls   map[string]int
}

func newStubEmbedder(vectors map[string][]float32) *stubEmbedder {
	return &stubEmbedder{
		vectors: vectors,
		fail:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(input)
	s.calls[key]++
	if s.fail[key] {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	vec, ok := s.vectors[key]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", key)
	}
	return append([]float32(nil), vec...), nil
}

func (s *stubEmbedder) LoadModel(ctx context.Context) error { return nil }
func (s *stubEmbedder) ResetMetrics()                       {}
func (s *stubEmbedder) GetMetrics() ai.ModelMetrics         { return ai.ModelMetrics{} }

// flakyStore wraps a GraphStorage and injects failures at chosen points.
type flakyStore struct {
	store.GraphStorage
	failBegin  bool
	failUpsert bool
	failCommit bool
}

func (f *flakyStore) BeginEnrichment(ctx context.Context) (store.EnrichmentTx, error) {
	if f.failBegin {
		return nil, fmt.Errorf("connection refused")
	}
	tx, err := f.GraphStorage.BeginEnrichment(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyTx{EnrichmentTx: tx, parent: f}, nil
}

type flakyTx struct {
	store.EnrichmentTx
	parent *flakyStore
}

func (t *flakyTx) UpsertEdge(ctx context.Context, subjectID, relation, objectID, videoID string) (bool, bool, error) {
	if t.parent.failUpsert {
		return false, false, fmt.Errorf("connection reset")
	}
	return t.EnrichmentTx.UpsertEdge(ctx, subjectID, relation, objectID, videoID)
}

func (t *flakyTx) Commit(ctx context.Context) error {
	if t.parent.failCommit {
		_ = t.EnrichmentTx.Rollback(ctx)
		return fmt.Errorf("commit failed")
	}
	return t.EnrichmentTx.Commit(ctx)
}

func testVectors() map[string][]float32 {
	return map[string][]float32{
		"GPT-4":  {1, 0, 0},
		"gpt4":   {0.99, 0.14, 0},
		"GPT 4":  {0.98, 0.2, 0},
		"Python": {0, 1, 0},
		"Ruby":   {0.577, 0.577, 0.577},
		"Zed":    {0, 0, 1},
	}
}

func newTestEngine(t *testing.T, s store.GraphStorage, emb ai.EmbeddingClient) *Engine {
	t.Helper()
	engine, err := NewEngine(NewEngineParams{
		Store:    s,
		Embedder: emb,
		Config:   config.Default().Enrichment,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func newMemoryStorage(t *testing.T) *memory.Storage {
	t.Helper()
	s, err := memory.NewStorage(config.MetricCosine)
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	return s
}

func seedNode(t *testing.T, s store.GraphStorage, node *common.Node) {
	t.Helper()
	ctx := context.Background()

	tx, err := s.BeginEnrichment(ctx)
	if err != nil {
		t.Fatalf("BeginEnrichment() error = %v", err)
	}
	if err := tx.CreateNode(ctx, node); err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if err := tx.Insert(ctx, node.ID, node.Embedding); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func findNodeByAlias(t *testing.T, s store.GraphStorage, alias string) *common.Node {
	t.Helper()
	nodes, err := s.ListNodes(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListNodes() error = %v", err)
	}
	for i := range nodes {
		if nodes[i].HasAlias(alias) {
			return &nodes[i]
		}
	}
	t.Fatalf("no node with alias %q", alias)
	return nil
}

func TestNewEngine_Validation(t *testing.T) {
	s := newMemoryStorage(t)
	emb := newStubEmbedder(testVectors())

	if _, err := NewEngine(NewEngineParams{Embedder: emb}); err == nil {
		t.Fatal("NewEngine() without store expected error")
	}
	if _, err := NewEngine(NewEngineParams{Store: s}); err == nil {
		t.Fatal("NewEngine() without embedder expected error")
	}
}

func TestEngine_SameBatchAliasing(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	engine := newTestEngine(t, s, newStubEmbedder(testVectors()))

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "GPT-4", Relation: "uses", Object: "Python"},
		{Subject: "gpt4", Relation: "improves-on", Object: "Python"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	want := Stats{NodesCreated: 2, NodesMatched: 1, EdgesCreated: 2}
	if !reflect.DeepEqual(*stats, want) {
		t.Fatalf("Enrich() stats = %+v, want %+v", *stats, want)
	}

	node := findNodeByAlias(t, s, "GPT-4")
	if !node.HasAlias("gpt4") {
		t.Fatalf("aliases = %v, want gpt4 absorbed", node.Aliases)
	}
	if node.MatchCount != 2 {
		t.Fatalf("match count = %d, want 2", node.MatchCount)
	}
}

func TestEngine_MentionEmbeddedOncePerBatch(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	emb := newStubEmbedder(testVectors())
	engine := newTestEngine(t, s, emb)

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "GPT-4", Relation: "uses", Object: "Python"},
		{Subject: "GPT-4", Relation: "rivals", Object: "Ruby"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	if emb.calls["GPT-4"] != 1 {
		t.Fatalf("GPT-4 embedded %d times, want 1", emb.calls["GPT-4"])
	}
	if stats.NodesCreated != 3 || stats.NodesMatched != 0 {
		t.Fatalf("stats = %+v, want 3 created and 0 matched", *stats)
	}
}

func TestEngine_BeyondThresholdCreatesSeparateNodes(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	engine := newTestEngine(t, s, newStubEmbedder(testVectors()))

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "GPT-4", Relation: "competes-with", Object: "Python"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if stats.NodesCreated != 2 || stats.NodesMatched != 0 {
		t.Fatalf("stats = %+v, want two distinct nodes", *stats)
	}

	graphStats, err := s.GraphStats(ctx)
	if err != nil {
		t.Fatalf("GraphStats() error = %v", err)
	}
	if graphStats.NodeCount != 2 {
		t.Fatalf("node count = %d, want 2", graphStats.NodeCount)
	}
}

func TestEngine_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	engine := newTestEngine(t, s, newStubEmbedder(testVectors()))

	triples := []common.Triple{{Subject: "GPT-4", Relation: "uses", Object: "Python"}}

	if _, err := engine.Enrich(ctx, "vid1", triples); err != nil {
		t.Fatalf("first Enrich() error = %v", err)
	}

	stats, err := engine.Enrich(ctx, "vid1", triples)
	if err != nil {
		t.Fatalf("replay Enrich() error = %v", err)
	}
	want := Stats{NodesMatched: 2}
	if !reflect.DeepEqual(*stats, want) {
		t.Fatalf("replay stats = %+v, want %+v", *stats, want)
	}

	node := findNodeByAlias(t, s, "GPT-4")
	edges, err := s.GetNodeEdges(ctx, node.ID)
	if err != nil {
		t.Fatalf("GetNodeEdges() error = %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edge count = %d, want 1", len(edges))
	}
	if !reflect.DeepEqual(edges[0].Provenance, []string{"vid1"}) {
		t.Fatalf("provenance = %v, want [vid1]", edges[0].Provenance)
	}

	// a second video merges into the same edge instead of duplicating it
	stats, err = engine.Enrich(ctx, "vid2", triples)
	if err != nil {
		t.Fatalf("second video Enrich() error = %v", err)
	}
	if stats.EdgesCreated != 0 || stats.EdgesMerged != 1 {
		t.Fatalf("second video stats = %+v, want one merged edge", *stats)
	}
	edges, _ = s.GetNodeEdges(ctx, node.ID)
	if len(edges) != 1 || len(edges[0].Provenance) != 2 {
		t.Fatalf("edges after second video = %+v, want one edge with two videos", edges)
	}
}

func TestEngine_CentroidOrderIndependence(t *testing.T) {
	ctx := context.Background()

	forward := []common.Triple{
		{Subject: "GPT-4", Relation: "aka", Object: "Zed"},
		{Subject: "gpt4", Relation: "aka", Object: "Zed"},
		{Subject: "GPT 4", Relation: "aka", Object: "Zed"},
	}
	reversed := []common.Triple{forward[2], forward[1], forward[0]}

	run := func(triples []common.Triple) *common.Node {
		s := newMemoryStorage(t)
		engine := newTestEngine(t, s, newStubEmbedder(testVectors()))
		if _, err := engine.Enrich(ctx, "vid1", triples); err != nil {
			t.Fatalf("Enrich() error = %v", err)
		}
		return findNodeByAlias(t, s, "gpt4")
	}

	a := run(forward)
	b := run(reversed)

	aliasesA := append([]string(nil), a.Aliases...)
	aliasesB := append([]string(nil), b.Aliases...)
	sort.Strings(aliasesA)
	sort.Strings(aliasesB)
	if !reflect.DeepEqual(aliasesA, aliasesB) {
		t.Fatalf("alias sets differ: %v vs %v", aliasesA, aliasesB)
	}
	if a.MatchCount != 3 || b.MatchCount != 3 {
		t.Fatalf("match counts = %d and %d, want 3 each", a.MatchCount, b.MatchCount)
	}

	if len(a.Embedding) != len(b.Embedding) {
		t.Fatalf("centroid lengths differ: %d vs %d", len(a.Embedding), len(b.Embedding))
	}
	for i := range a.Embedding {
		if diff := math.Abs(float64(a.Embedding[i]) - float64(b.Embedding[i])); diff > 1e-4 {
			t.Fatalf("centroid[%d] differs by %g: %v vs %v", i, diff, a.Embedding, b.Embedding)
		}
	}
}

func TestEngine_TieBreak(t *testing.T) {
	vectors := map[string][]float32{
		"gamma": {0.5, 0.5, 0},
	}

	tests := []struct {
		name      string
		nodes     []*common.Node
		wantAlias string
	}{
		{
			name: "larger alias set wins",
			nodes: []*common.Node{
				{ID: "n-alpha", CanonicalLabel: "alpha", Aliases: []string{"alpha"}, Embedding: []float32{1, 0, 0}, MatchCount: 1},
				{ID: "n-beta", CanonicalLabel: "beta", Aliases: []string{"beta", "B"}, Embedding: []float32{0, 1, 0}, MatchCount: 2},
			},
			wantAlias: "beta",
		},
		{
			name: "lexicographically smaller label wins",
			nodes: []*common.Node{
				{ID: "n-beta", CanonicalLabel: "beta", Aliases: []string{"beta"}, Embedding: []float32{0, 1, 0}, MatchCount: 1},
				{ID: "n-alpha", CanonicalLabel: "alpha", Aliases: []string{"alpha"}, Embedding: []float32{1, 0, 0}, MatchCount: 1},
			},
			wantAlias: "alpha",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			s := newMemoryStorage(t)
			for _, n := range tc.nodes {
				seedNode(t, s, n)
			}

			cfg := config.Default().Enrichment
			cfg.Threshold = 0.5
			engine, err := NewEngine(NewEngineParams{
				Store:    s,
				Embedder: newStubEmbedder(vectors),
				Config:   cfg,
			})
			if err != nil {
				t.Fatalf("NewEngine() error = %v", err)
			}

			stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
				{Subject: "gamma", Relation: "relates-to", Object: "gamma"},
			})
			if err != nil {
				t.Fatalf("Enrich() error = %v", err)
			}
			if stats.NodesMatched != 1 || stats.NodesCreated != 0 {
				t.Fatalf("stats = %+v, want a single match", *stats)
			}

			node := findNodeByAlias(t, s, "gamma")
			if !node.HasAlias(tc.wantAlias) {
				t.Fatalf("gamma landed on %v, want node with alias %q", node.Aliases, tc.wantAlias)
			}
		})
	}
}

func TestEngine_EmbeddingFailureSkipsMention(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	emb := newStubEmbedder(testVectors())
	emb.fail["Cursed"] = true
	engine := newTestEngine(t, s, emb)

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "GPT-4", Relation: "uses", Object: "Python"},
		{Subject: "Cursed", Relation: "uses", Object: "Python"},
		{Subject: "Python", Relation: "rivals", Object: "Ruby"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	want := Stats{NodesCreated: 3, EdgesCreated: 2, MentionsSkipped: 1, TriplesSkipped: 1}
	if !reflect.DeepEqual(*stats, want) {
		t.Fatalf("stats = %+v, want %+v", *stats, want)
	}
	if emb.calls["Cursed"] != embedRetries {
		t.Fatalf("failed mention embedded %d times, want %d retries", emb.calls["Cursed"], embedRetries)
	}
}

func TestEngine_StoreFailureLeavesNoPartialWrites(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		rig  func(f *flakyStore)
	}{
		{name: "edge write fails", rig: func(f *flakyStore) { f.failUpsert = true }},
		{name: "commit fails", rig: func(f *flakyStore) { f.failCommit = true }},
		{name: "begin fails", rig: func(f *flakyStore) { f.failBegin = true }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inner := newMemoryStorage(t)
			flaky := &flakyStore{GraphStorage: inner}
			tc.rig(flaky)
			engine := newTestEngine(t, flaky, newStubEmbedder(testVectors()))

			_, err := engine.Enrich(ctx, "vid1", []common.Triple{
				{Subject: "GPT-4", Relation: "uses", Object: "Python"},
			})
			if err == nil {
				t.Fatal("Enrich() expected error")
			}
			var storeFailure *ExternalStoreError
			if !errors.As(err, &storeFailure) {
				t.Fatalf("error = %v, want ExternalStoreError", err)
			}

			stats, statsErr := inner.GraphStats(ctx)
			if statsErr != nil {
				t.Fatalf("GraphStats() error = %v", statsErr)
			}
			if stats.NodeCount != 0 || stats.EdgeCount != 0 {
				t.Fatalf("partial writes survived: %+v", stats)
			}
		})
	}
}

func TestEngine_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	// a dead store proves the empty batch never touches it
	flaky := &flakyStore{GraphStorage: newMemoryStorage(t), failBegin: true}
	engine := newTestEngine(t, flaky, newStubEmbedder(nil))

	stats, err := engine.Enrich(ctx, "vid1", nil)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if !reflect.DeepEqual(*stats, Stats{}) {
		t.Fatalf("stats = %+v, want all zero", *stats)
	}
}

func TestEngine_EmptyVideoID(t *testing.T) {
	engine := newTestEngine(t, newMemoryStorage(t), newStubEmbedder(nil))

	if _, err := engine.Enrich(context.Background(), "  ", nil); err == nil {
		t.Fatal("Enrich() with blank video id expected error")
	}
}

func TestEngine_MalformedTriplesSkipped(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	engine := newTestEngine(t, s, newStubEmbedder(testVectors()))

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "", Relation: "uses", Object: "Python"},
		{Subject: "GPT-4", Relation: "   ", Object: "Python"},
		{Subject: "GPT-4", Relation: "uses", Object: "Python"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	want := Stats{NodesCreated: 2, EdgesCreated: 1, TriplesSkipped: 2}
	if !reflect.DeepEqual(*stats, want) {
		t.Fatalf("stats = %+v, want %+v", *stats, want)
	}
}

func TestEngine_NormalizesWhitespace(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStorage(t)
	emb := newStubEmbedder(testVectors())
	engine := newTestEngine(t, s, emb)

	stats, err := engine.Enrich(ctx, "vid1", []common.Triple{
		{Subject: "  GPT-4 ", Relation: "uses", Object: "Python"},
		{Subject: "GPT-4", Relation: "rivals", Object: "Ruby"},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	if emb.calls["GPT-4"] != 1 {
		t.Fatalf("normalized mention embedded %d times, want 1", emb.calls["GPT-4"])
	}
	if stats.NodesCreated != 3 {
		t.Fatalf("stats = %+v, want 3 created nodes", *stats)
	}

	node := findNodeByAlias(t, s, "GPT-4")
	if len(node.Aliases) != 1 {
		t.Fatalf("aliases = %v, want the single normalized surface", node.Aliases)
	}
}

func TestEngine_CentroidPolicies(t *testing.T) {
	ctx := context.Background()
	triples := []common.Triple{
		{Subject: "GPT-4", Relation: "uses", Object: "Python"},
		{Subject: "gpt4", Relation: "improves-on", Object: "Python"},
	}

	t.Run("weighted moves the vector", func(t *testing.T) {
		s := newMemoryStorage(t)
		engine := newTestEngine(t, s, newStubEmbedder(testVectors()))
		if _, err := engine.Enrich(ctx, "vid1", triples); err != nil {
			t.Fatalf("Enrich() error = %v", err)
		}

		node := findNodeByAlias(t, s, "gpt4")
		want := []float32{0.995, 0.07, 0}
		for i := range want {
			if diff := math.Abs(float64(node.Embedding[i]) - float64(want[i])); diff > 1e-6 {
				t.Fatalf("centroid = %v, want %v", node.Embedding, want)
			}
		}
	})

	t.Run("first-wins keeps the vector", func(t *testing.T) {
		s := newMemoryStorage(t)
		cfg := config.Default().Enrichment
		cfg.CentroidPolicy = config.CentroidPolicyFirstWins
		engine, err := NewEngine(NewEngineParams{
			Store:    s,
			Embedder: newStubEmbedder(testVectors()),
			Config:   cfg,
		})
		if err != nil {
			t.Fatalf("NewEngine() error = %v", err)
		}
		if _, err := engine.Enrich(ctx, "vid1", triples); err != nil {
			t.Fatalf("Enrich() error = %v", err)
		}

		node := findNodeByAlias(t, s, "gpt4")
		if !reflect.DeepEqual(node.Embedding, []float32{1, 0, 0}) {
			t.Fatalf("embedding = %v, want creation vector untouched", node.Embedding)
		}
		if node.MatchCount != 2 {
			t.Fatalf("match count = %d, want 2", node.MatchCount)
		}
	})
}

func TestNormalizeMention(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "GPT-4", want: "GPT-4"},
		{in: "  GPT-4  ", want: "GPT-4"},
		{in: "large \t language  model", want: "large language model"},
		{in: "   ", want: ""},
	}

	for _, tc := range tests {
		if got := NormalizeMention(tc.in); got != tc.want {
			t.Fatalf("NormalizeMention(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
