package common

import "time"

// Triple is a single (subject, relation, object) statement extracted from
// one video's summary by the upstream extraction step. Subject and Object
// are raw entity mention strings exactly as they appeared in the
// extractor's output; Relation is a free-form relation type such as
// "uses" or "evaluates".
//
// Triples arrive as an ordered sequence. The order is part of the input
// contract: mention resolution walks triples front to back, so replaying
// the same sequence produces the same resolution decisions.
type Triple struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// Node is a persisted entity in the knowledge graph. Each node carries a
// canonical label (the surface string it was created from), the set of
// alias strings known to refer to the same concept, and an embedding
// vector used for similarity matching.
//
// The embedding is a running centroid: every matched mention folds its
// vector into the stored one, weighted by MatchCount, so the vector stays
// representative of all aliases instead of drifting toward the most
// recent match.
type Node struct {
	ID             string    `json:"id"`
	CanonicalLabel string    `json:"canonical_label"`
	Aliases        []string  `json:"aliases"`
	Embedding      []float32 `json:"-"`
	MatchCount     int       `json:"match_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasAlias reports whether the node already knows the given surface string.
func (n *Node) HasAlias(surface string) bool {
	for _, a := range n.Aliases {
		if a == surface {
			return true
		}
	}
	return false
}

// Edge is a directed, typed relationship between two nodes. At most one
// edge exists per (SubjectID, Relation, ObjectID); observing the same
// relationship again merges into the existing edge instead of creating a
// duplicate.
//
// Provenance lists the IDs of the videos whose extractions contributed
// the edge. A video ID appears at most once regardless of how often its
// batch is replayed.
type Edge struct {
	ID         string    `json:"id"`
	SubjectID  string    `json:"subject_id"`
	Relation   string    `json:"relation"`
	ObjectID   string    `json:"object_id"`
	Provenance []string  `json:"provenance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasProvenance reports whether the edge already records the given video.
func (e *Edge) HasProvenance(videoID string) bool {
	for _, v := range e.Provenance {
		if v == videoID {
			return true
		}
	}
	return false
}

// Candidate is one result of a similarity query: a node identifier and
// its distance from the query vector under the configured metric. Lower
// distance means more similar.
type Candidate struct {
	NodeID   string  `json:"node_id"`
	Distance float64 `json:"distance"`
}

// NodeMatch pairs a node with its distance to a query vector. It is the
// result shape of label searches over the graph.
type NodeMatch struct {
	Node     Node    `json:"node"`
	Distance float64 `json:"distance"`
}

// GraphStats summarizes the stored graph.
type GraphStats struct {
	NodeCount  int `json:"node_count"`
	EdgeCount  int `json:"edge_count"`
	VideoCount int `json:"video_count"`
	RunCount   int `json:"run_count"`
}

// Video is a registry entry for a YouTube video known to the pipeline.
// Videos are registered before any triples arrive (directly or through
// catalog expansion of a playlist/channel) and move from "pending" to
// "enriched" once a batch for them commits.
type Video struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	ChannelID    string    `json:"channel_id"`
	ChannelTitle string    `json:"channel_title"`
	PublishedAt  time.Time `json:"published_at"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

// Video registry states.
const (
	VideoStatePending  = "pending"
	VideoStateEnriched = "enriched"
	VideoStateFailed   = "failed"
)

// EnrichmentRun records the outcome of one enrichment batch for one
// video: how many nodes were created or matched, how many edges were
// written, and what was skipped. Runs are append-only history; replaying
// a batch produces a new run row.
type EnrichmentRun struct {
	ID              string    `json:"id"`
	VideoID         string    `json:"video_id"`
	State           string    `json:"state"`
	NodesCreated    int       `json:"nodes_created"`
	NodesMatched    int       `json:"nodes_matched"`
	EdgesCreated    int       `json:"edges_created"`
	EdgesMerged     int       `json:"edges_merged"`
	MentionsSkipped int       `json:"mentions_skipped"`
	TriplesSkipped  int       `json:"triples_skipped"`
	EmbedTokens     int       `json:"embed_tokens"`
	EmbedDurationMs int64     `json:"embed_duration_ms"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Enrichment run states.
const (
	RunStateDone    = "done"
	RunStatePartial = "partial"
	RunStateFailed  = "failed"
)
