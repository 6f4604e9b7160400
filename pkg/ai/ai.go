package ai

import (
	"context"
)

// ModelMetrics contains performance metrics from embedding model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// EmbeddingClient defines the interface for embedding operations used during
// graph enrichment. Implementations convert mention text into fixed-length
// vectors and accumulate token usage metrics across requests.
//
// GenerateEmbedding is called once per distinct mention in a batch, so
// implementations should bound their own concurrency and timeouts rather
// than relying on callers to do so.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)

	LoadModel(ctx context.Context) error
	ResetMetrics()
	GetMetrics() ModelMetrics
}
