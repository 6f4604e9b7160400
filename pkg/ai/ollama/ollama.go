package ollama

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/tubegraph/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// GraphOllamaClient implements the ai.EmbeddingClient interface using Ollama
// as the backend, generating mention embeddings via locally-hosted models.
type GraphOllamaClient struct {
	embeddingModel string

	timeoutMin int64
	reqLock    *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client

	Client *api.Client
}

// NewGraphOllamaClientParams contains configuration options for creating a new GraphOllamaClient.
type NewGraphOllamaClientParams struct {
	EmbeddingModel string

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
	TimeoutMin            int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		// don't overwrite if already set
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewGraphOllamaClient creates a new Ollama-based embedding client with the
// specified configuration. It connects to the Ollama server at the given
// BaseURL (or the default if empty) and uses the configured embedding model.
func NewGraphOllamaClient(
	params NewGraphOllamaClientParams,
) (*GraphOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	cli := api.NewClient(u, httpClient)

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	timeoutMin := params.TimeoutMin
	if timeoutMin < 1 {
		timeoutMin = 5
	}

	sem := semaphore.NewWeighted(maxConcurrent)

	return &GraphOllamaClient{
		embeddingModel: params.EmbeddingModel,

		timeoutMin: timeoutMin,
		reqLock:    sem,

		metricsLock: sync.Mutex{},
		metrics: ai.ModelMetrics{
			InputTokens:  0,
			OutputTokens: 0,
			TotalTokens:  0,
			DurationMs:   0,
		},

		baseURL:    u,
		apiKey:     params.ApiKey,
		httpClient: httpClient,

		Client: cli,
	}, nil
}

// LoadModel asks the Ollama server to load the embedding model into memory.
// Workers call it once at startup so the first batch does not pay the model
// load time.
func (c *GraphOllamaClient) LoadModel(ctx context.Context) error {
	req := &api.EmbedRequest{
		Model: c.embeddingModel,
	}

	if _, err := c.Client.Embed(ctx, req); err != nil {
		return err
	}

	return nil
}
