package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tubegraph/backend/internal/config"
	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/pkg/ai"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/enrich"
	"github.com/tubegraph/backend/pkg/store/memory"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

type testValidator struct {
	v *validator.Validate
}

func (tv *testValidator) Validate(i any) error {
	return tv.v.Struct(i)
}

// stubEmbedder assigns every distinct input its own orthogonal axis, so
// distinct mentions never merge and a repeated string matches its node at
// distance zero.
type stubEmbedder struct {
	mu   sync.Mutex
	axes map[string]int
}

func (s *stubEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.axes == nil {
		s.axes = make(map[string]int)
	}
	key := string(input)
	axis, ok := s.axes[key]
	if !ok {
		axis = len(s.axes)
		s.axes[key] = axis
	}

	v := make([]float32, 16)
	v[axis%16] = 1
	return v, nil
}

func (s *stubEmbedder) LoadModel(ctx context.Context) error { return nil }
func (s *stubEmbedder) ResetMetrics()                       {}
func (s *stubEmbedder) GetMetrics() ai.ModelMetrics         { return ai.ModelMetrics{} }

var testUser = &middleware.AppUser{UserID: 7, Role: "user", Permissions: []string{"graph.view"}}

func newTestApp(t *testing.T) *middleware.App {
	t.Helper()

	mem, err := memory.NewStorage(config.MetricCosine)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return &middleware.App{
		Config:   config.Default(),
		Store:    mem,
		Embedder: &stubEmbedder{},
	}
}

// newRequest builds the context a handler would receive after the context
// and auth middlewares ran, with the given user already authenticated.
func newRequest(app *middleware.App, user *middleware.AppUser, method, target, body string) (*middleware.AppContext, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = &testValidator{v: validator.New()}

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return &middleware.AppContext{Context: c, App: app, User: user}, rec
}

// seedGraph registers a video and pushes one batch through the enrichment
// engine so the store has nodes and edges to read back.
func seedGraph(t *testing.T, app *middleware.App, videoID string, triples []common.Triple) {
	t.Helper()

	ctx := context.Background()
	if err := app.Store.RegisterVideo(ctx, &common.Video{ID: videoID, Title: "seed"}); err != nil {
		t.Fatalf("RegisterVideo: %v", err)
	}

	engine, err := enrich.NewEngine(enrich.NewEngineParams{
		Store:    app.Store,
		Embedder: app.Embedder,
		Config:   app.Config.Enrichment,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Enrich(ctx, videoID, triples); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
}
