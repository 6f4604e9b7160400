package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/tubegraph/backend/pkg/common"
)

func TestGetVideosHandler_FiltersByState(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	for _, v := range []common.Video{
		{ID: "vid-a", Title: "first"},
		{ID: "vid-b", Title: "second"},
		{ID: "vid-c", Title: "third"},
	} {
		if err := app.Store.RegisterVideo(ctx, &v); err != nil {
			t.Fatalf("RegisterVideo: %v", err)
		}
	}
	if err := app.Store.SetVideoState(ctx, "vid-b", common.VideoStateEnriched); err != nil {
		t.Fatalf("SetVideoState: %v", err)
	}

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos?state=pending", "")
	if err := GetVideosHandler(c); err != nil {
		t.Fatalf("GetVideosHandler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var videos []common.Video
	if err := json.Unmarshal(rec.Body.Bytes(), &videos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(videos) != 2 {
		t.Fatalf("got %d videos, want 2", len(videos))
	}
	for _, v := range videos {
		if v.State != common.VideoStatePending {
			t.Errorf("video %s state = %q, want %q", v.ID, v.State, common.VideoStatePending)
		}
	}
}

func TestGetVideosHandler_RejectsUnknownState(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos?state=bogus", "")
	if err := GetVideosHandler(c); err != nil {
		t.Fatalf("GetVideosHandler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetVideoHandler_IncludesLatestRun(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	if err := app.Store.RegisterVideo(ctx, &common.Video{ID: "vid-a", Title: "first"}); err != nil {
		t.Fatalf("RegisterVideo: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-old", "run-new"} {
		run := &common.EnrichmentRun{
			ID:        id,
			VideoID:   "vid-a",
			State:     common.RunStateDone,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := app.Store.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos/vid-a", "")
	c.SetParamNames("id")
	c.SetParamValues("vid-a")
	if err := GetVideoHandler(c); err != nil {
		t.Fatalf("GetVideoHandler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Message   string                `json:"message"`
		Video     *common.Video         `json:"video"`
		LatestRun *common.EnrichmentRun `json:"latest_run"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Video == nil || resp.Video.ID != "vid-a" {
		t.Fatalf("video = %+v, want id vid-a", resp.Video)
	}
	if resp.LatestRun == nil || resp.LatestRun.ID != "run-new" {
		t.Fatalf("latest run = %+v, want run-new", resp.LatestRun)
	}
}

func TestGetVideoHandler_NotFound(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos/missing", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if err := GetVideoHandler(c); err != nil {
		t.Fatalf("GetVideoHandler: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetVideoHandler_Unauthorized(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, nil, http.MethodGet, "/api/videos/vid-a", "")
	c.SetParamNames("id")
	c.SetParamValues("vid-a")
	if err := GetVideoHandler(c); err != nil {
		t.Fatalf("GetVideoHandler: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestGetVideoRunsHandler(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	if err := app.Store.RegisterVideo(ctx, &common.Video{ID: "vid-a", Title: "first"}); err != nil {
		t.Fatalf("RegisterVideo: %v", err)
	}

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos/vid-a/runs", "")
	c.SetParamNames("id")
	c.SetParamValues("vid-a")
	if err := GetVideoRunsHandler(c); err != nil {
		t.Fatalf("GetVideoRunsHandler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var runs []common.EnrichmentRun
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("got %d runs, want 0", len(runs))
	}
}

func TestGetVideoPayloadsHandler_UnknownVideo(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos/missing/payloads", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if err := GetVideoPayloadsHandler(c); err != nil {
		t.Fatalf("GetVideoPayloadsHandler: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetVideoRunsHandler_UnknownVideo(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodGet, "/api/videos/missing/runs", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	if err := GetVideoRunsHandler(c); err != nil {
		t.Fatalf("GetVideoRunsHandler: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
