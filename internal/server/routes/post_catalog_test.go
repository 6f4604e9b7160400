package routes

import (
	"net/http"
	"testing"
)

func TestExpandCatalogHandler_RejectsMissingURL(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodPost, "/api/catalog", `{"mode": "latest"}`)
	if err := ExpandCatalogHandler(c); err != nil {
		t.Fatalf("ExpandCatalogHandler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandCatalogHandler_RejectsUnknownMode(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodPost, "/api/catalog",
		`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "mode": "newest"}`)
	if err := ExpandCatalogHandler(c); err != nil {
		t.Fatalf("ExpandCatalogHandler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandCatalogHandler_RejectsBadDate(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodPost, "/api/catalog",
		`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "mode": "date_range", "from": "01.02.2024"}`)
	if err := ExpandCatalogHandler(c); err != nil {
		t.Fatalf("ExpandCatalogHandler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandCatalogHandler_RejectsUnrecognizableURL(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodPost, "/api/catalog", `{"url": "https://example.com/foo"}`)
	if err := ExpandCatalogHandler(c); err != nil {
		t.Fatalf("ExpandCatalogHandler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExpandCatalogHandler_WithoutAPIKey(t *testing.T) {
	app := newTestApp(t)

	c, rec := newRequest(app, testUser, http.MethodPost, "/api/catalog",
		`{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)
	if err := ExpandCatalogHandler(c); err != nil {
		t.Fatalf("ExpandCatalogHandler: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
