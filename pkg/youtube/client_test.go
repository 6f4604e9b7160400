package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(NewClientParams{APIKey: "test-key", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(NewClientParams{}); err == nil {
		t.Fatal("NewClient() without key expected error")
	}
}

func TestClient_FetchVideoMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/videos" {
			t.Errorf("path = %s, want /videos", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "test-key" {
			t.Errorf("key = %q, want test-key", q.Get("key"))
		}
		if q.Get("part") != "snippet,contentDetails" {
			t.Errorf("part = %q", q.Get("part"))
		}
		if q.Get("id") != "dQw4w9WgXcQ" {
			t.Errorf("id = %q", q.Get("id"))
		}
		fmt.Fprint(w, `{"items":[{
			"id":"dQw4w9WgXcQ",
			"snippet":{
				"title":"Graph Talk",
				"description":"about graphs",
				"channelId":"UCuAXFkgsw1L7xaCfnd5JJOw",
				"channelTitle":"Graph Channel",
				"publishedAt":"2024-05-01T10:00:00Z",
				"tags":["graphs","go"],
				"categoryId":"28",
				"defaultAudioLanguage":"en",
				"thumbnails":{"default":{"url":"http://img/default.jpg"},"high":{"url":"http://img/high.jpg"}}
			},
			"contentDetails":{"duration":"PT14M3S"}
		}]}`)
	}))
	defer srv.Close()

	meta, err := newTestClient(t, srv.URL).FetchVideoMetadata(context.Background(), "dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("FetchVideoMetadata() error = %v", err)
	}

	want := &VideoMetadata{
		ID:                   "dQw4w9WgXcQ",
		Title:                "Graph Talk",
		Description:          "about graphs",
		ChannelID:            "UCuAXFkgsw1L7xaCfnd5JJOw",
		ChannelTitle:         "Graph Channel",
		PublishedAt:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Tags:                 []string{"graphs", "go"},
		CategoryID:           "28",
		DefaultAudioLanguage: "en",
		Thumbnail:            "http://img/high.jpg",
		Duration:             "PT14M3S",
	}
	if !reflect.DeepEqual(meta, want) {
		t.Fatalf("FetchVideoMetadata() = %+v, want %+v", meta, want)
	}

	video := meta.Video()
	if video.ID != meta.ID || video.Title != meta.Title || video.State != "" {
		t.Fatalf("Video() = %+v, want registry subset with empty state", video)
	}
}

func TestClient_FetchVideoMetadata_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FetchVideoMetadata(context.Background(), "gone4567890")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("FetchVideoMetadata() error = %v, want ErrNotFound", err)
	}
}

func TestClient_FetchPlaylistVideoIDs_PaginatesOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/playlistItems" {
			t.Errorf("path = %s, want /playlistItems", r.URL.Path)
		}
		if got := r.URL.Query().Get("playlistId"); got != "PLabc123" {
			t.Errorf("playlistId = %q", got)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"v3"}},{"contentDetails":{"videoId":"v2"}}],"nextPageToken":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"v1"}}]}`)
		default:
			t.Errorf("unexpected pageToken %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv.URL).FetchPlaylistVideoIDs(context.Background(), "PLabc123")
	if err != nil {
		t.Fatalf("FetchPlaylistVideoIDs() error = %v", err)
	}
	if want := []string{"v1", "v2", "v3"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("FetchPlaylistVideoIDs() = %v, want %v", ids, want)
	}
}

func TestClient_UploadsPlaylistID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels" {
			t.Errorf("path = %s, want /channels", r.URL.Path)
		}
		if r.URL.Query().Get("id") == "UCknown000000000000000ww" {
			fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UUknown000000000000000ww"}}}]}`)
			return
		}
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	id, err := c.UploadsPlaylistID(context.Background(), "UCknown000000000000000ww")
	if err != nil {
		t.Fatalf("UploadsPlaylistID() error = %v", err)
	}
	if id != "UUknown000000000000000ww" {
		t.Fatalf("UploadsPlaylistID() = %q", id)
	}

	if _, err := c.UploadsPlaylistID(context.Background(), "UCother000000000000000ww"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UploadsPlaylistID() error = %v, want ErrNotFound", err)
	}
}

func TestClient_ResolveHandle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "channel" {
			t.Errorf("type = %q, want channel", q.Get("type"))
		}
		if q.Get("q") == "@fireship" {
			fmt.Fprint(w, `{"items":[{"id":{"kind":"youtube#channel"},"snippet":{"channelId":"UCuAXFkgsw1L7xaCfnd5JJOw"}}]}`)
			return
		}
		fmt.Fprint(w, `{"items":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	id, err := c.ResolveHandle(context.Background(), "@fireship")
	if err != nil {
		t.Fatalf("ResolveHandle() error = %v", err)
	}
	if id != "UCuAXFkgsw1L7xaCfnd5JJOw" {
		t.Fatalf("ResolveHandle() = %q", id)
	}

	if _, err := c.ResolveHandle(context.Background(), "@nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ResolveHandle() error = %v, want ErrNotFound", err)
	}
}

func TestClient_FetchChannelVideoIDs_LatestStopsAtLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		if q.Get("order") != "date" {
			t.Errorf("order = %q, want date", q.Get("order"))
		}
		if q.Get("maxResults") != "2" {
			t.Errorf("maxResults = %q, want 2", q.Get("maxResults"))
		}
		fmt.Fprint(w, `{"items":[
			{"id":{"kind":"youtube#video","videoId":"new2"}},
			{"id":{"kind":"youtube#video","videoId":"new1"}}
		],"nextPageToken":"more"}`)
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv.URL).FetchChannelVideoIDs(context.Background(), "UCuAXFkgsw1L7xaCfnd5JJOw", ChannelSelection{
		Mode:  ModeLatest,
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("FetchChannelVideoIDs() error = %v", err)
	}
	if want := []string{"new2", "new1"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("FetchChannelVideoIDs() = %v, want %v", ids, want)
	}
	if calls.Load() != 1 {
		t.Fatalf("search called %d times, want 1", calls.Load())
	}
}

func TestClient_FetchChannelVideoIDs_DateRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("publishedAfter") != "2024-01-01T00:00:00Z" {
			t.Errorf("publishedAfter = %q", q.Get("publishedAfter"))
		}
		if q.Get("publishedBefore") != "2024-02-01T00:00:00Z" {
			t.Errorf("publishedBefore = %q", q.Get("publishedBefore"))
		}
		switch q.Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"items":[{"id":{"kind":"youtube#video","videoId":"jan2"}}],"nextPageToken":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"items":[{"id":{"kind":"youtube#video","videoId":"jan1"}},{"id":{"kind":"youtube#playlist"}}]}`)
		}
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv.URL).FetchChannelVideoIDs(context.Background(), "UCuAXFkgsw1L7xaCfnd5JJOw", ChannelSelection{
		Mode: ModeDateRange,
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("FetchChannelVideoIDs() error = %v", err)
	}
	// the playlist search hit carries no videoId and is dropped
	if want := []string{"jan2", "jan1"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("FetchChannelVideoIDs() = %v, want %v", ids, want)
	}
}

func TestClient_FetchChannelVideoIDs_EarliestWalksUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			fmt.Fprint(w, `{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UUuploads0000000000000ww"}}}]}`)
		case "/playlistItems":
			fmt.Fprint(w, `{"items":[
				{"contentDetails":{"videoId":"v3"}},
				{"contentDetails":{"videoId":"v2"}},
				{"contentDetails":{"videoId":"v1"}}
			]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv.URL).FetchChannelVideoIDs(context.Background(), "UCuAXFkgsw1L7xaCfnd5JJOw", ChannelSelection{
		Mode:  ModeEarliest,
		Limit: 2,
	})
	if err != nil {
		t.Fatalf("FetchChannelVideoIDs() error = %v", err)
	}
	if want := []string{"v1", "v2"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("FetchChannelVideoIDs() = %v, want %v", ids, want)
	}
}

func TestClient_FetchChannelVideoIDs_RejectsBadSelections(t *testing.T) {
	c := newTestClient(t, "http://unused")

	tests := []ChannelSelection{
		{Mode: ModeLatest},
		{Mode: ModeEarliest, Limit: 0},
		{Mode: ModeDateRange},
		{Mode: ModeDateRange, From: time.Now(), To: time.Now().Add(-time.Hour)},
		{Mode: "topic"},
	}
	for _, sel := range tests {
		if _, err := c.FetchChannelVideoIDs(context.Background(), "UCuAXFkgsw1L7xaCfnd5JJOw", sel); err == nil {
			t.Fatalf("FetchChannelVideoIDs(%+v) expected error", sel)
		}
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "backend unavailable", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"items":[{"contentDetails":{"videoId":"v1"}}]}`)
	}))
	defer srv.Close()

	ids, err := newTestClient(t, srv.URL).FetchPlaylistVideoIDs(context.Background(), "PLabc123")
	if err != nil {
		t.Fatalf("FetchPlaylistVideoIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "v1" {
		t.Fatalf("FetchPlaylistVideoIDs() = %v, want [v1]", ids)
	}
	if calls.Load() != 3 {
		t.Fatalf("api called %d times, want 3", calls.Load())
	}
}
