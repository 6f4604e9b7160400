package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tubegraph/backend/pkg/common"
)

// VideoMetadata is the full metadata set fetched for a video. The registry
// only persists a subset; the full struct is what gets archived.
type VideoMetadata struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	ChannelID            string    `json:"channel_id"`
	ChannelTitle         string    `json:"channel_title"`
	PublishedAt          time.Time `json:"published_at"`
	Tags                 []string  `json:"tags,omitempty"`
	CategoryID           string    `json:"category_id,omitempty"`
	DefaultAudioLanguage string    `json:"default_audio_language,omitempty"`
	Thumbnail            string    `json:"thumbnail,omitempty"`

	// Duration is ISO 8601 as reported by the API, e.g. "PT14M3S".
	Duration string `json:"duration,omitempty"`
}

// Video maps the metadata onto a registry entry. State is left empty; the
// store defaults new registrations to pending.
func (m *VideoMetadata) Video() common.Video {
	return common.Video{
		ID:           m.ID,
		Title:        m.Title,
		Description:  m.Description,
		ChannelID:    m.ChannelID,
		ChannelTitle: m.ChannelTitle,
		PublishedAt:  m.PublishedAt,
	}
}

// FetchVideoMetadata looks up snippet and contentDetails for one video.
// Returns ErrNotFound if the video does not exist or is private.
func (c *Client) FetchVideoMetadata(ctx context.Context, videoID string) (*VideoMetadata, error) {
	params := url.Values{}
	params.Set("part", "snippet,contentDetails")
	params.Set("id", videoID)

	var res videoListResponse
	if err := c.getJSON(ctx, "videos", params, &res); err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, fmt.Errorf("video %q: %w", videoID, ErrNotFound)
	}

	return videoMetadataFromItem(res.Items[0]), nil
}

// FetchVideosMetadata looks up snippet and contentDetails for a set of
// videos, batching up to 50 IDs per request. IDs the API does not return
// (deleted or private videos) are absent from the result rather than an
// error.
func (c *Client) FetchVideosMetadata(ctx context.Context, videoIDs []string) ([]VideoMetadata, error) {
	out := make([]VideoMetadata, 0, len(videoIDs))
	for start := 0; start < len(videoIDs); start += pageSize {
		end := min(start+pageSize, len(videoIDs))

		params := url.Values{}
		params.Set("part", "snippet,contentDetails")
		params.Set("id", strings.Join(videoIDs[start:end], ","))

		var res videoListResponse
		if err := c.getJSON(ctx, "videos", params, &res); err != nil {
			return nil, err
		}
		for _, item := range res.Items {
			out = append(out, *videoMetadataFromItem(item))
		}
	}

	return out, nil
}

func videoMetadataFromItem(item videoItem) *VideoMetadata {
	return &VideoMetadata{
		ID:                   item.ID,
		Title:                item.Snippet.Title,
		Description:          item.Snippet.Description,
		ChannelID:            item.Snippet.ChannelID,
		ChannelTitle:         item.Snippet.ChannelTitle,
		PublishedAt:          item.Snippet.PublishedAt,
		Tags:                 item.Snippet.Tags,
		CategoryID:           item.Snippet.CategoryID,
		DefaultAudioLanguage: item.Snippet.DefaultAudioLanguage,
		Thumbnail:            pickThumbnail(item.Snippet.Thumbnails),
		Duration:             item.ContentDetails.Duration,
	}
}

// pickThumbnail returns the highest-resolution thumbnail the API offered.
func pickThumbnail(thumbs map[string]thumbnail) string {
	for _, size := range []string{"maxres", "standard", "high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}
