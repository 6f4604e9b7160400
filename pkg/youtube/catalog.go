package youtube

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Channel enumeration modes.
const (
	ModeLatest    = "latest"
	ModeEarliest  = "earliest"
	ModeDateRange = "date_range"
	ModeAll       = "all"
)

// ChannelSelection narrows which of a channel's videos to enumerate.
type ChannelSelection struct {
	Mode  string
	Limit int
	From  time.Time
	To    time.Time
}

// FetchPlaylistVideoIDs enumerates all video IDs in a playlist, oldest
// first. The API pages newest first; the result is reversed into upload
// order so catalog registration processes a backlog chronologically.
func (c *Client) FetchPlaylistVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("playlistId", playlistID)
	params.Set("maxResults", strconv.Itoa(pageSize))

	var ids []string
	for {
		var res playlistItemsResponse
		if err := c.getJSON(ctx, "playlistItems", params, &res); err != nil {
			return nil, err
		}
		for _, item := range res.Items {
			if item.ContentDetails.VideoID != "" {
				ids = append(ids, item.ContentDetails.VideoID)
			}
		}
		if res.NextPageToken == "" {
			break
		}
		params.Set("pageToken", res.NextPageToken)
	}

	slices.Reverse(ids)
	return ids, nil
}

// UploadsPlaylistID returns the channel's uploads playlist, which lists
// every public video the channel has published.
func (c *Client) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", channelID)

	var res channelListResponse
	if err := c.getJSON(ctx, "channels", params, &res); err != nil {
		return "", err
	}
	if len(res.Items) == 0 || res.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", fmt.Errorf("channel %q: %w", channelID, ErrNotFound)
	}
	return res.Items[0].ContentDetails.RelatedPlaylists.Uploads, nil
}

// ResolveHandle resolves an @handle to a channel ID via channel search.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", fmt.Errorf("handle is empty")
	}

	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("type", "channel")
	params.Set("q", handle)

	var res searchListResponse
	if err := c.getJSON(ctx, "search", params, &res); err != nil {
		return "", err
	}
	for _, item := range res.Items {
		if item.Snippet.ChannelID != "" {
			return item.Snippet.ChannelID, nil
		}
	}
	return "", fmt.Errorf("handle %q: %w", handle, ErrNotFound)
}

// FetchChannelVideoIDs enumerates a channel's videos under the given
// selection. Latest and date range go through search ordered by date;
// earliest and all walk the uploads playlist.
func (c *Client) FetchChannelVideoIDs(ctx context.Context, channelID string, sel ChannelSelection) ([]string, error) {
	switch sel.Mode {
	case ModeLatest:
		if sel.Limit <= 0 {
			return nil, fmt.Errorf("latest mode needs a positive limit")
		}
		return c.searchChannelVideos(ctx, channelID, sel.Limit, time.Time{}, time.Time{})

	case ModeDateRange:
		if sel.From.IsZero() || sel.To.IsZero() {
			return nil, fmt.Errorf("date_range mode needs from and to")
		}
		if sel.From.After(sel.To) {
			return nil, fmt.Errorf("date range starts after it ends")
		}
		return c.searchChannelVideos(ctx, channelID, 0, sel.From, sel.To)

	case ModeEarliest:
		if sel.Limit <= 0 {
			return nil, fmt.Errorf("earliest mode needs a positive limit")
		}
		ids, err := c.channelUploads(ctx, channelID)
		if err != nil {
			return nil, err
		}
		if len(ids) > sel.Limit {
			ids = ids[:sel.Limit]
		}
		return ids, nil

	case ModeAll:
		return c.channelUploads(ctx, channelID)
	}
	return nil, fmt.Errorf("unknown channel mode %q", sel.Mode)
}

func (c *Client) channelUploads(ctx context.Context, channelID string) ([]string, error) {
	playlistID, err := c.UploadsPlaylistID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return c.FetchPlaylistVideoIDs(ctx, playlistID)
}

// searchChannelVideos pages through channel search newest first. A limit of
// 0 means no limit.
func (c *Client) searchChannelVideos(ctx context.Context, channelID string, limit int, from, to time.Time) ([]string, error) {
	params := url.Values{}
	params.Set("part", "snippet,id")
	params.Set("channelId", channelID)
	params.Set("type", "video")
	params.Set("order", "date")
	if !from.IsZero() {
		params.Set("publishedAfter", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("publishedBefore", to.UTC().Format(time.RFC3339))
	}

	var ids []string
	for {
		size := pageSize
		if limit > 0 && limit-len(ids) < size {
			size = limit - len(ids)
		}
		params.Set("maxResults", strconv.Itoa(size))

		var res searchListResponse
		if err := c.getJSON(ctx, "search", params, &res); err != nil {
			return nil, err
		}
		for _, item := range res.Items {
			if item.ID.VideoID != "" {
				ids = append(ids, item.ID.VideoID)
			}
		}
		if limit > 0 && len(ids) >= limit {
			return ids[:limit], nil
		}
		if res.NextPageToken == "" {
			return ids, nil
		}
		params.Set("pageToken", res.NextPageToken)
	}
}
