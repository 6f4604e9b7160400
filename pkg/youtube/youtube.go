// Package youtube is a minimal YouTube Data API v3 client covering what the
// catalog needs: resolving user input to video IDs, fetching video metadata
// and enumerating playlists and channels.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tubegraph/backend/internal/util"
)

// ErrNotFound marks lookups whose subject does not exist upstream, as
// opposed to transport or quota failures.
var ErrNotFound = errors.New("youtube: not found")

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"
	apiRetries     = 3
	pageSize       = 50
)

type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

type NewClientParams struct {
	APIKey string

	// BaseURL overrides the Data API endpoint, used by tests.
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(params NewClientParams) (*Client, error) {
	if params.APIKey == "" {
		return nil, fmt.Errorf("youtube api key is empty")
	}

	c := &Client{
		apiKey:  params.APIKey,
		baseURL: defaultBaseURL,
		http:    http.DefaultClient,
	}
	if params.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(params.BaseURL, "/")
	}
	if params.HTTPClient != nil {
		c.http = params.HTTPClient
	}
	return c, nil
}

func (c *Client) getJSON(ctx context.Context, resource string, params url.Values, out any) error {
	params.Set("key", c.apiKey)
	endpoint := c.baseURL + "/" + resource + "?" + params.Encode()

	return util.RetryErrWithContext(ctx, apiRetries, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", resource, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("%s returned status %d: %s", resource, resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", resource, err)
		}
		return nil
	})
}

type thumbnail struct {
	URL string `json:"url"`
}

type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		Title                string               `json:"title"`
		Description          string               `json:"description"`
		ChannelID            string               `json:"channelId"`
		ChannelTitle         string               `json:"channelTitle"`
		PublishedAt          time.Time            `json:"publishedAt"`
		Tags                 []string             `json:"tags"`
		CategoryID           string               `json:"categoryId"`
		DefaultAudioLanguage string               `json:"defaultAudioLanguage"`
		Thumbnails           map[string]thumbnail `json:"thumbnails"`
	} `json:"snippet"`
	ContentDetails struct {
		Duration string `json:"duration"`
	} `json:"contentDetails"`
}

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

type playlistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

type channelListResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type searchListResponse struct {
	Items []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			ChannelID string `json:"channelId"`
		} `json:"snippet"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}
