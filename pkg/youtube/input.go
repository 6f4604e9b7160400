package youtube

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// InputKind classifies what a user pasted: a single video, a playlist, a
// channel handle or a raw channel ID.
type InputKind string

const (
	InputKindVideo         InputKind = "video"
	InputKindPlaylist      InputKind = "playlist"
	InputKindChannelHandle InputKind = "channel_handle"
	InputKindChannelID     InputKind = "channel_id"
	InputKindUnknown       InputKind = "unknown"
)

var (
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	playlistIDPattern = regexp.MustCompile(`^(PL|UU|FL|LL|OL|RD)[A-Za-z0-9_-]+$`)
	channelIDPattern  = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
)

// DetectInputKind classifies raw user input. URLs are inspected by path and
// query shape; bare strings are matched against the known ID formats.
func DetectInputKind(raw string) InputKind {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "http") {
		u, err := url.Parse(raw)
		if err != nil {
			return InputKindUnknown
		}
		path := strings.Trim(u.Path, "/")
		switch {
		case strings.Contains(raw, "playlist"):
			return InputKindPlaylist
		case strings.Contains(raw, "watch?v=") || strings.Contains(raw, "youtu.be/"):
			return InputKindVideo
		case strings.HasPrefix(path, "@"):
			return InputKindChannelHandle
		case strings.Contains(u.Path, "/channel/"):
			return InputKindChannelID
		}
		// embed and shorts links still identify a single video
		if _, err := ExtractVideoID(raw); err == nil {
			return InputKindVideo
		}
		return InputKindUnknown
	}

	if strings.HasPrefix(raw, "@") {
		return InputKindChannelHandle
	}
	if channelIDPattern.MatchString(raw) {
		return InputKindChannelID
	}
	if videoIDPattern.MatchString(raw) {
		return InputKindVideo
	}
	return InputKindUnknown
}

// ExtractVideoID pulls the 11-character video ID out of any of the common
// URL shapes (watch?v=, youtu.be/, /embed/, /shorts/, /live/) or accepts a
// bare ID.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if videoIDPattern.MatchString(raw) {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	if strings.HasSuffix(u.Hostname(), "youtu.be") {
		if id := firstPathSegment(u.Path); videoIDPattern.MatchString(id) {
			return id, nil
		}
	}
	if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
		return id, nil
	}
	for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
		if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
			if id := firstPathSegment(rest); videoIDPattern.MatchString(id) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no video id in %q", raw)
}

// ExtractPlaylistID pulls the playlist ID from a ?list= URL or accepts a
// bare playlist ID.
func ExtractPlaylistID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if playlistIDPattern.MatchString(raw) {
		return raw, nil
	}
	if u, err := url.Parse(raw); err == nil {
		if id := u.Query().Get("list"); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("no playlist id in %q", raw)
}

// ExtractChannelID pulls the channel ID from a /channel/ URL or accepts a
// bare UC… ID.
func ExtractChannelID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if channelIDPattern.MatchString(raw) {
		return raw, nil
	}
	if u, err := url.Parse(raw); err == nil {
		if rest, ok := strings.CutPrefix(u.Path, "/channel/"); ok {
			if id := firstPathSegment(rest); channelIDPattern.MatchString(id) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no channel id in %q", raw)
}

// ExtractHandle pulls an @handle from a bare string or a channel URL.
func ExtractHandle(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "@") && len(raw) > 1 {
		return raw, nil
	}
	if u, err := url.Parse(raw); err == nil {
		if p := firstPathSegment(u.Path); strings.HasPrefix(p, "@") && len(p) > 1 {
			return p, nil
		}
	}
	return "", fmt.Errorf("no channel handle in %q", raw)
}

func firstPathSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
