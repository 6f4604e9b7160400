package queue

import (
	"fmt"
	"strings"

	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/enrich"

	"github.com/pkoukk/tiktoken-go"
)

// EnrichJob is the enrich_queue message. Payload carries the extractor's raw
// triples JSON as received by the API; PayloadKey points at the archived copy
// in S3. A job with an empty Payload is resolved from its PayloadKey, which
// is how archived batches are replayed.
type EnrichJob struct {
	VideoID    string `json:"video_id"`
	PayloadID  string `json:"payload_id"`
	PayloadKey string `json:"payload_key,omitempty"`
	Payload    string `json:"payload,omitempty"`
}

// CatalogJob is the catalog_queue message. URL accepts anything the youtube
// package can classify (video, playlist, channel handle or channel ID).
// Mode, Limit, From and To narrow channel expansion and are ignored for
// single videos and playlists. From and To are calendar dates (2006-01-02).
type CatalogJob struct {
	URL   string `json:"url"`
	Mode  string `json:"mode,omitempty"`
	Limit int    `json:"limit,omitempty"`
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
}

// ParseTriplesPayload extracts triples from an extractor payload. It accepts
// a bare JSON array of triples or an object wrapping them in a "triples"
// field, and repairs common LLM output damage before giving up.
func ParseTriplesPayload(raw string) ([]common.Triple, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty triples payload")
	}

	var direct []common.Triple
	if err := util.UnmarshalFlexible(trimmed, &direct); err == nil {
		return direct, nil
	}

	var wrapped struct {
		Triples []common.Triple `json:"triples"`
	}
	if err := util.UnmarshalFlexible(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse triples payload: %w", err)
	}
	if wrapped.Triples == nil {
		return nil, fmt.Errorf("triples payload has no triples field")
	}

	return wrapped.Triples, nil
}

// EstimateEmbedTokens approximates the embedding token cost of a batch.
// Each distinct mention surface is counted once, matching the engine's
// per-batch embedding cache.
func EstimateEmbedTokens(triples []common.Triple) int {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return 0
	}

	seen := make(map[string]struct{}, len(triples)*2)
	total := 0
	for _, t := range triples {
		for _, surface := range []string{t.Subject, t.Object} {
			mention := enrich.NormalizeMention(surface)
			if mention == "" {
				continue
			}
			if _, ok := seen[mention]; ok {
				continue
			}
			seen[mention] = struct{}{}
			total += len(enc.Encode(mention, nil, nil))
		}
	}

	return total
}
