package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/pkg/ai"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/enrich"
	"github.com/tubegraph/backend/pkg/leaselock"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/youtube"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
)

// The graph writer lease serializes enrichment batches across workers; the
// engine assumes a single writer per store.
const (
	graphWriterLockKey    = "graph:writer"
	graphWriterLeaseTTL   = 10 * time.Minute
	graphWriterLeaseRenew = 4 * time.Minute
)

// ProcessEnrichMessage handles one enrich_queue delivery end to end: it
// resolves the triples payload, takes the graph writer lease, runs the
// enrichment engine and records the outcome as an enrichment run.
//
// A nil return acks the delivery; an error sends it through the retry
// queue. Failed batches still get a run row before the error is returned.
func ProcessEnrichMessage(
	ctx context.Context,
	engine *enrich.Engine,
	graphStore store.GraphStorage,
	embedder ai.EmbeddingClient,
	s3Client *awss3.Client,
	locker *leaselock.Locker,
	msg string,
) error {
	var job EnrichJob
	if err := json.Unmarshal([]byte(msg), &job); err != nil {
		return fmt.Errorf("failed to parse enrich job: %w", err)
	}
	if job.VideoID == "" {
		return fmt.Errorf("enrich job has no video_id")
	}

	payload := job.Payload
	if payload == "" && job.PayloadKey != "" {
		if s3Client == nil {
			return fmt.Errorf("enrich job %s references archive key %s but S3 is not configured", job.PayloadID, job.PayloadKey)
		}
		raw, err := storage.GetFile(ctx, s3Client, job.PayloadKey)
		if err != nil {
			return fmt.Errorf("failed to fetch archived payload %s: %w", job.PayloadKey, err)
		}
		payload = string(raw)
	}

	triples, err := ParseTriplesPayload(payload)
	if err != nil {
		return fmt.Errorf("failed to parse triples for video %s: %w", job.VideoID, err)
	}

	logger.Info("[Queue] Starting enrichment",
		"video_id", job.VideoID,
		"payload_id", job.PayloadID,
		"triples", len(triples),
		"estimated_tokens", EstimateEmbedTokens(triples),
	)

	procCtx := ctx
	if locker != nil {
		lease, err := locker.Acquire(ctx, graphWriterLockKey, leaselock.Options{
			TTL:         graphWriterLeaseTTL,
			RenewEvery:  graphWriterLeaseRenew,
			Wait:        true,
			TokenPrefix: fmt.Sprintf("enrich/%s/", job.VideoID),
		})
		if err != nil {
			return fmt.Errorf("failed to acquire graph writer lease: %w", err)
		}
		defer func() {
			_ = lease.Release(context.Background())
		}()
		procCtx = lease.Context
	}

	embedder.ResetMetrics()
	start := time.Now()
	stats, enrichErr := engine.Enrich(procCtx, job.VideoID, triples)
	metrics := embedder.GetMetrics()
	duration := time.Since(start)

	run := common.EnrichmentRun{
		VideoID:         job.VideoID,
		State:           common.RunStateDone,
		EmbedTokens:     metrics.TotalTokens,
		EmbedDurationMs: metrics.DurationMs,
		StartedAt:       start,
		FinishedAt:      start.Add(duration),
	}
	if stats != nil {
		run.NodesCreated = stats.NodesCreated
		run.NodesMatched = stats.NodesMatched
		run.EdgesCreated = stats.EdgesCreated
		run.EdgesMerged = stats.EdgesMerged
		run.MentionsSkipped = stats.MentionsSkipped
		run.TriplesSkipped = stats.TriplesSkipped
		if stats.MentionsSkipped > 0 || stats.TriplesSkipped > 0 {
			run.State = common.RunStatePartial
		}
	}
	if enrichErr != nil {
		run.State = common.RunStateFailed
		run.Error = enrichErr.Error()
	}

	// Bookkeeping failures never retry a committed batch.
	if saveErr := graphStore.SaveRun(ctx, &run); saveErr != nil {
		logger.Warn("[Queue] Failed to save enrichment run", "video_id", job.VideoID, "err", saveErr)
	}

	videoState := common.VideoStateEnriched
	if enrichErr != nil {
		videoState = common.VideoStateFailed
	}
	if stateErr := graphStore.SetVideoState(ctx, job.VideoID, videoState); stateErr != nil {
		logger.Warn("[Queue] Failed to update video state", "video_id", job.VideoID, "state", videoState, "err", stateErr)
	}

	if enrichErr != nil {
		return fmt.Errorf("enrichment failed for video %s: %w", job.VideoID, enrichErr)
	}

	logger.Info("[Queue] Enrichment completed",
		"video_id", job.VideoID,
		"state", run.State,
		"duration_sec", duration.Seconds(),
	)

	return nil
}

// ProcessCatalogMessage expands one catalog_queue delivery into registered
// videos. Videos register as pending; their triples arrive later through
// the API once the extractor has processed them.
func ProcessCatalogMessage(
	ctx context.Context,
	yt *youtube.Client,
	graphStore store.GraphStorage,
	msg string,
) error {
	var job CatalogJob
	if err := json.Unmarshal([]byte(msg), &job); err != nil {
		return fmt.Errorf("failed to parse catalog job: %w", err)
	}
	if job.URL == "" {
		return fmt.Errorf("catalog job has no url")
	}
	if yt == nil {
		return fmt.Errorf("catalog job %q needs the YouTube API but no key is configured", job.URL)
	}

	kind := youtube.DetectInputKind(job.URL)
	videoIDs, err := expandCatalogInput(ctx, yt, kind, job)
	if err != nil {
		return fmt.Errorf("failed to expand catalog input %q: %w", job.URL, err)
	}

	registered, err := registerVideoIDs(ctx, yt, graphStore, videoIDs)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Catalog expansion completed",
		"input", job.URL,
		"kind", string(kind),
		"videos", len(videoIDs),
		"registered", registered,
	)

	return nil
}

func expandCatalogInput(ctx context.Context, yt *youtube.Client, kind youtube.InputKind, job CatalogJob) ([]string, error) {
	switch kind {
	case youtube.InputKindVideo:
		id, err := youtube.ExtractVideoID(job.URL)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil

	case youtube.InputKindPlaylist:
		playlistID, err := youtube.ExtractPlaylistID(job.URL)
		if err != nil {
			return nil, err
		}
		return yt.FetchPlaylistVideoIDs(ctx, playlistID)

	case youtube.InputKindChannelHandle:
		handle, err := youtube.ExtractHandle(job.URL)
		if err != nil {
			return nil, err
		}
		channelID, err := yt.ResolveHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
		return fetchChannelVideos(ctx, yt, channelID, job)

	case youtube.InputKindChannelID:
		channelID, err := youtube.ExtractChannelID(job.URL)
		if err != nil {
			return nil, err
		}
		return fetchChannelVideos(ctx, yt, channelID, job)

	default:
		return nil, fmt.Errorf("cannot classify catalog input %q", job.URL)
	}
}

func fetchChannelVideos(ctx context.Context, yt *youtube.Client, channelID string, job CatalogJob) ([]string, error) {
	sel, err := channelSelection(job)
	if err != nil {
		return nil, err
	}
	return yt.FetchChannelVideoIDs(ctx, channelID, sel)
}

// channelSelection maps job fields onto a channel fetch. An empty mode
// defaults to date_range when bounds are present and to all otherwise.
// The To bound is inclusive of its whole day.
func channelSelection(job CatalogJob) (youtube.ChannelSelection, error) {
	sel := youtube.ChannelSelection{
		Mode:  job.Mode,
		Limit: job.Limit,
	}
	if sel.Mode == "" {
		if job.From != "" || job.To != "" {
			sel.Mode = youtube.ModeDateRange
		} else {
			sel.Mode = youtube.ModeAll
		}
	}

	if job.From != "" {
		from, err := time.Parse("2006-01-02", job.From)
		if err != nil {
			return sel, fmt.Errorf("invalid from date %q: %w", job.From, err)
		}
		sel.From = from
	}
	if job.To != "" {
		to, err := time.Parse("2006-01-02", job.To)
		if err != nil {
			return sel, fmt.Errorf("invalid to date %q: %w", job.To, err)
		}
		sel.To = to.AddDate(0, 0, 1).Add(-time.Second)
	}

	return sel, nil
}

// registerVideoIDs fetches metadata for the given IDs and registers them
// with the store. IDs the API cannot resolve are dropped with a warning
// rather than failing the whole expansion.
func registerVideoIDs(ctx context.Context, yt *youtube.Client, graphStore store.GraphStorage, ids []string) (int, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	metas, err := yt.FetchVideosMetadata(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch video metadata: %w", err)
	}
	if len(metas) < len(ids) {
		logger.Warn("[Queue] Some catalog videos could not be resolved", "requested", len(ids), "resolved", len(metas))
	}

	videos := make([]common.Video, 0, len(metas))
	for i := range metas {
		videos = append(videos, metas[i].Video())
	}

	registered, err := graphStore.RegisterVideos(ctx, videos)
	if err != nil {
		return 0, fmt.Errorf("failed to register videos: %w", err)
	}

	return registered, nil
}
