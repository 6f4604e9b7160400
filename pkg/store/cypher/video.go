package cypher

import (
	"context"

	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const registerVideoCypher = `
MERGE (v:Video {id: $id})
ON CREATE SET v.state = $pending, v.created_at_ms = $now
SET v.title = $title,
    v.description = $description,
    v.channel_id = $channel_id,
    v.channel_title = $channel_title,
    v.published_at_ms = $published_at_ms`

const registerVideosCypher = `
UNWIND $videos AS video
OPTIONAL MATCH (existing:Video {id: video.id})
WITH video, existing IS NULL AS is_new
MERGE (v:Video {id: video.id})
ON CREATE SET v.state = $pending, v.created_at_ms = $now
SET v.title = video.title,
    v.description = video.description,
    v.channel_id = video.channel_id,
    v.channel_title = video.channel_title,
    v.published_at_ms = video.published_at_ms
RETURN is_new`

const getVideoCypher = `
MATCH (v:Video {id: $id})
RETURN v.id, v.title, v.description, v.channel_id, v.channel_title, v.published_at_ms, v.state, v.created_at_ms`

const setVideoStateCypher = `
MATCH (v:Video {id: $id})
SET v.state = $state
RETURN count(v) AS updated`

const listVideosCypher = `
MATCH (v:Video)
WHERE $state = '' OR v.state = $state
RETURN v.id, v.title, v.description, v.channel_id, v.channel_title, v.published_at_ms, v.state, v.created_at_ms
ORDER BY v.created_at_ms DESC, v.id
LIMIT $limit`

const deleteVideoCypher = `
MATCH (v:Video {id: $id})
DETACH DELETE v
WITH 1 AS deleted
OPTIONAL MATCH (r:EnrichmentRun {video_id: $id})
DETACH DELETE r
RETURN deleted`

const saveRunCypher = `
CREATE (r:EnrichmentRun {
	id: $id,
	video_id: $video_id,
	state: $state,
	nodes_created: $nodes_created,
	nodes_matched: $nodes_matched,
	edges_created: $edges_created,
	edges_merged: $edges_merged,
	mentions_skipped: $mentions_skipped,
	triples_skipped: $triples_skipped,
	embed_tokens: $embed_tokens,
	embed_duration_ms: $embed_duration_ms,
	error: $error,
	started_at_ms: $started_at_ms,
	finished_at_ms: $finished_at_ms
})`

const getRunsCypher = `
MATCH (r:EnrichmentRun {video_id: $video_id})
RETURN r.id, r.video_id, r.state,
       r.nodes_created, r.nodes_matched, r.edges_created, r.edges_merged,
       r.mentions_skipped, r.triples_skipped, r.embed_tokens, r.embed_duration_ms,
       r.error, r.started_at_ms, r.finished_at_ms
ORDER BY r.started_at_ms DESC, r.id DESC`

func recordToVideo(values []any) common.Video {
	return common.Video{
		ID:           asString(values[0]),
		Title:        asString(values[1]),
		Description:  asString(values[2]),
		ChannelID:    asString(values[3]),
		ChannelTitle: asString(values[4]),
		PublishedAt:  msToTime(asInt64(values[5])),
		State:        asString(values[6]),
		CreatedAt:    msToTime(asInt64(values[7])),
	}
}

func videoParams(video *common.Video) map[string]any {
	return map[string]any{
		"id":              video.ID,
		"title":           video.Title,
		"description":     video.Description,
		"channel_id":      video.ChannelID,
		"channel_title":   video.ChannelTitle,
		"published_at_ms": timeToMs(video.PublishedAt),
	}
}

func (s *GraphCypherStorage) RegisterVideo(ctx context.Context, video *common.Video) error {
	params := videoParams(video)
	params["pending"] = common.VideoStatePending
	params["now"] = nowMs()

	_, err := s.read(ctx, registerVideoCypher, params)
	return err
}

func (s *GraphCypherStorage) RegisterVideos(ctx context.Context, videos []common.Video) (int, error) {
	if len(videos) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(videos))
	for i := range videos {
		if videos[i].ID == "" {
			continue
		}
		rows = append(rows, videoParams(&videos[i]))
	}
	if len(rows) == 0 {
		return 0, nil
	}

	result, err := s.read(ctx, registerVideosCypher, map[string]any{
		"videos":  rows,
		"pending": common.VideoStatePending,
		"now":     nowMs(),
	})
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, record := range result.Records {
		if isNew, ok := record.Values[0].(bool); ok && isNew {
			registered++
		}
	}
	return registered, nil
}

func (s *GraphCypherStorage) GetVideo(ctx context.Context, id string) (*common.Video, error) {
	result, err := s.read(ctx, getVideoCypher, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, store.ErrNotFound
	}
	v := recordToVideo(result.Records[0].Values)
	return &v, nil
}

func (s *GraphCypherStorage) SetVideoState(ctx context.Context, id string, state string) error {
	result, err := s.read(ctx, setVideoStateCypher, map[string]any{"id": id, "state": state})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 || asInt64(result.Records[0].Values[0]) != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphCypherStorage) ListVideos(ctx context.Context, state string, limit int) ([]common.Video, error) {
	if limit <= 0 {
		limit = 100
	}

	result, err := s.read(ctx, listVideosCypher, map[string]any{"state": state, "limit": limit})
	if err != nil {
		return nil, err
	}

	out := make([]common.Video, 0, len(result.Records))
	for _, record := range result.Records {
		out = append(out, recordToVideo(record.Values))
	}
	return out, nil
}

func (s *GraphCypherStorage) DeleteVideo(ctx context.Context, id string) error {
	result, err := s.read(ctx, deleteVideoCypher, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(result.Records) == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphCypherStorage) SaveRun(ctx context.Context, run *common.EnrichmentRun) error {
	if run.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		run.ID = id
	}

	_, err := s.read(ctx, saveRunCypher, map[string]any{
		"id":                run.ID,
		"video_id":          run.VideoID,
		"state":             run.State,
		"nodes_created":     run.NodesCreated,
		"nodes_matched":     run.NodesMatched,
		"edges_created":     run.EdgesCreated,
		"edges_merged":      run.EdgesMerged,
		"mentions_skipped":  run.MentionsSkipped,
		"triples_skipped":   run.TriplesSkipped,
		"embed_tokens":      run.EmbedTokens,
		"embed_duration_ms": run.EmbedDurationMs,
		"error":             run.Error,
		"started_at_ms":     timeToMs(run.StartedAt),
		"finished_at_ms":    timeToMs(run.FinishedAt),
	})
	return err
}

func (s *GraphCypherStorage) GetRuns(ctx context.Context, videoID string) ([]common.EnrichmentRun, error) {
	result, err := s.read(ctx, getRunsCypher, map[string]any{"video_id": videoID})
	if err != nil {
		return nil, err
	}

	out := make([]common.EnrichmentRun, 0, len(result.Records))
	for _, record := range result.Records {
		values := record.Values
		out = append(out, common.EnrichmentRun{
			ID:              asString(values[0]),
			VideoID:         asString(values[1]),
			State:           asString(values[2]),
			NodesCreated:    asInt(values[3]),
			NodesMatched:    asInt(values[4]),
			EdgesCreated:    asInt(values[5]),
			EdgesMerged:     asInt(values[6]),
			MentionsSkipped: asInt(values[7]),
			TriplesSkipped:  asInt(values[8]),
			EmbedTokens:     asInt(values[9]),
			EmbedDurationMs: asInt64(values[10]),
			Error:           asString(values[11]),
			StartedAt:       msToTime(asInt64(values[12])),
			FinishedAt:      msToTime(asInt64(values[13])),
		})
	}
	return out, nil
}
