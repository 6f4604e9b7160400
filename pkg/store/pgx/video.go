package pgx

import (
	"context"
	"errors"
	"time"

	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const videoChunk = 250

const registerVideoSQL = `
INSERT INTO videos (id, title, description, channel_id, channel_title, published_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET title = EXCLUDED.title,
    description = EXCLUDED.description,
    channel_id = EXCLUDED.channel_id,
    channel_title = EXCLUDED.channel_title,
    published_at = EXCLUDED.published_at`

const registerVideosSQL = `
INSERT INTO videos (id, title, description, channel_id, channel_title, published_at)
SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::timestamptz[])
ON CONFLICT (id) DO NOTHING`

const getVideoSQL = `
SELECT id, title, description, channel_id, channel_title, published_at, state, created_at
FROM videos
WHERE id = $1`

const setVideoStateSQL = `
UPDATE videos SET state = $2 WHERE id = $1`

const listVideosSQL = `
SELECT id, title, description, channel_id, channel_title, published_at, state, created_at
FROM videos
WHERE ($1 = '' OR state = $1)
ORDER BY created_at DESC, id
LIMIT $2`

const deleteVideoRunsSQL = `
DELETE FROM enrichment_runs WHERE video_id = $1`

const deleteVideoSQL = `
DELETE FROM videos WHERE id = $1`

const saveRunSQL = `
INSERT INTO enrichment_runs (
	id, video_id, state,
	nodes_created, nodes_matched, edges_created, edges_merged,
	mentions_skipped, triples_skipped, embed_tokens, embed_duration_ms,
	error, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const getRunsSQL = `
SELECT id, video_id, state,
       nodes_created, nodes_matched, edges_created, edges_merged,
       mentions_skipped, triples_skipped, embed_tokens, embed_duration_ms,
       error, started_at, finished_at
FROM enrichment_runs
WHERE video_id = $1
ORDER BY started_at DESC, id DESC`

func (s *GraphDBStorage) RegisterVideo(ctx context.Context, video *common.Video) error {
	_, err := s.conn.Exec(ctx, registerVideoSQL,
		video.ID,
		util.SanitizePostgresText(video.Title),
		util.SanitizePostgresText(video.Description),
		video.ChannelID,
		util.SanitizePostgresText(video.ChannelTitle),
		video.PublishedAt,
	)
	return err
}

func (s *GraphDBStorage) RegisterVideos(ctx context.Context, videos []common.Video) (int, error) {
	registered := 0

	err := store.ChunkRange(len(videos), videoChunk, func(start, end int) error {
		part := videos[start:end]

		ids := make([]string, 0, len(part))
		titles := make([]string, 0, len(part))
		descriptions := make([]string, 0, len(part))
		channelIDs := make([]string, 0, len(part))
		channelTitles := make([]string, 0, len(part))
		publishedAts := make([]time.Time, 0, len(part))
		for _, v := range part {
			if v.ID == "" {
				continue
			}
			ids = append(ids, v.ID)
			titles = append(titles, util.SanitizePostgresText(v.Title))
			descriptions = append(descriptions, util.SanitizePostgresText(v.Description))
			channelIDs = append(channelIDs, v.ChannelID)
			channelTitles = append(channelTitles, util.SanitizePostgresText(v.ChannelTitle))
			publishedAts = append(publishedAts, v.PublishedAt)
		}
		if len(ids) == 0 {
			return nil
		}

		tag, err := s.conn.Exec(ctx, registerVideosSQL,
			ids, titles, descriptions, channelIDs, channelTitles, publishedAts)
		if err != nil {
			return err
		}
		registered += int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return registered, nil
}

func (s *GraphDBStorage) GetVideo(ctx context.Context, id string) (*common.Video, error) {
	var v common.Video
	err := s.conn.QueryRow(ctx, getVideoSQL, id).Scan(
		&v.ID,
		&v.Title,
		&v.Description,
		&v.ChannelID,
		&v.ChannelTitle,
		&v.PublishedAt,
		&v.State,
		&v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *GraphDBStorage) SetVideoState(ctx context.Context, id string, state string) error {
	tag, err := s.conn.Exec(ctx, setVideoStateSQL, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GraphDBStorage) ListVideos(ctx context.Context, state string, limit int) ([]common.Video, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.Query(ctx, listVideosSQL, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Video, 0, limit)
	for rows.Next() {
		var v common.Video
		err := rows.Scan(
			&v.ID,
			&v.Title,
			&v.Description,
			&v.ChannelID,
			&v.ChannelTitle,
			&v.PublishedAt,
			&v.State,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) DeleteVideo(ctx context.Context, id string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, deleteVideoRunsSQL, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteVideoSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return store.ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *GraphDBStorage) SaveRun(ctx context.Context, run *common.EnrichmentRun) error {
	if run.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return err
		}
		run.ID = id
	}

	_, err := s.conn.Exec(ctx, saveRunSQL,
		run.ID,
		run.VideoID,
		run.State,
		run.NodesCreated,
		run.NodesMatched,
		run.EdgesCreated,
		run.EdgesMerged,
		run.MentionsSkipped,
		run.TriplesSkipped,
		run.EmbedTokens,
		run.EmbedDurationMs,
		util.SanitizePostgresText(run.Error),
		run.StartedAt,
		run.FinishedAt,
	)
	return err
}

func (s *GraphDBStorage) GetRuns(ctx context.Context, videoID string) ([]common.EnrichmentRun, error) {
	rows, err := s.conn.Query(ctx, getRunsSQL, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.EnrichmentRun, 0)
	for rows.Next() {
		var r common.EnrichmentRun
		err := rows.Scan(
			&r.ID,
			&r.VideoID,
			&r.State,
			&r.NodesCreated,
			&r.NodesMatched,
			&r.EdgesCreated,
			&r.EdgesMerged,
			&r.MentionsSkipped,
			&r.TriplesSkipped,
			&r.EmbedTokens,
			&r.EmbedDurationMs,
			&r.Error,
			&r.StartedAt,
			&r.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
