package routes

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/tubegraph/backend/internal/queue"
	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"
	"github.com/tubegraph/backend/pkg/youtube"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RegisterVideoHandler resolves a video URL or ID, fetches its metadata from
// the YouTube Data API and adds it to the registry in state "pending".
func RegisterVideoHandler(c echo.Context) error {
	type registerVideoBody struct {
		URL string `json:"url" validate:"required"`
	}

	type registerVideoResponse struct {
		Message string        `json:"message"`
		Video   *common.Video `json:"video,omitempty"`
	}

	body := new(registerVideoBody)
	if err := c.Bind(body); err != nil {
		return c.JSON(http.StatusBadRequest, registerVideoResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, registerVideoResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	videoID, err := youtube.ExtractVideoID(body.URL)
	if err != nil {
		return c.JSON(http.StatusBadRequest, registerVideoResponse{
			Message: "Not a video URL or ID",
		})
	}

	if existing, err := app.Store.GetVideo(ctx, videoID); err == nil {
		return c.JSON(http.StatusOK, registerVideoResponse{
			Message: "Video already registered",
			Video:   existing,
		})
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("Failed to look up video", "video_id", videoID, "err", err)
		return c.JSON(http.StatusInternalServerError, registerVideoResponse{
			Message: "Internal server error",
		})
	}

	if app.YouTube == nil {
		return c.JSON(http.StatusServiceUnavailable, registerVideoResponse{
			Message: "Video registration needs a YouTube API key",
		})
	}

	meta, err := app.YouTube.FetchVideoMetadata(ctx, videoID)
	if err != nil {
		if errors.Is(err, youtube.ErrNotFound) {
			return c.JSON(http.StatusNotFound, registerVideoResponse{
				Message: "Video not found on YouTube",
			})
		}
		logger.Error("Failed to fetch video metadata", "video_id", videoID, "err", err)
		return c.JSON(http.StatusInternalServerError, registerVideoResponse{
			Message: "Internal server error",
		})
	}

	video := meta.Video()
	if err := app.Store.RegisterVideo(ctx, &video); err != nil {
		logger.Error("Failed to register video", "video_id", videoID, "err", err)
		return c.JSON(http.StatusInternalServerError, registerVideoResponse{
			Message: "Internal server error",
		})
	}

	// The archive copy is informational; registration stands without it.
	if _, err := storage.ArchiveMetadata(ctx, app.S3, video.ID, meta); err != nil {
		logger.Warn("Failed to archive video metadata", "video_id", video.ID, "err", err)
	}

	return c.JSON(http.StatusOK, registerVideoResponse{
		Message: "Video registered",
		Video:   &video,
	})
}

// AddTriplesToVideoHandler accepts one extractor payload for a registered
// video, archives the raw bytes and queues an enrichment batch. The body is
// deliberately untyped: the worker repairs sloppy extractor JSON, so the
// server only checks that the payload is parseable at all and forwards the
// original bytes.
func AddTriplesToVideoHandler(c echo.Context) error {
	type addTriplesParams struct {
		VideoID string `param:"id" validate:"required"`
	}

	type addTriplesResponse struct {
		Message   string `json:"message"`
		PayloadID string `json:"payload_id,omitempty"`
		Triples   int    `json:"triples,omitempty"`
	}

	params := new(addTriplesParams)
	if err := (&echo.DefaultBinder{}).BindPathParams(c, params); err != nil {
		return c.JSON(http.StatusBadRequest, addTriplesResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, addTriplesResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	rawBody, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, addTriplesResponse{
			Message: "Invalid request body",
		})
	}

	triples, err := queue.ParseTriplesPayload(string(rawBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, addTriplesResponse{
			Message: "Triples payload is not parseable",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	video, err := app.Store.GetVideo(ctx, params.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, addTriplesResponse{
				Message: "Video is not registered",
			})
		}
		logger.Error("Failed to look up video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, addTriplesResponse{
			Message: "Internal server error",
		})
	}

	payloadID, err := gonanoid.New()
	if err != nil {
		logger.Error("Failed to generate payload ID", "err", err)
		return c.JSON(http.StatusInternalServerError, addTriplesResponse{
			Message: "Internal server error",
		})
	}

	// The archive is the replay source, so an unarchived batch never enters
	// the queue.
	payloadKey, err := storage.ArchivePayload(ctx, app.S3, video.ID, payloadID, rawBody)
	if err != nil {
		logger.Error("Failed to archive triples payload", "video_id", video.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, addTriplesResponse{
			Message: "Internal server error",
		})
	}

	job := queue.EnrichJob{
		VideoID:    video.ID,
		PayloadID:  payloadID,
		PayloadKey: payloadKey,
		Payload:    string(rawBody),
	}
	err = queue.PublishFIFO(app.Queue, queue.QueueEnrich, []byte(util.ConvertStructToJson(job)))
	if err != nil {
		logger.Error("Failed to publish enrich job", "video_id", video.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, addTriplesResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, addTriplesResponse{
		Message:   "Triples queued for enrichment",
		PayloadID: payloadID,
		Triples:   len(triples),
	})
}

// ReplayVideoHandler queues every archived payload of a video for
// re-enrichment. Enrichment is idempotent per payload, so replaying commits
// no duplicate aliases, provenance entries or edges.
func ReplayVideoHandler(c echo.Context) error {
	type replayVideoParams struct {
		VideoID string `param:"id" validate:"required"`
	}

	type replayVideoResponse struct {
		Message string `json:"message"`
		Batches int    `json:"batches"`
	}

	params := new(replayVideoParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, replayVideoResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, replayVideoResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	video, err := app.Store.GetVideo(ctx, params.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, replayVideoResponse{
				Message: "Video is not registered",
			})
		}
		logger.Error("Failed to look up video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, replayVideoResponse{
			Message: "Internal server error",
		})
	}

	keys, err := storage.ListPayloadKeys(ctx, app.S3, video.ID)
	if err != nil {
		logger.Error("Failed to list archived payloads", "video_id", video.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, replayVideoResponse{
			Message: "Internal server error",
		})
	}
	if len(keys) == 0 {
		return c.JSON(http.StatusNotFound, replayVideoResponse{
			Message: "No archived payloads for this video",
		})
	}

	for _, key := range keys {
		job := queue.EnrichJob{
			VideoID:    video.ID,
			PayloadID:  strings.TrimSuffix(path.Base(key), ".json"),
			PayloadKey: key,
		}
		err = queue.PublishFIFO(app.Queue, queue.QueueEnrich, []byte(util.ConvertStructToJson(job)))
		if err != nil {
			logger.Error("Failed to publish replay job", "video_id", video.ID, "key", key, "err", err)
			return c.JSON(http.StatusInternalServerError, replayVideoResponse{
				Message: "Internal server error",
			})
		}
	}

	return c.JSON(http.StatusAccepted, replayVideoResponse{
		Message: "Replay queued",
		Batches: len(keys),
	})
}
