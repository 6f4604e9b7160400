package routes

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

func GetVideosHandler(c echo.Context) error {
	type getVideosParams struct {
		State string `query:"state" validate:"omitempty,oneof=pending enriched failed"`
		Limit int    `query:"limit" validate:"omitempty,gte=1,lte=500"`
	}

	params := new(getVideosParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	if params.Limit == 0 {
		params.Limit = 100
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	videos, err := app.Store.ListVideos(ctx, params.State, params.Limit)
	if err != nil {
		logger.Error("Failed to list videos", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if videos == nil {
		videos = []common.Video{}
	}

	return c.JSON(http.StatusOK, videos)
}

// GetVideoHandler returns one registry row together with its most recent
// enrichment run, if any.
func GetVideoHandler(c echo.Context) error {
	type getVideoParams struct {
		VideoID string `param:"id" validate:"required"`
	}

	type getVideoResponse struct {
		Message   string                `json:"message"`
		Video     *common.Video         `json:"video,omitempty"`
		LatestRun *common.EnrichmentRun `json:"latest_run,omitempty"`
	}

	params := new(getVideoParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getVideoResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getVideoResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getVideoResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	video, err := app.Store.GetVideo(ctx, params.VideoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getVideoResponse{
				Message: "Video not found",
			})
		}
		logger.Error("Failed to look up video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, getVideoResponse{
			Message: "Internal server error",
		})
	}

	resp := getVideoResponse{
		Message: "Video found",
		Video:   video,
	}

	runs, err := app.Store.GetRuns(ctx, video.ID)
	if err != nil {
		logger.Warn("Failed to load runs for video", "video_id", video.ID, "err", err)
	} else if len(runs) > 0 {
		// GetRuns returns newest first.
		resp.LatestRun = &runs[0]
	}

	return c.JSON(http.StatusOK, resp)
}

// GetVideoPayloadsHandler lists a video's archived extractor payloads with
// presigned download links, so the batches a replay would re-enqueue can be
// inspected.
func GetVideoPayloadsHandler(c echo.Context) error {
	type getVideoPayloadsParams struct {
		VideoID string `param:"id" validate:"required"`
	}

	type archivedPayload struct {
		PayloadID   string `json:"payload_id"`
		Key         string `json:"key"`
		DownloadURL string `json:"download_url"`
	}

	type getVideoPayloadsResponse struct {
		Message  string            `json:"message"`
		Payloads []archivedPayload `json:"payloads"`
	}

	params := new(getVideoPayloadsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getVideoPayloadsResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getVideoPayloadsResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if _, err := app.Store.GetVideo(ctx, params.VideoID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getVideoPayloadsResponse{
				Message: "Video not found",
			})
		}
		logger.Error("Failed to look up video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, getVideoPayloadsResponse{
			Message: "Internal server error",
		})
	}

	keys, err := storage.ListPayloadKeys(ctx, app.S3, params.VideoID)
	if err != nil {
		logger.Error("Failed to list archived payloads", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, getVideoPayloadsResponse{
			Message: "Internal server error",
		})
	}

	payloads := make([]archivedPayload, 0, len(keys))
	for _, key := range keys {
		link, err := storage.GenerateDownloadLink(ctx, app.S3, key)
		if err != nil {
			logger.Error("Failed to presign payload", "key", key, "err", err)
			return c.JSON(http.StatusInternalServerError, getVideoPayloadsResponse{
				Message: "Internal server error",
			})
		}
		payloads = append(payloads, archivedPayload{
			PayloadID:   strings.TrimSuffix(path.Base(key), ".json"),
			Key:         key,
			DownloadURL: link,
		})
	}

	return c.JSON(http.StatusOK, getVideoPayloadsResponse{
		Message:  "Payloads found",
		Payloads: payloads,
	})
}

func GetVideoRunsHandler(c echo.Context) error {
	type getVideoRunsParams struct {
		VideoID string `param:"id" validate:"required"`
	}

	params := new(getVideoRunsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if _, err := app.Store.GetVideo(ctx, params.VideoID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Video not found"})
		}
		logger.Error("Failed to look up video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	runs, err := app.Store.GetRuns(ctx, params.VideoID)
	if err != nil {
		logger.Error("Failed to load runs for video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if runs == nil {
		runs = []common.EnrichmentRun{}
	}

	return c.JSON(http.StatusOK, runs)
}
