package routes

import (
	"errors"
	"net/http"

	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/storage"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// DeleteVideoHandler removes a video from the registry along with its run
// history. Graph nodes and edges keep any knowledge already merged from the
// video; only the registry entry goes away. Admins can additionally purge
// the archived payloads with ?purge=true.
func DeleteVideoHandler(c echo.Context) error {
	type deleteVideoParams struct {
		VideoID string `param:"id" validate:"required"`
		Purge   bool   `query:"purge"`
	}

	type deleteVideoResponse struct {
		Message string `json:"message"`
	}

	params := new(deleteVideoParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteVideoResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteVideoResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	if params.Purge && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, deleteVideoResponse{
			Message: "Purging the archive requires the admin role",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	if err := app.Store.DeleteVideo(ctx, params.VideoID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, deleteVideoResponse{
				Message: "Video not found",
			})
		}
		logger.Error("Failed to delete video", "video_id", params.VideoID, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteVideoResponse{
			Message: "Internal server error",
		})
	}

	if params.Purge {
		if err := storage.DeleteVideoArchive(ctx, app.S3, params.VideoID); err != nil {
			logger.Warn("Failed to purge video archive", "video_id", params.VideoID, "err", err)
			return c.JSON(http.StatusOK, deleteVideoResponse{
				Message: "Video deleted, but the archive purge failed",
			})
		}
		return c.JSON(http.StatusOK, deleteVideoResponse{
			Message: "Video and archive deleted",
		})
	}

	return c.JSON(http.StatusOK, deleteVideoResponse{
		Message: "Video deleted",
	})
}
