package routes

import (
	"net/http"
	"time"

	"github.com/tubegraph/backend/internal/queue"
	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/util"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/youtube"

	"github.com/labstack/echo/v4"
)

// ExpandCatalogHandler queues a catalog job for a playlist, channel or single
// video. Expansion runs on the worker because channel listings can take many
// paginated API calls.
func ExpandCatalogHandler(c echo.Context) error {
	type expandCatalogBody struct {
		URL   string `json:"url" validate:"required"`
		Mode  string `json:"mode" validate:"omitempty,oneof=latest earliest date_range all"`
		Limit int    `json:"limit" validate:"omitempty,gte=1,lte=500"`
		From  string `json:"from"`
		To    string `json:"to"`
	}

	type expandCatalogResponse struct {
		Message string `json:"message"`
		Kind    string `json:"kind,omitempty"`
	}

	body := new(expandCatalogBody)
	if err := c.Bind(body); err != nil {
		return c.JSON(http.StatusBadRequest, expandCatalogResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, expandCatalogResponse{
			Message: "Invalid request body",
		})
	}

	for _, d := range []string{body.From, body.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return c.JSON(http.StatusBadRequest, expandCatalogResponse{
				Message: "Dates must be formatted as YYYY-MM-DD",
			})
		}
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	app := c.(*middleware.AppContext).App

	kind := youtube.DetectInputKind(body.URL)
	if kind == youtube.InputKindUnknown {
		return c.JSON(http.StatusBadRequest, expandCatalogResponse{
			Message: "Not a recognizable YouTube video, playlist or channel",
		})
	}

	if app.YouTube == nil {
		return c.JSON(http.StatusServiceUnavailable, expandCatalogResponse{
			Message: "Catalog expansion needs a YouTube API key",
		})
	}

	job := queue.CatalogJob{
		URL:   body.URL,
		Mode:  body.Mode,
		Limit: body.Limit,
		From:  body.From,
		To:    body.To,
	}
	err := queue.PublishFIFO(app.Queue, queue.QueueCatalog, []byte(util.ConvertStructToJson(job)))
	if err != nil {
		logger.Error("Failed to publish catalog job", "url", body.URL, "err", err)
		return c.JSON(http.StatusInternalServerError, expandCatalogResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, expandCatalogResponse{
		Message: "Catalog expansion queued",
		Kind:    string(kind),
	})
}
