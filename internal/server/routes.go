package server

import (
	"net/http"

	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		app := c.(*middleware.AppContext).App
		if app.Queue == nil || app.Queue.IsClosed() {
			return c.String(http.StatusServiceUnavailable, "queue unavailable")
		}
		if _, err := app.Store.GraphStats(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, "store unavailable")
		}
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Video registry routes
	apiRoutes.GET("/videos", routes.GetVideosHandler)
	apiRoutes.POST("/videos", routes.RegisterVideoHandler, middleware.RequirePermission("video.register"))
	apiRoutes.GET("/videos/:id", routes.GetVideoHandler)
	apiRoutes.DELETE("/videos/:id", routes.DeleteVideoHandler, middleware.RequirePermission("video.delete"))
	apiRoutes.GET("/videos/:id/runs", routes.GetVideoRunsHandler)

	// Enrichment routes
	apiRoutes.POST("/videos/:id/triples", routes.AddTriplesToVideoHandler, middleware.RequirePermission("video.enrich"))
	apiRoutes.GET("/videos/:id/payloads", routes.GetVideoPayloadsHandler, middleware.RequirePermission("video.enrich"))
	apiRoutes.POST("/videos/:id/replay", routes.ReplayVideoHandler, middleware.RequirePermission("video.replay"))

	// Catalog routes
	apiRoutes.POST("/catalog", routes.ExpandCatalogHandler, middleware.RequirePermission("catalog.expand"))

	// Graph routes
	apiRoutes.GET("/graph/nodes", routes.SearchGraphNodesHandler, middleware.RequireAnyPermission("graph.view", "video.enrich"))
	apiRoutes.GET("/graph/nodes/:id", routes.GetGraphNodeHandler, middleware.RequireAnyPermission("graph.view", "video.enrich"))
	apiRoutes.GET("/graph/stats", routes.GetGraphStatsHandler, middleware.RequireAnyPermission("graph.view", "video.enrich"))
}
