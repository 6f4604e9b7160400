package routes

import (
	"errors"
	"net/http"

	"github.com/tubegraph/backend/internal/server/middleware"
	"github.com/tubegraph/backend/pkg/common"
	"github.com/tubegraph/backend/pkg/enrich"
	"github.com/tubegraph/backend/pkg/logger"
	"github.com/tubegraph/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// SearchGraphNodesHandler embeds the query string and returns the closest
// nodes. The query goes through the same normalization as entity mentions,
// so a search for a surface string finds the node that string would have
// been resolved to during enrichment.
func SearchGraphNodesHandler(c echo.Context) error {
	type searchNodesParams struct {
		Query string `query:"q" validate:"required"`
		K     int    `query:"k" validate:"omitempty,gte=1,lte=100"`
	}

	type searchNodesResponse struct {
		Message string             `json:"message"`
		Matches []common.NodeMatch `json:"matches"`
	}

	params := new(searchNodesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchNodesResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchNodesResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, searchNodesResponse{
			Message: "Unauthorized",
		})
	}

	if params.K == 0 {
		params.K = 10
	}

	query := enrich.NormalizeMention(params.Query)
	if query == "" {
		return c.JSON(http.StatusBadRequest, searchNodesResponse{
			Message: "Query is empty",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	embedding, err := app.Embedder.GenerateEmbedding(ctx, []byte(query))
	if err != nil {
		logger.Error("Failed to embed search query", "err", err)
		return c.JSON(http.StatusInternalServerError, searchNodesResponse{
			Message: "Internal server error",
		})
	}

	matches, err := app.Store.SearchNodes(ctx, embedding, params.K)
	if err != nil {
		logger.Error("Failed to search nodes", "err", err)
		return c.JSON(http.StatusInternalServerError, searchNodesResponse{
			Message: "Internal server error",
		})
	}
	if matches == nil {
		matches = []common.NodeMatch{}
	}

	return c.JSON(http.StatusOK, searchNodesResponse{
		Message: "Search complete",
		Matches: matches,
	})
}

func GetGraphNodeHandler(c echo.Context) error {
	type getNodeParams struct {
		NodeID string `param:"id" validate:"required"`
	}

	type getNodeResponse struct {
		Message string        `json:"message"`
		Node    *common.Node  `json:"node,omitempty"`
		Edges   []common.Edge `json:"edges,omitempty"`
	}

	params := new(getNodeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getNodeResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getNodeResponse{
			Message: "Invalid request params",
		})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, getNodeResponse{
			Message: "Unauthorized",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	node, err := app.Store.GetNode(ctx, params.NodeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, getNodeResponse{
				Message: "Node not found",
			})
		}
		logger.Error("Failed to look up node", "node_id", params.NodeID, "err", err)
		return c.JSON(http.StatusInternalServerError, getNodeResponse{
			Message: "Internal server error",
		})
	}

	edges, err := app.Store.GetNodeEdges(ctx, node.ID)
	if err != nil {
		logger.Error("Failed to load node edges", "node_id", node.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, getNodeResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, getNodeResponse{
		Message: "Node found",
		Node:    node,
		Edges:   edges,
	})
}

func GetGraphStatsHandler(c echo.Context) error {
	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	stats, err := app.Store.GraphStats(ctx)
	if err != nil {
		logger.Error("Failed to load graph stats", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, stats)
}
