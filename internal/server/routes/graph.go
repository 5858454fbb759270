package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/medrag/internal/server/middleware"
	"github.com/OFFIS-RIT/medrag/pkg/rag"
)

const defaultListLimit = 100

func DeleteEntityHandler(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Entity name is required"})
	}

	err := middleware.GetApp(c).Engine.DeleteEntity(c.Request().Context(), name)
	if errors.Is(err, rag.ErrEntityNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Message: "Entity not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Delete failed", Error: err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

func GetStatisticsHandler(c echo.Context) error {
	stats, err := middleware.GetApp(c).Engine.GetStatistics(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Failed to read statistics", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// parseLimit reads the limit query parameter. Zero means no limit.
func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non negative integer")
	}
	return limit, nil
}

func GetNodesHandler(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid limit", Error: err.Error()})
	}
	nodes, err := middleware.GetApp(c).Engine.GetAllNodes(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Failed to list nodes", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, nodes)
}

func GetEdgesHandler(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid limit", Error: err.Error()})
	}
	edges, err := middleware.GetApp(c).Engine.GetAllEdges(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Message: "Failed to list edges", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, edges)
}
