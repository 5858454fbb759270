package server

import (
	"github.com/OFFIS-RIT/medrag/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Ingestion
	apiRoutes.POST("/documents", routes.InsertDocumentHandler)
	apiRoutes.POST("/documents/async", routes.InsertDocumentAsyncHandler)

	apiRoutes.POST("/query", routes.QueryHandler)

	// Graph maintenance
	apiRoutes.DELETE("/entities/:name", routes.DeleteEntityHandler)
	apiRoutes.GET("/statistics", routes.GetStatisticsHandler)
	apiRoutes.GET("/graph/nodes", routes.GetNodesHandler)
	apiRoutes.GET("/graph/edges", routes.GetEdgesHandler)
}
