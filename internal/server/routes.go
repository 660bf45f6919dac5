package server

import (
	"net/http"

	"github.com/OFFIS-RIT/whygraph/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/whygraph/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, app *middleware.App) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Query routes
	apiRoutes.POST("/ask", routes.AskHandler, middleware.RequirePermission(middleware.PermissionAsk))
	apiRoutes.POST("/query", routes.QueryHandler, middleware.RequirePermission(middleware.PermissionAsk))

	// Audit routes
	apiRoutes.GET("/audit/:request_id/:artifact", routes.GetAuditArtifactHandler, middleware.RequirePermission(middleware.PermissionReadAudit))
	apiRoutes.GET("/replay/:request_id", routes.ReplayHandler, middleware.RequirePermission(middleware.PermissionReadAudit))
}
