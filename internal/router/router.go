package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/bini59/kiko-vooster/internal/handler"
	"github.com/bini59/kiko-vooster/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only the liveness check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterSync registers the /sync REST API.  Every route runs the optional
// JWT middleware and the rate limiter; mapping writes, history and
// alignment additionally require an authenticated user.
func RegisterSync(e *echo.Echo, h *handler.SyncHandler, health *handler.HealthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	// the health probe stays outside the limiter
	e.GET("/sync/health", health.Sync)

	g := e.Group("/sync", middleware.JWTAuth(jwtSecret), limiter)
	user := middleware.RequireUser()

	g.POST("/mappings", h.CreateMapping, user)
	g.GET("/mappings/sentence/:id", h.GetMapping)
	g.PUT("/mappings/sentence/:id", h.UpdateMapping, user)
	g.DELETE("/mappings/sentence/:id", h.DeleteMapping, user)
	g.GET("/mappings/sentence/:id/history", h.History, user)
	g.GET("/mappings/script/:id", h.ListScriptMappings)

	g.POST("/sessions", h.CreateSession)
	g.PUT("/sessions/:id/position", h.UpdatePosition)
	g.GET("/sessions/script/:id/participants", h.Participants)

	g.POST("/ai-align", h.AutoAlign, user)
}

// RegisterWebSocket registers the real-time sync socket.  Authentication is
// carried by the optional ?token= query parameter.
func RegisterWebSocket(e *echo.Echo, h *handler.WSHandler) {
	e.GET("/ws/sync/:script_id", h.Sync)
}
