package handler // declare the package name; contains HTTP handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bini59/kiko-vooster/internal/cache"
	"github.com/bini59/kiko-vooster/internal/realtime"
)

// Health is a simple liveness endpoint used by load balancers.  It returns
// a plain text "ok" with 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports the readiness of the sync engine's dependencies.
type HealthHandler struct {
	db      Pinger
	cache   cache.Cache
	manager *realtime.Manager
	timeout time.Duration
}

func NewHealthHandler(db Pinger, c cache.Cache, m *realtime.Manager) *HealthHandler {
	if db == nil || c == nil || m == nil {
		panic("nil dependency passed to NewHealthHandler")
	}
	return &HealthHandler{db: db, cache: c, manager: m, timeout: 2 * time.Second}
}

// Sync handles GET /sync/health.  It answers 200 with component status,
// connection statistics and feature flags, or 503 "unhealthy" when the
// store or the cache does not respond.
func (h *HealthHandler) Sync(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()
	now := float64(time.Now().UnixNano()) / 1e9

	if err := h.db.PingContext(ctx); err != nil {
		return h.unhealthy(c, now, "database: "+err.Error())
	}
	if err := h.cache.Ping(ctx); err != nil {
		return h.unhealthy(c, now, "cache: "+err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":          "healthy",
		"service":         "sync_mapping",
		"timestamp":       now,
		"cache_status":    "ok",
		"cache_backend":   h.cache.Backend(),
		"database_status": "ok",
		"connections":     h.manager.Stats(),
		"features": echo.Map{
			"mapping_crud":  true,
			"realtime_sync": true,
			"edit_history":  true,
			"ai_alignment":  true,
		},
	})
}

func (h *HealthHandler) unhealthy(c echo.Context, ts float64, reason string) error {
	return c.JSON(http.StatusServiceUnavailable, echo.Map{
		"status":    "unhealthy",
		"service":   "sync_mapping",
		"error":     reason,
		"timestamp": ts,
	})
}
