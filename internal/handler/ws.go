package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/bini59/kiko-vooster/internal/realtime"
)

// WSHandler upgrades GET /ws/sync/:script_id and hands the socket to the
// coordinator for the lifetime of the connection.
type WSHandler struct {
	coordinator *realtime.Coordinator
	upgrader    websocket.Upgrader
	log         logrus.FieldLogger
}

func NewWSHandler(co *realtime.Coordinator, log logrus.FieldLogger) *WSHandler {
	if co == nil {
		panic("nil coordinator passed to NewWSHandler")
	}
	return &WSHandler{
		coordinator: co,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     anyOrigin,
		},
		log: log.WithField("component", "ws_handler"),
	}
}

// anyOrigin lets viewers embed the player on any site.  Mapping writes go
// through the JWT-protected REST routes, not the socket.
func anyOrigin(*http.Request) bool { return true }

// Sync handles GET /ws/sync/:script_id?token=.  The token is optional;
// without a valid one the viewer joins anonymously.
func (h *WSHandler) Sync(c echo.Context) error {
	scriptID := c.Param("script_id")
	if scriptID == "" {
		return badRequest(c, "script_id is required")
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		h.log.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	info := map[string]any{
		"ip":         c.RealIP(),
		"user_agent": c.Request().UserAgent(),
	}
	if err := h.coordinator.Serve(c.Request().Context(), realtime.NewWSConn(ws), scriptID, c.QueryParam("token"), info); err != nil {
		h.log.WithError(err).WithField("script_id", scriptID).Debug("websocket session ended")
	}
	return nil
}
