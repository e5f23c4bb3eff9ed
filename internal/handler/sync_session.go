package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/service"
)

type createSessionRequest struct {
	ScriptID        string         `json:"script_id" validate:"required"`
	ConnectionID    string         `json:"connection_id" validate:"required,min=1,max=100"`
	CurrentPosition float64        `json:"current_position" validate:"gte=0"`
	IsPlaying       bool           `json:"is_playing"`
	SessionToken    *string        `json:"session_token" validate:"omitempty,max=255"`
	SessionType     string         `json:"session_type" validate:"omitempty,oneof=individual group classroom"`
	ClientInfo      map[string]any `json:"client_info"`
}

type positionRequest struct {
	Position   *float64 `json:"position" validate:"required,gte=0"`
	IsPlaying  *bool    `json:"is_playing"`
	SentenceID *string  `json:"sentence_id"`
}

// CreateSession handles POST /sync/sessions.  Any active session of the same
// connection and script is closed first.  The caller's user id, when
// authenticated, is attached to the session.
func (h *SyncHandler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	s, err := h.Sessions.CreateSession(c.Request().Context(), service.CreateSessionInput{
		ScriptID:     req.ScriptID,
		ConnectionID: req.ConnectionID,
		UserID:       actor(c),
		Position:     req.CurrentPosition,
		IsPlaying:    req.IsPlaying,
		SessionToken: req.SessionToken,
		SessionType:  model.SessionType(req.SessionType),
		ClientInfo:   req.ClientInfo,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, s)
}

// UpdatePosition handles PUT /sync/sessions/:id/position.  404 when the
// session is unknown or no longer active.
func (h *SyncHandler) UpdatePosition(c echo.Context) error {
	var req positionRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	id := c.Param("id")
	s, err := h.Sessions.UpdatePosition(c.Request().Context(), id, service.PositionUpdate{
		Position:   req.Position,
		IsPlaying:  req.IsPlaying,
		SentenceID: req.SentenceID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "position updated",
		"data": echo.Map{
			"session_id": id,
			"position":   s.CurrentPosition,
			"is_playing": s.IsPlaying,
		},
	})
}

// Participants handles GET /sync/sessions/script/:id/participants.
func (h *SyncHandler) Participants(c echo.Context) error {
	ps, err := h.Sessions.ListRoomParticipants(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if ps == nil {
		ps = []model.Participant{}
	}
	return c.JSON(http.StatusOK, ps)
}
