package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bini59/kiko-vooster/internal/model"
	"github.com/bini59/kiko-vooster/internal/service"
)

// SyncHandler exposes the mapping store and the session registry over REST.
// Routes that change mappings are expected to run behind RequireUser; the
// rest accept anonymous callers.
type SyncHandler struct {
	Mappings *service.MappingService // versioned mappings and audit trail
	Sessions *service.SessionService // durable playback sessions
}

// NewSyncHandler constructs a SyncHandler and panics if a dependency is nil.
func NewSyncHandler(m *service.MappingService, s *service.SessionService) *SyncHandler {
	if m == nil || s == nil {
		panic("nil service passed to NewSyncHandler")
	}
	return &SyncHandler{Mappings: m, Sessions: s}
}

type createMappingRequest struct {
	SentenceID  string         `json:"sentence_id" validate:"required"`
	StartTime   *float64       `json:"start_time" validate:"required,gte=0"`
	EndTime     *float64       `json:"end_time" validate:"required,gte=0"`
	MappingType string         `json:"mapping_type" validate:"omitempty,oneof=manual auto ai_generated"`
	Metadata    map[string]any `json:"metadata"`
	EditReason  *string        `json:"edit_reason" validate:"omitempty,max=500"`
}

type updateMappingRequest struct {
	StartTime   *float64       `json:"start_time" validate:"omitempty,gte=0"`
	EndTime     *float64       `json:"end_time" validate:"omitempty,gte=0"`
	MappingType *string        `json:"mapping_type" validate:"omitempty,oneof=manual auto ai_generated"`
	Metadata    map[string]any `json:"metadata"`
	EditReason  *string        `json:"edit_reason" validate:"omitempty,max=500"`
}

type autoAlignRequest struct {
	ScriptID            string   `json:"script_id" validate:"required"`
	AudioDuration       float64  `json:"audio_duration" validate:"gt=0"`
	ConfidenceThreshold *float64 `json:"confidence_threshold" validate:"omitempty,gte=0,lte=1"`
}

// CreateMapping handles POST /sync/mappings.  It stores a new active mapping
// for the sentence, replacing the current one, and returns it with 201.
// A start/end pair that is not 0 <= start < end yields 400.
func (h *SyncHandler) CreateMapping(c echo.Context) error {
	var req createMappingRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	m, err := h.Mappings.CreateMapping(c.Request().Context(), service.CreateMappingInput{
		SentenceID: req.SentenceID,
		Start:      *req.StartTime,
		End:        *req.EndTime,
		Type:       model.MappingType(req.MappingType),
		Actor:      actor(c),
		Metadata:   req.Metadata,
		Reason:     req.EditReason,
		ClientInfo: clientInfo(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// GetMapping handles GET /sync/mappings/sentence/:id.  A sentence without
// an active mapping answers 200 with a JSON null.
func (h *SyncHandler) GetMapping(c echo.Context) error {
	m, err := h.Mappings.GetActiveMapping(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if m == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, m)
}

// UpdateMapping handles PUT /sync/mappings/sentence/:id.  Omitted fields
// keep the values of the current active mapping.  404 when the sentence
// has no active mapping.
func (h *SyncHandler) UpdateMapping(c echo.Context) error {
	var req updateMappingRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	in := service.UpdateMappingInput{
		SentenceID: c.Param("id"),
		Start:      req.StartTime,
		End:        req.EndTime,
		Metadata:   req.Metadata,
		Reason:     req.EditReason,
		Actor:      actor(c),
		ClientInfo: clientInfo(c),
	}
	if req.MappingType != nil {
		t := model.MappingType(*req.MappingType)
		in.Type = &t
	}
	m, err := h.Mappings.UpdateMapping(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

// DeleteMapping handles DELETE /sync/mappings/sentence/:id.  The active
// mapping is deactivated; history is kept.
func (h *SyncHandler) DeleteMapping(c echo.Context) error {
	id := c.Param("id")
	if err := h.Mappings.DeleteMapping(c.Request().Context(), id, actor(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "mapping deleted",
		"data":    echo.Map{"sentence_id": id},
	})
}

// ListScriptMappings handles GET /sync/mappings/script/:id.  Pass
// include_inactive=true to include superseded versions.
func (h *SyncHandler) ListScriptMappings(c echo.Context) error {
	includeInactive := false
	if v := c.QueryParam("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "include_inactive must be a boolean")
		}
		includeInactive = b
	}
	ms, err := h.Mappings.ListMappings(c.Request().Context(), c.Param("id"), includeInactive)
	if err != nil {
		return writeError(c, err)
	}
	if ms == nil {
		ms = []model.ScriptMapping{}
	}
	return c.JSON(http.StatusOK, ms)
}

// History handles GET /sync/mappings/sentence/:id/history?limit=.  limit
// defaults to 50 and must lie in [1, 100].
func (h *SyncHandler) History(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxHistoryLimit {
			return badRequest(c, "limit must be an integer between 1 and 100")
		}
		limit = n
	}
	edits, err := h.Mappings.GetEditHistory(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return writeError(c, err)
	}
	if edits == nil {
		edits = []model.MappingEdit{}
	}
	return c.JSON(http.StatusOK, edits)
}

// AutoAlign handles POST /sync/ai-align.  Every sentence of the script gets
// an ai_generated mapping; the response carries the mappings and summary
// statistics with processing_time in seconds.
func (h *SyncHandler) AutoAlign(c echo.Context) error {
	var req autoAlignRequest
	if ok, err := bindBody(c, &req); !ok {
		return err
	}
	res, err := h.Mappings.AutoAlign(c.Request().Context(), service.AutoAlignInput{
		ScriptID:      req.ScriptID,
		AudioDuration: req.AudioDuration,
		Threshold:     req.ConfidenceThreshold,
		Actor:         actor(c),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"script_id":          res.ScriptID,
		"total_sentences":    res.Stats.TotalSentences,
		"aligned_sentences":  res.Stats.AlignedSentences,
		"average_confidence": res.Stats.AverageConfidence,
		"processing_time":    res.Stats.ProcessingTime.Seconds(),
		"mappings":           res.Mappings,
	})
}
