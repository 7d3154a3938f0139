package http

import (
	"net/http"
	"sort"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitsRequest carries the host document in order
type UnitsRequest struct {
	Units []domain.Unit `json:"units"`
}

// AboutToRunRequest announces that the host is about to run a unit.
// An empty UnitID falls back to the focused unit.
type AboutToRunRequest struct {
	UnitID string `json:"unit_id"`
	Rerun  bool   `json:"rerun"`
}

// UnitRequest names a single unit
type UnitRequest struct {
	UnitID string `json:"unit_id"`
}

// AcceptedResponse acknowledges an event queued for the orchestrator
type AcceptedResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := s.orchestrator.Status()

	healthy := s.health == nil || s.health.IsHealthy()
	code := http.StatusOK
	label := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		label = "unhealthy"
	}

	c.JSON(code, gin.H{
		"status":    label,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"orchestrator": string(status.Phase),
		},
	})
}

// handleSetUnits replaces the host document
func (s *Server) handleSetUnits(c *gin.Context) {
	var req UnitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := s.validator.Validate(req.Units); err != nil {
		errorJSON(c, http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error())
		return
	}

	s.document.SetUnits(req.Units)

	c.JSON(http.StatusOK, gin.H{
		"units": len(req.Units),
	})
}

// handleListUnits returns the host document as last pushed
func (s *Server) handleListUnits(c *gin.Context) {
	units, err := s.document.ListUnits(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	resp := gin.H{
		"units": units,
		"total": len(units),
	}
	if updated := s.document.UpdatedAt(); !updated.IsZero() {
		resp["updated_at"] = updated.UTC()
	}

	c.JSON(http.StatusOK, resp)
}

// handleStartSession replays the whole document
func (s *Server) handleStartSession(c *gin.Context) {
	s.accept(c, domain.EventTypeSessionStart, "", nil)
}

// handleAboutToRun handles the host's about-to-run notification
func (s *Server) handleAboutToRun(c *gin.Context) {
	var req AboutToRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	var data map[string]interface{}
	if req.Rerun {
		data = map[string]interface{}{"rerun": true}
	}

	s.accept(c, domain.EventTypeAboutToRun, req.UnitID, data)
}

// handleFinished handles the host's finished notification
func (s *Server) handleFinished(c *gin.Context) {
	var req UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	s.accept(c, domain.EventTypeFinished, req.UnitID, nil)
}

// handleFocus handles focus changes
func (s *Server) handleFocus(c *gin.Context) {
	var req UnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.UnitID == "" {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "unit_id is required")
		return
	}

	s.accept(c, domain.EventTypeFocusChanged, req.UnitID, nil)
}

// handleRevert requests an explicit revert of a unit
func (s *Server) handleRevert(c *gin.Context) {
	s.accept(c, domain.EventTypeRevertRequested, c.Param("id"), nil)
}

// accept publishes a host event for the orchestrator
func (s *Server) accept(c *gin.Context, eventType domain.EventType, unitID string, data map[string]interface{}) {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: s.orchestrator.SessionID(),
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := s.eventBus.Publish(c.Request.Context(), ports.TopicUnitEvents, event); err != nil {
		s.logger.Error("failed to publish host event",
			zap.String("event_type", string(eventType)),
			zap.String("unit_id", unitID),
			zap.Error(err))
		errorJSON(c, http.StatusServiceUnavailable, "EVENT_REJECTED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, AcceptedResponse{
		EventID: event.ID,
		Status:  "accepted",
	})
}

// handleStatus returns the orchestrator status
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Status())
}

// handleCheckpoints returns the live checkpoint index
func (s *Server) handleCheckpoints(c *gin.Context) {
	snapshot := s.orchestrator.Index().Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"session_id":  s.orchestrator.SessionID(),
		"checkpoints": snapshot,
		"total":       len(snapshot),
	})
}

// handleHistory returns every checkpoint taken in a session
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "checkpoint history is disabled")
		return
	}

	sessionID := c.DefaultQuery("session_id", s.orchestrator.SessionID())

	entries, err := s.history.List(c.Request.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to list checkpoint history",
			zap.String("session_id", sessionID),
			zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if entries == nil {
		entries = []domain.Checkpoint{}
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"history":    entries,
		"total":      len(entries),
	})
}

// handleDeleteHistory removes a session's checkpoint journal
func (s *Server) handleDeleteHistory(c *gin.Context) {
	if s.history == nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "checkpoint history is disabled")
		return
	}

	sessionID := c.DefaultQuery("session_id", s.orchestrator.SessionID())

	if err := s.history.Delete(c.Request.Context(), sessionID); err != nil {
		s.logger.Error("failed to delete checkpoint history",
			zap.String("session_id", sessionID),
			zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	s.logger.Info("checkpoint history deleted", zap.String("session_id", sessionID))
	c.Status(http.StatusNoContent)
}

// handleSessions lists the sessions that have a checkpoint journal
func (s *Server) handleSessions(c *gin.Context) {
	if s.history == nil {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "checkpoint history is disabled")
		return
	}

	sessions, err := s.history.Sessions(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list sessions", zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if sessions == nil {
		sessions = []string{}
	}
	sort.Strings(sessions)

	c.JSON(http.StatusOK, gin.H{
		"current":  s.orchestrator.SessionID(),
		"sessions": sessions,
		"total":    len(sessions),
	})
}
