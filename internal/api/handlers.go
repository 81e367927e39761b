package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/metrics"
	"github.com/t77yq/alertd/internal/model"
	"github.com/t77yq/alertd/internal/monitor"
	"github.com/t77yq/alertd/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type acknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
}

func (s *Server) triggerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// evaluate handles POST {trigger_path}. Individual rule failures are reported
// in the summary; only an aborted run answers 500.
func (s *Server) evaluate(c *gin.Context) {
	ctx := c.Request.Context()
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	summary := s.runner.RunOnce(ctx)
	if !summary.Success {
		c.JSON(http.StatusInternalServerError, summary)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// listActive handles GET /api/alerts/active
func (s *Server) listActive(c *gin.Context) {
	filter := model.TriggerFilter{
		RuleID:   c.Query("ruleId"),
		Severity: model.AlertSeverity(c.Query("severity")),
		Limit:    defaultListLimit,
	}
	if limit := c.Query("limit"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = min(l, maxListLimit)
	}

	triggers, err := s.triggers.ListActive(c.Request.Context(), s.now(), filter)
	if err != nil {
		s.logger.Error("Failed to list active triggers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list active alerts"})
		return
	}
	if triggers == nil {
		triggers = []*model.AlertTrigger{}
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": triggers,
		"total":  len(triggers),
		"limit":  filter.Limit,
	})
}

// getTrigger handles GET /api/alerts/:id
func (s *Server) getTrigger(c *gin.Context) {
	trigger, err := s.triggers.GetTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trigger)
}

// acknowledge handles POST /api/alerts/:id/acknowledge
func (s *Server) acknowledge(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	at := s.now().UTC()
	trigger, err := s.triggers.Acknowledge(c.Request.Context(), c.Param("id"), req.AcknowledgedBy, at)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.transitioned(c, monitor.EventAcknowledged, trigger)
	c.JSON(http.StatusOK, trigger)
}

// resolve handles POST /api/alerts/:id/resolve
func (s *Server) resolve(c *gin.Context) {
	at := s.now().UTC()
	trigger, err := s.triggers.Resolve(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.transitioned(c, monitor.EventResolved, trigger)
	c.JSON(http.StatusOK, trigger)
}

func (s *Server) transitioned(c *gin.Context, eventType string, trigger *model.AlertTrigger) {
	metrics.TriggerTransitionsTotal.WithLabelValues(string(trigger.State)).Inc()

	s.logger.Info("Alert trigger updated",
		zap.String("trigger_id", trigger.ID),
		zap.String("state", string(trigger.State)),
		zap.String("acknowledged_by", trigger.AcknowledgedBy))

	event := monitor.NewAlertEvent(eventType, trigger, s.now().UTC())
	if err := s.publisher.Publish(c.Request.Context(), event); err != nil {
		s.logger.Warn("Failed to publish alert event",
			zap.String("trigger_id", trigger.ID),
			zap.Error(err))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrTriggerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, model.ErrTriggerResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrAcknowledgerRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Alert request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
