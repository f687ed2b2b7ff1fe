package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/courierhq/courier/internal/models"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/service"
)

type fireAutomationRequest struct {
	TriggerData models.JSONMap `json:"trigger_data"`
}

type schedulePublicationRequest struct {
	ContentID   uint      `json:"content_id" binding:"required"`
	ChannelID   uint      `json:"channel_id" binding:"required"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

type reschedulePublicationRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
}

func (s *Server) handleFireAutomation(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req fireAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TriggerData == nil {
		req.TriggerData = models.JSONMap{}
	}

	log, err := s.Automations.Execute(c.Request.Context(), id, req.TriggerData)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"log_id":           log.ID,
		"status":           log.Status,
		"actions_executed": len(log.ActionResults),
	})
}

func (s *Server) handleGetAutomationLogs(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := s.Automations.Logs(c.Request.Context(), id, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

func (s *Server) handleSchedulePublication(c *gin.Context) {
	var req schedulePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, err := s.Publications.Schedule(c.Request.Context(), req.ContentID, req.ChannelID, req.ScheduledAt)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, pub)
}

func (s *Server) handleListPublications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	pubs, err := s.Publications.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"publications": pubs, "count": len(pubs)})
}

func (s *Server) handleGetPublication(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	pub, err := s.Publications.Get(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, pub)
}

func (s *Server) handleReschedulePublication(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req reschedulePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pub, err := s.Publications.Reschedule(c.Request.Context(), id, req.ScheduledAt)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, pub)
}

func (s *Server) handleRetryPublication(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	pub, err := s.Publications.Retry(c.Request.Context(), id)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, pub)
}

func (s *Server) handleCancelPublication(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	force := c.Query("force") == "true"
	if err := s.Publications.Cancel(c.Request.Context(), id, force); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleGetPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.Registry.Names()})
}

func (s *Server) handleGenerateImage(c *gin.Context) {
	var req provider.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, attempts, err := s.Images.Generate(c.Request.Context(), req)
	if err != nil {
		var fallback *provider.FallbackError
		if errors.As(err, &fallback) {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":    "all providers failed",
				"attempts": fallback.Attempts,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":  result.Provider,
		"images":    result.Images,
		"fallbacks": attempts,
	})
}

// paramID parses the :id path parameter, responding 400 on garbage.
func paramID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id: " + raw})
		return 0, false
	}
	return uint(id), true
}

// renderError maps domain errors onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":        conflict.Error(),
			"existing_id":  conflict.ExistingID,
			"scheduled_at": conflict.ScheduledAt,
		})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
