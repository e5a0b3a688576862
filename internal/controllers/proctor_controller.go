package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctor_backend_v1/internal/engine"
)

type ProctorController struct {
	Engine *engine.Engine
}

type analyzeFrameRequest struct {
	Image       string        `json:"image" binding:"required"`
	SessionID   string        `json:"session_id" binding:"required"`
	StudentID   string        `json:"student_id"`
	ExamID      string        `json:"exam_id"`
	TabSwitches FlexibleCount `json:"tab_switches"`
}

// AnalyzeFrame runs one probe through the escalation engine and returns the
// persisted reading. The server-side counters in the response are the
// authoritative ones; the client must overwrite its local view with them.
func (pc *ProctorController) AnalyzeFrame(c *gin.Context) {
	var req analyzeFrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TabSwitches < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tab_switches must be non-negative"})
		return
	}

	reading, err := pc.Engine.RecordReading(c.Request.Context(), engine.RecordRequest{
		SessionID:   req.SessionID,
		StudentID:   req.StudentID,
		ExamID:      req.ExamID,
		Image:       req.Image,
		TabSwitches: req.TabSwitches.Int(),
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "session terminated"})
		case errors.Is(err, engine.ErrAssessmentFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "AI analysis failed"})
		case errors.Is(err, engine.ErrPersistence):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, reading)
}
