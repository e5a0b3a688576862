package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zaqqye/proctor_backend_v1/internal/engine"
	"github.com/zaqqye/proctor_backend_v1/internal/models"
	"github.com/zaqqye/proctor_backend_v1/internal/registry"
)

type SessionController struct {
	Registry *registry.Registry
	Engine   *engine.Engine
}

// ListSessions returns one derived summary per session for the reviewer
// list view.
func (sc *SessionController) ListSessions(c *gin.Context) {
	filter := registry.ListFilter{
		ExamID:    strings.TrimSpace(c.Query("exam_id")),
		StudentID: strings.TrimSpace(c.Query("student_id")),
		Status:    models.SessionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Risk:      models.RiskLevel(strings.ToUpper(strings.TrimSpace(c.Query("risk_level")))),
		SortBy:    c.DefaultQuery("sort_by", "updated_at"),
		SortDir:   c.DefaultQuery("sort_dir", "DESC"),
	}
	summaries, err := sc.Registry.ListSessions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries, "meta": gin.H{"total": len(summaries)}})
}

// GetSession returns the summary plus the full ordered incident timeline.
func (sc *SessionController) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	detail, err := sc.Registry.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Terminate is the administrative override. Terminating an already
// terminated session is a no-op, not an error.
func (sc *SessionController) Terminate(c *gin.Context) {
	sessionID := c.Param("session_id")
	reading, created, err := sc.Engine.Terminate(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reading":            reading,
		"already_terminated": !created,
	})
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// Flag records a reviewer annotation on the session.
func (sc *SessionController) Flag(c *gin.Context) {
	sc.addFlag(c, models.FlagKindFlagged)
}

// Complete records that the client explicitly stopped monitoring.
func (sc *SessionController) Complete(c *gin.Context) {
	sc.addFlag(c, models.FlagKindCompleted)
}

func (sc *SessionController) addFlag(c *gin.Context, kind string) {
	sessionID := c.Param("session_id")
	var req flagRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	createdBy := ""
	if uVal, ok := c.Get("user"); ok {
		createdBy = uVal.(models.User).Email
	}

	flag, err := sc.Registry.Flag(c.Request.Context(), sessionID, kind, req.Reason, createdBy)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if flag == nil {
		// duplicate completed flag
		c.JSON(http.StatusOK, gin.H{"message": "already recorded"})
		return
	}
	c.JSON(http.StatusCreated, flag)
}
