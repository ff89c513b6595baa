package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
)

// SecurityMonitor is implemented by the security monitor.
type SecurityMonitor interface {
	Auditor
	RateLimitStatus(userID, ip string) models.RateLimitStatus
	RecentEvents(ctx context.Context, actor models.Actor, limit int, kind models.SecurityEventKind) ([]models.SecurityEvent, error)
}

// ReportingService is implemented by the reporting service.
type ReportingService interface {
	DashboardStats(ctx context.Context, actor models.Actor) (models.Dashboard, error)
}

// InsightsHandler serves the rate-limit display, the security event log and
// the analytics dashboard.
type InsightsHandler struct {
	base
	monitor   SecurityMonitor
	reporting ReportingService
}

// NewInsightsHandler constructs the HTTP handler adapter.
func NewInsightsHandler(monitor SecurityMonitor, reporting ReportingService, logger *zap.Logger) *InsightsHandler {
	return &InsightsHandler{base: newBase(monitor, logger), monitor: monitor, reporting: reporting}
}

// RateLimit returns the caller's current request budget.
func (h *InsightsHandler) RateLimit(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.monitor.RateLimitStatus(actor.UserID, c.ClientIP()))
}

// Events lists recent security events for admins. Accepts ?limit= and ?kind=.
func (h *InsightsHandler) Events(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := h.monitor.RecentEvents(c.Request.Context(), actor, limit, models.SecurityEventKind(c.Query("kind")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Dashboard returns role-specific statistics.
func (h *InsightsHandler) Dashboard(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	dash, err := h.reporting.DashboardStats(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}
