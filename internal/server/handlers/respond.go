package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/server/middleware"
)

// Auditor records security events raised while serving requests.
type Auditor interface {
	LogEvent(ctx context.Context, event models.SecurityEvent)
}

// base carries what every handler needs to resolve callers and report errors.
type base struct {
	audit  Auditor
	logger *zap.Logger
}

func newBase(audit Auditor, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{audit: audit, logger: logger}
}

// actor returns the authenticated caller, answering 401 when there is none.
func (b base) actor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return actor, ok
}

// bind decodes the JSON body, answering 400 on failure.
func (b base) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		b.logger.Debug("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps a service error onto an HTTP response.
func (b base) fail(c *gin.Context, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusForbidden:
		b.reportForbidden(c, err)
	case status >= http.StatusInternalServerError:
		b.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (b base) reportForbidden(c *gin.Context, err error) {
	if b.audit == nil {
		return
	}
	actor, _ := middleware.ActorFrom(c)
	b.audit.LogEvent(c.Request.Context(), models.SecurityEvent{
		Kind:     models.EventForbiddenAccess,
		Severity: models.SeverityMedium,
		UserID:   actor.UserID,
		IP:       c.ClientIP(),
		Path:     c.Request.URL.Path,
		Details:  map[string]string{"method": c.Request.Method, "reason": err.Error()},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrOfferNotActive):
		return http.StatusConflict
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
