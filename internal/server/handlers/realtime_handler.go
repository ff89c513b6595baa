package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	"github.com/mamadbah2/buildmart/internal/server/middleware"
)

// TokenAuthorizer resolves a raw token to a caller. On failure it has
// already written the response and counted the attempt.
type TokenAuthorizer interface {
	Authorize(c *gin.Context, raw string) (models.Actor, bool)
}

// ChangeFeed is implemented by the realtime hub.
type ChangeFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, actor models.Actor) error
}

// RealtimeHandler upgrades authenticated clients onto the change feed.
type RealtimeHandler struct {
	tokens TokenAuthorizer
	feed   ChangeFeed
	logger *zap.Logger
}

// NewRealtimeHandler constructs the HTTP handler adapter.
func NewRealtimeHandler(tokens TokenAuthorizer, feed ChangeFeed, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{tokens: tokens, feed: feed, logger: logger}
}

// Connect authenticates with the Authorization header or, for browsers that
// cannot set headers on websockets, the access_token query parameter.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	raw := middleware.BearerToken(c.Request)
	if raw == "" {
		raw = c.Query("access_token")
	}
	actor, ok := h.tokens.Authorize(c, raw)
	if !ok {
		return
	}

	if err := h.feed.Serve(c.Writer, c.Request, actor); err != nil {
		// The upgrader has already written the HTTP error.
		h.logger.Warn("realtime upgrade failed", zap.Error(err), zap.String("user_id", actor.UserID))
	}
}
