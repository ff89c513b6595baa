package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/domain/models"
	service "github.com/mamadbah2/buildmart/internal/service/whatsapp"
)

const signatureHeader = "X-Hub-Signature-256"

// WebhookHandler handles inbound and outbound WhatsApp HTTP events.
type WebhookHandler struct {
	base
	svc service.MessagingService
}

// NewWebhookHandler constructs the HTTP handler adapter.
func NewWebhookHandler(svc service.MessagingService, audit Auditor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{base: newBase(audit, logger), svc: svc}
}

// Verify responds to Meta's webhook verification challenge.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	resp, err := h.svc.VerifyWebhookToken(mode, token, challenge)
	if err != nil {
		h.logger.Warn("webhook verification failed", zap.Error(err))
		h.suspicious(c, err)
		c.String(http.StatusForbidden, "verification failed")
		return
	}

	c.String(http.StatusOK, resp)
}

// Receive ingests webhook POST callbacks from Meta. Unsigned deliveries are
// refused; processing errors are logged and acknowledged so Meta does not
// redeliver the batch.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.svc.VerifySignature(c.GetHeader(signatureHeader), body); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err), zap.String("ip", c.ClientIP()))
		h.suspicious(c, err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload models.WebhookPayload
	if err := binding.JSON.BindBody(body, &payload); err != nil {
		h.logger.Warn("invalid webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.svc.HandleWebhook(c.Request.Context(), payload); err != nil {
		h.logger.Error("failed processing webhook", zap.Error(err))
	}

	c.Status(http.StatusOK)
}

// SendMessage lets an admin push a manual WhatsApp message.
func (h *WebhookHandler) SendMessage(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		h.fail(c, models.ErrForbidden)
		return
	}

	var req models.OutboundMessageRequest
	if !h.bind(c, &req) {
		return
	}

	if err := h.svc.SendOutbound(c.Request.Context(), req); err != nil {
		h.logger.Error("failed sending outbound", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "unable to send message"})
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *WebhookHandler) suspicious(c *gin.Context, reason error) {
	if h.audit == nil {
		return
	}
	h.audit.LogEvent(c.Request.Context(), models.SecurityEvent{
		Kind:     models.EventSuspiciousActivity,
		Severity: models.SeverityMedium,
		IP:       c.ClientIP(),
		Path:     c.Request.URL.Path,
		Details:  map[string]string{"reason": reason.Error()},
	})
}
