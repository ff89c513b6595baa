package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/metrics"
	"github.com/mamadbah2/buildmart/internal/server/handlers"
	"github.com/mamadbah2/buildmart/internal/server/middleware"
)

// Handlers groups the HTTP adapters mounted by New.
type Handlers struct {
	Profiles    *handlers.ProfileHandler
	Procurement *handlers.ProcurementHandler
	Invoices    *handlers.InvoiceHandler
	Deliveries  *handlers.DeliveryHandler
	QRCodes     *handlers.QRCodeHandler
	Insights    *handlers.InsightsHandler
	Realtime    *handlers.RealtimeHandler
	Webhook     *handlers.WebhookHandler
}

// Options carries the cross-cutting pieces of the engine.
type Options struct {
	Auth          *middleware.Authenticator
	Guard         middleware.Guard
	AllowedOrigin string
	// Ping reports database reachability for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, opts Options, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Metrics())
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.CORS(opts.AllowedOrigin))

	r.GET("/healthz", func(c *gin.Context) {
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/webhook", h.Webhook.Verify)
	r.POST("/webhook", h.Webhook.Receive)
	r.GET("/realtime", h.Realtime.Connect)

	authed := []gin.HandlerFunc{opts.Auth.Authenticate}
	if opts.Guard != nil {
		authed = append(authed, middleware.RateLimit(opts.Guard))
	}

	// Kept at the root for the existing operator tooling.
	r.Group("/", authed...).POST("/send-message", h.Webhook.SendMessage)

	api := r.Group("/api/v1", authed...)

	api.GET("/me", h.Profiles.Me)
	api.PUT("/me", h.Profiles.UpdateMe)
	api.PUT("/me/provider-status", h.Profiles.UpdateProviderStatus)
	api.GET("/suppliers", h.Profiles.ListSuppliers)

	api.POST("/purchase-orders", h.Procurement.CreatePurchaseOrder)
	api.GET("/purchase-orders", h.Procurement.ListPurchaseOrders)
	api.GET("/purchase-orders/:id", h.Procurement.GetPurchaseOrder)
	api.POST("/purchase-orders/:id/confirm", h.Procurement.ConfirmPurchaseOrder)
	api.POST("/purchase-orders/:id/cancel", h.Procurement.CancelPurchaseOrder)
	api.POST("/purchase-orders/:id/complete", h.Procurement.CompletePurchaseOrder)

	api.POST("/delivery-notes", h.Procurement.CreateDeliveryNote)
	api.GET("/delivery-notes", h.Procurement.ListDeliveryNotes)
	api.GET("/delivery-notes/:id", h.Procurement.GetDeliveryNote)
	api.POST("/goods-received-notes", h.Procurement.CreateGoodsReceivedNote)
	api.GET("/goods-received-notes", h.Procurement.ListGoodsReceivedNotes)

	api.POST("/invoices", h.Invoices.Create)
	api.GET("/invoices", h.Invoices.List)
	api.GET("/invoices/:id", h.Invoices.Get)
	api.POST("/invoices/:id/send", h.Invoices.Send)
	api.POST("/invoices/:id/pay", h.Invoices.Pay)
	api.POST("/invoices/:id/cancel", h.Invoices.Cancel)

	api.GET("/deliveries", h.Deliveries.ListDeliveries)
	api.GET("/deliveries/:id/tracking", h.Deliveries.Tracking)
	api.POST("/deliveries/:id/status", h.Deliveries.UpdateStatus)
	api.POST("/deliveries/:id/location", h.Deliveries.RecordLocation)

	api.POST("/delivery-requests", h.Deliveries.CreateRequest)
	api.POST("/delivery-requests/:id/rotation", h.Deliveries.SetupRotation)
	api.GET("/delivery-requests/:id/rotation", h.Deliveries.GetRotation)
	api.POST("/delivery-requests/:id/respond", h.Deliveries.Respond)
	api.POST("/delivery-requests/:id/cancel", h.Deliveries.CancelRequest)
	api.GET("/offers", h.Deliveries.ListOffers)

	api.POST("/qr-codes", h.QRCodes.Generate)
	api.GET("/qr-codes", h.QRCodes.List)
	api.GET("/qr-codes/:code", h.QRCodes.Lookup)
	api.POST("/qr-codes/:code/status", h.QRCodes.UpdateStatus)

	api.GET("/security/rate-limit", h.Insights.RateLimit)
	api.GET("/security/events", h.Insights.Events)
	api.GET("/analytics/dashboard", h.Insights.Dashboard)

	logger.Info("router initialized")

	return r
}
