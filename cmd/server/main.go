package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
	"github.com/mamadbah2/buildmart/internal/realtime"
	"github.com/mamadbah2/buildmart/internal/repository/mongodb"
	"github.com/mamadbah2/buildmart/internal/repository/postgres"
	"github.com/mamadbah2/buildmart/internal/repository/sheets"
	"github.com/mamadbah2/buildmart/internal/scheduler"
	"github.com/mamadbah2/buildmart/internal/server/handlers"
	"github.com/mamadbah2/buildmart/internal/server/middleware"
	"github.com/mamadbah2/buildmart/internal/server/router"
	deliverysvc "github.com/mamadbah2/buildmart/internal/service/deliveries"
	invoicingsvc "github.com/mamadbah2/buildmart/internal/service/invoicing"
	procurementsvc "github.com/mamadbah2/buildmart/internal/service/procurement"
	profilesvc "github.com/mamadbah2/buildmart/internal/service/profiles"
	qrcodesvc "github.com/mamadbah2/buildmart/internal/service/qrcodes"
	reportingsvc "github.com/mamadbah2/buildmart/internal/service/reporting"
	rotationsvc "github.com/mamadbah2/buildmart/internal/service/rotation"
	securitysvc "github.com/mamadbah2/buildmart/internal/service/security"
	whatsappsvc "github.com/mamadbah2/buildmart/internal/service/whatsapp"
	"github.com/mamadbah2/buildmart/pkg/clients/anthropic"
	whatsappclient "github.com/mamadbah2/buildmart/pkg/clients/whatsapp"
	"github.com/mamadbah2/buildmart/pkg/logger"
)

const realtimeSendBuffer = 64

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	loc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		baseLogger.Fatal("invalid timezone", zap.Error(err))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	store, err := postgres.Open(startCtx, cfg.Database.URL, cfg.Database.MaxOpenConns, logger.Named(baseLogger, "repo.postgres"))
	if err != nil {
		baseLogger.Fatal("failed to init postgres store", zap.Error(err))
	}
	defer func() { _ = store.Close() }()
	if err := store.CreateSchema(startCtx); err != nil {
		baseLogger.Fatal("failed to apply schema", zap.Error(err))
	}

	mongoRepo, err := mongodb.NewRepository(startCtx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
	if err != nil {
		baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
	}
	defer func() {
		if err := mongoRepo.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close mongodb connection", zap.Error(err))
		}
	}()
	if err := mongoRepo.EnsureIndexes(startCtx); err != nil {
		baseLogger.Fatal("failed to create mongodb indexes", zap.Error(err))
	}

	var ledger invoicingsvc.Ledger
	if cfg.Sheets.Enabled() {
		sheetLedger, err := sheets.NewInvoiceLedger(context.Background(), cfg.Sheets, logger.Named(baseLogger, "repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init invoice ledger", zap.Error(err))
		}
		ledger = sheetLedger
		baseLogger.Info("invoice ledger export enabled")
	}

	// Initialize AI Client
	var aiClient anthropic.Client
	if cfg.AI.AnthropicKey != "" {
		aiClient = anthropic.NewClient(cfg.AI.AnthropicKey)
		baseLogger.Info("anthropic ai client enabled")
	} else {
		baseLogger.Warn("anthropic api key missing, free-text offer replies disabled")
	}

	var whatsClient whatsappclient.Client
	if cfg.WhatsApp.Enabled() {
		whatsClient = whatsappclient.NewClient(cfg.WhatsApp)
	} else {
		baseLogger.Warn("whatsapp credentials missing, notifications disabled")
	}

	hub := realtime.NewHub(realtimeSendBuffer, logger.Named(baseLogger, "realtime"))
	defer hub.Close()

	monitor := securitysvc.NewMonitor(mongoRepo, cfg.RateLimit, cfg.Security, logger.Named(baseLogger, "svc.security"))

	messagingSvc := whatsappsvc.NewMetaWhatsAppService(cfg.WhatsApp, whatsClient, store, aiClient, logger.Named(baseLogger, "svc.whatsapp"))
	messagingSvc.SetLocation(loc)

	profileSvc := profilesvc.NewService(store, logger.Named(baseLogger, "svc.profiles"))
	procurementSvc := procurementsvc.NewService(store, hub, logger.Named(baseLogger, "svc.procurement"))
	invoicingSvc, err := invoicingsvc.NewService(store, ledger, hub, cfg.Invoicing, logger.Named(baseLogger, "svc.invoicing"))
	if err != nil {
		baseLogger.Fatal("failed to init invoicing", zap.Error(err))
	}
	deliverySvc := deliverysvc.NewService(store, hub, logger.Named(baseLogger, "svc.deliveries"))
	rotationSvc := rotationsvc.NewService(store, messagingSvc, hub, cfg.Rotation, logger.Named(baseLogger, "svc.rotation"))
	messagingSvc.SetResponder(rotationSvc)
	qrSvc := qrcodesvc.NewService(store, hub, logger.Named(baseLogger, "svc.qrcodes"))
	reportingSvc, err := reportingsvc.NewService(store, mongoRepo, monitor, messagingSvc, cfg.Reporting, cfg.WhatsApp.AdminRecipient, logger.Named(baseLogger, "svc.reporting"))
	if err != nil {
		baseLogger.Fatal("failed to init reporting", zap.Error(err))
	}

	auth := middleware.NewAuthenticator(cfg.Auth, monitor, logger.Named(baseLogger, "auth"))
	engine := router.New(router.Handlers{
		Profiles:    handlers.NewProfileHandler(profileSvc, monitor, logger.Named(baseLogger, "handlers.profiles")),
		Procurement: handlers.NewProcurementHandler(procurementSvc, monitor, logger.Named(baseLogger, "handlers.procurement")),
		Invoices:    handlers.NewInvoiceHandler(invoicingSvc, monitor, logger.Named(baseLogger, "handlers.invoices")),
		Deliveries:  handlers.NewDeliveryHandler(deliverySvc, rotationSvc, monitor, logger.Named(baseLogger, "handlers.deliveries")),
		QRCodes:     handlers.NewQRCodeHandler(qrSvc, monitor, logger.Named(baseLogger, "handlers.qrcodes")),
		Insights:    handlers.NewInsightsHandler(monitor, reportingSvc, logger.Named(baseLogger, "handlers.insights")),
		Realtime:    handlers.NewRealtimeHandler(auth, hub, logger.Named(baseLogger, "handlers.realtime")),
		Webhook:     handlers.NewWebhookHandler(messagingSvc, monitor, logger.Named(baseLogger, "handlers.whatsapp")),
	}, router.Options{
		Auth:          auth,
		Guard:         monitor,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Ping:          store.Ping,
	}, logger.Named(baseLogger, "router"))

	// Initialize Scheduler
	sched := scheduler.NewScheduler(*cfg, scheduler.Jobs{
		Rotation: rotationSvc,
		Invoices: invoicingSvc,
		Reports:  reportingSvc,
		Limiter:  monitor,
	}, loc, logger.Named(baseLogger, "scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
