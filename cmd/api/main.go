package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/packages/sec-core/config"
	"github.com/arc-self/packages/sec-core/internal/handler"
	"github.com/arc-self/packages/sec-core/logging"
	"github.com/arc-self/packages/sec-core/natsclient"
	"github.com/arc-self/packages/sec-core/sanitize"
	"github.com/arc-self/packages/sec-core/telemetry"
	"github.com/arc-self/packages/sec-core/tracker"
)

func main() {
	// --- Structured Logger ---
	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()

	settings := config.Load(zapLogger)

	// --- OpenTelemetry Tracer + Meter ---
	var trackerMetrics *telemetry.TrackerMetrics
	if settings.OTelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "sec-core", settings.OTelEndpoint)
		if err != nil {
			zapLogger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			zapLogger.Info("OTel tracer initialized", zap.String("endpoint", settings.OTelEndpoint))
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "sec-core", settings.OTelEndpoint)
		if err != nil {
			zapLogger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
			trackerMetrics, err = telemetry.NewTrackerMetrics(nil)
			if err != nil {
				zapLogger.Error("failed to register tracker metrics", zap.Error(err))
			}
		}
	}

	// --- NATS JetStream (optional: alerts stay in-process without it) ---
	var natsClient *natsclient.Client
	if settings.NATSURL != "" {
		var err error
		natsClient, err = natsclient.NewClient(settings.NATSURL, zapLogger)
		if err != nil {
			zapLogger.Fatal("NATS initialization failed", zap.Error(err))
		}
		defer natsClient.Close()

		if err := natsClient.ProvisionStreams(); err != nil {
			zapLogger.Fatal("NATS stream provisioning failed", zap.Error(err))
		}
	}

	// --- Sanitizing Logger ---
	mode := sanitize.ModeProduction
	if settings.LogMode == "development" {
		mode = sanitize.ModeDevelopment
	}
	secLogger := logging.New(
		logging.NewStdoutSink(),
		sanitize.NewDefault(mode),
		logging.WithFallback(zapLogger),
	)

	// --- Access Tracker ---
	tr := tracker.New(tracker.Config{
		Metrics: trackerMetrics,
		Logger:  zapLogger,
		OnAlert: func(a tracker.Alert) {
			if natsClient == nil {
				return
			}
			publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := natsClient.PublishAlert(publishCtx, a); err != nil {
				zapLogger.Error("alert publish failed", zap.Error(err))
			}
		},
	})

	trackerCtx, trackerCancel := context.WithCancel(context.Background())
	tr.Start(trackerCtx)
	defer tr.Stop()

	// --- HTTP Server ---
	e := echo.New()
	e.HideBanner = true

	// OTel tracing middleware (must be first to capture full request lifecycle)
	e.Use(otelecho.Middleware("sec-core"))
	e.Use(handler.RequestContextMiddleware())
	e.Use(handler.AccessTrackingMiddleware(tr, secLogger, nil))
	e.Use(middleware.Recover())

	adminHandler := &handler.Handler{Tracker: tr}
	adminHandler.RegisterRoutes(e)

	go func() {
		zapLogger.Info("sec-core HTTP server listening", zap.String("addr", settings.HTTPAddr))
		if err := e.Start(settings.HTTPAddr); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Echo shutdown error", zap.Error(err))
	}

	trackerCancel()

	zapLogger.Info("sec-core shut down cleanly")
}
