package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sentrygate/internal/abuse"
	"sentrygate/internal/admin"
	"sentrygate/internal/audit"
	"sentrygate/internal/browserauth"
	"sentrygate/internal/captcha"
	"sentrygate/internal/config"
	"sentrygate/internal/filterchain"
	"sentrygate/internal/health"
	"sentrygate/internal/identity"
	"sentrygate/internal/ipstore"
	"sentrygate/internal/limiter"
	"sentrygate/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var logHandler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	if cfg.Logging.Format == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting sentrygate",
		"version", "0.1.0",
		"listen", cfg.Listen,
		"admin_listen", cfg.Admin.Listen,
		"storage_type", cfg.RateLimit.SlidingWindow.StorageType,
	)

	// State Store: in-memory or Redis, per rate_limit.sliding_window.storage_type.
	var store ipstore.Store
	switch cfg.RateLimit.SlidingWindow.StorageType {
	case "REMOTE":
		redisStore, err := ipstore.NewRedisStore(ipstore.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		store = redisStore
		logger.Info("using Redis state store", "addr", cfg.Redis.Addr)
	default:
		store = ipstore.NewMemoryStore()
		logger.Info("using in-memory state store")
	}

	rules := config.NewPathRuleSet(
		cfg.RateLimit.SlidingWindow.PathRules,
		cfg.RateLimit.SlidingWindow.DefaultWindowSize,
		cfg.RateLimit.SlidingWindow.DefaultMaxRequests,
	)
	lim := limiter.New(store, rules, logger)

	sm := abuse.New(store, lim, abuse.Config{
		SkipPaths:                 cfg.RateLimit.SkipPaths,
		BlackListEnabled:          cfg.RateLimit.BlackListEnabled,
		WhiteListTTL:              time.Duration(cfg.RateLimit.WhiteListDurationMinutes) * time.Minute,
		BlackListTTL:              time.Duration(cfg.RateLimit.BlackListDurationMinutes) * time.Minute,
		CaptchaTTL:                time.Duration(cfg.RateLimit.CaptchaDurationMinutes) * time.Minute,
		ActiveWindow:              time.Duration(cfg.RateLimit.IPTrackDurationSeconds) * time.Second,
		DDoSThresholdIPCount:      cfg.RateLimit.DDoSThresholdIPCount,
		DDoSReleaseIPCount:        cfg.RateLimit.DDoSReleaseIPCount,
		CaptchaPagePath:           cfg.RateLimit.CaptchaPagePath,
		BaseURL:                   cfg.RateLimit.BaseURL,
		StrictMode:                cfg.Captcha.StrictMode,
		AllowAPIWhenCaptchaActive: cfg.Captcha.AllowAPIWhenCaptchaActive,
	}, logger)

	resolver := identity.New(cfg.XForwardedFor.MaxTrustedIndex)

	scorer := browserauth.New(browserauth.Config{
		Strictness:          browserauth.Strictness(cfg.BrowserDetection.Strictness),
		MinUserAgentLength:  cfg.BrowserDetection.MinUserAgentLength,
		MaxUserAgentLength:  cfg.BrowserDetection.MaxUserAgentLength,
		BotKeywords:         cfg.BrowserDetection.BotKeywords,
		RealBrowserKeywords: cfg.BrowserDetection.RealBrowserKeywords,
		RequiredHeaders:     cfg.BrowserDetection.RequiredHeaders,
		SuspiciousHeaders:   cfg.BrowserDetection.SuspiciousHeaders,
	})

	verifier := captcha.New(store, time.Duration(cfg.RateLimit.WhiteListDurationMinutes)*time.Minute, logger)

	// Audit Sink: durable SQLite backend plus the async, best-effort queue.
	var auditDB *audit.SQLiteStore
	var sink *audit.Sink
	if cfg.Storage.Enabled {
		dataDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			logger.Error("failed to create data directory", "error", err, "path", dataDir)
			os.Exit(1)
		}
		auditDB, err = audit.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to initialize audit storage", "error", err)
			os.Exit(1)
		}
		logger.Info("audit storage enabled", "path", cfg.Storage.Path, "retention_days", cfg.AccessRecord.RetentionDays)
		sink = audit.NewSink(auditDB, cfg.AccessRecord.RetentionDays, 1024, logger)
	}

	// Telemetry: trace-id propagation only, graceful degrade on failure.
	tp := telemetry.NewProvider(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if tp.Enabled() {
		logger.Info("telemetry enabled", "exporter", cfg.Telemetry.Exporter, "endpoint", cfg.Telemetry.Endpoint)
	}

	prober := health.New(store, 30*time.Second, 5, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if sink != nil {
		go sink.Run(ctx)
	}
	go prober.Run(ctx)

	forwarder := func(ctx context.Context, rc *filterchain.Context) (int, error) {
		// Upstream reverse-proxy mechanics are an external collaborator;
		// the gateway's own job ends at admission.
		rc.Writer.WriteHeader(http.StatusOK)
		return http.StatusOK, nil
	}

	filters := []filterchain.Filter{
		filterchain.NewTraceInit(resolver, tp),
		filterchain.NewDDoSDefense(sm),
		filterchain.NewBrowserDetection(scorer),
		filterchain.NewAPIRateLimit(),
		filterchain.NewRequestLogger(logger),
		filterchain.NewAccessLogger(logger),
	}
	if sink != nil {
		filters = append(filters, filterchain.NewAccessRecorder(sink))
	}
	chain := filterchain.NewChain(forwarder, filters...)
	gatewayHandler := filterchain.NewHandler(chain, logger, 300*time.Millisecond)

	gatewayServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      gatewayHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var adminServer *http.Server
	if cfg.Admin.Enabled && auditDB != nil && sink != nil {
		adminHandler := admin.New(store, auditDB, sink, verifier, prober, admin.Config{
			AuthEnabled:  cfg.Admin.Auth.Enabled,
			APIKey:       cfg.Admin.Auth.APIKey,
			BlacklistTTL: time.Duration(cfg.RateLimit.BlackListDurationMinutes) * time.Minute,
		}, logger)
		adminServer = &http.Server{
			Addr:         cfg.Admin.Listen,
			Handler:      adminHandler,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	} else if cfg.Admin.Enabled {
		logger.Warn("admin surface disabled: storage.enabled is false, no durable backend for admin stats/logs")
	}

	errChan := make(chan error, 2)

	go func() {
		logger.Info("gateway server starting", "addr", cfg.Listen)
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("gateway server error: %w", err)
		}
	}()

	if adminServer != nil {
		go func() {
			logger.Info("admin server starting", "addr", cfg.Admin.Listen)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("admin server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.Error("server error", "error", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down servers")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway server shutdown error", "error", err)
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}
	if auditDB != nil {
		if err := auditDB.Close(); err != nil {
			logger.Error("audit storage close error", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", "error", err)
	}

	logger.Info("sentrygate stopped")
}
