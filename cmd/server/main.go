package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"towing/internal/app"
	"towing/internal/config"
	"towing/internal/handler"
	"towing/internal/middleware"
	"towing/internal/quote"
	internalRedis "towing/internal/redis"
	"towing/internal/repository/postgres"
	"towing/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	logger, err := app.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("AUTH_JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic goes first so the database and Redis clients get instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL", zap.String("host", cfg.Database.Host))

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	server := wireServer(db, redisClient, nrApp, cfg, logger)

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

func quoteCredentials(cfg config.QuoteConfig) quote.CredentialSource {
	if cfg.TokenURL != "" {
		return quote.NewRefreshingCredentials(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Timeout)
	}
	return quote.StaticToken(cfg.ServiceToken)
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *zap.Logger) *http.Server {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	feed := internalRedis.NewFeed(redisClient)

	// Initialize repositories.
	requestRepo := postgres.NewRequestRepository(db)
	providerRepo := postgres.NewProviderRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	checklistRepo := postgres.NewChecklistRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)
	transactor := postgres.NewTransactor(db)

	quoteClient := quote.NewClient(quote.Config{
		URL:     cfg.Quote.URL,
		APIKey:  cfg.Quote.APIKey,
		Timeout: cfg.Quote.Timeout,
	}, quoteCredentials(cfg.Quote), logger.Named("quote"))

	// Initialize services.
	notificationService := service.NewNotificationService(service.NewLogPusher(logger.Named("push")), logger)
	settingsService := service.NewSettingsService(settingsRepo, cacheStore, cfg.Dispatch.DefaultCommissionRate, logger)
	requestService := service.NewRequestService(requestRepo, clientRepo, messageRepo, quoteClient, settingsService,
		locationStore, lockStore, cacheStore, feed, notificationService, cfg.Dispatch, logger.Named("requests"))
	dispatchService := service.NewDispatchService(requestRepo, providerRepo, locationStore, lockStore, cacheStore,
		feed, notificationService, cfg.Dispatch, logger.Named("dispatch"))
	lifecycleService := service.NewLifecycleService(requestRepo, providerRepo, checklistRepo, transactor, settingsService,
		lockStore, cacheStore, feed, notificationService, cfg.Dispatch, logger.Named("lifecycle"))
	trackingService := service.NewTrackingService(providerRepo, requestRepo, locationStore, cacheStore, feed,
		cfg.Tracking, cfg.Dispatch.ActiveLookback, logger.Named("tracking"))

	// Initialize handlers.
	requestHandler := handler.NewRequestHandler(requestService)
	providerHandler := handler.NewProviderHandler(dispatchService, lifecycleService, trackingService)
	streamHandler := handler.NewStreamHandler(requestService, dispatchService, trackingService, cfg.Tracking, logger.Named("stream"))

	router := app.NewRouter(app.RouterDeps{
		RequestHandler:  requestHandler,
		ProviderHandler: providerHandler,
		StreamHandler:   streamHandler,
		Idempotency:     middleware.NewRedisIdempotencyStore(redisClient),
		NewRelicApp:     nrApp,
		Logger:          logger,
		JWTSecret:       cfg.Auth.JWTSecret,
	})

	// WriteTimeout stays unset by default: the SSE streams are long-lived.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
