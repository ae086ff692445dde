package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nolongerevil/state-server-go/internal/config"
	"github.com/nolongerevil/state-server-go/internal/database"
	"github.com/nolongerevil/state-server-go/internal/handler"
	"github.com/nolongerevil/state-server-go/internal/history"
	"github.com/nolongerevil/state-server-go/internal/ingest"
	"github.com/nolongerevil/state-server-go/internal/jobs"
	"github.com/nolongerevil/state-server-go/internal/middleware"
	"github.com/nolongerevil/state-server-go/internal/redis"
	"github.com/nolongerevil/state-server-go/internal/repository"
	"github.com/nolongerevil/state-server-go/internal/service"
	"github.com/nolongerevil/state-server-go/internal/sse"
	"github.com/nolongerevil/state-server-go/migrations"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	stateRepo := repository.NewStateRepository(db.DB)
	entryKeyRepo := repository.NewEntryKeyRepository(db.DB)
	ownerRepo := repository.NewDeviceOwnerRepository(db.DB)
	shareRepo := repository.NewDeviceShareRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var stateHistory service.HistoryRecorder
	if cfg.Influx.Enabled() {
		recorder, err := history.Connect(context.Background(), cfg.Influx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to influxdb")
		}
		defer recorder.Close()
		stateHistory = recorder
	}

	accessService := service.NewAccessService(ownerRepo, shareRepo)
	stateService := service.NewStateService(db, stateRepo, accessService, broker, stateHistory)
	pairingService := service.NewPairingService(
		db, entryKeyRepo, ownerRepo, stateRepo, userRepo, service.MustLoadDefaults(),
	)
	userService := service.NewUserService(userRepo)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	userAuth := middleware.NewUserAuthMiddleware(cfg.AuthJWTSecret, cfg.AuthJWTIssuer)
	deviceAuth := middleware.NewDeviceAuthMiddleware(cfg.DeviceAPIKey)
	adminAuth := middleware.NewAdminAuthMiddleware(cfg.AdminTokenHash)
	claimRateLimit := middleware.NewRateLimitMiddleware(
		rateLimiter, cfg.ClaimRateLimitPerMin, time.Minute, "claim",
	)
	bodyLimit := middleware.NewBodyLimitMiddleware(config.MaxStateBodyBytes)
	claimBodyLimit := middleware.NewBodyLimitMiddleware(config.MaxClaimBodyBytes)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(isProduction)

	healthHandler := handler.NewHealthHandler(db)
	deviceHandler := handler.NewDeviceHandler(stateService)
	userHandler := handler.NewUserHandler(stateService, accessService)
	entryKeyHandler := handler.NewEntryKeyHandler(pairingService, userService, cfg.EntryKeyTTLSeconds)
	eventsHandler := handler.NewEventsHandler(broker, accessService, stateService)
	internalHandler := handler.NewInternalHandler(stateService, pairingService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimit.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(securityHeaders.Handler)
		r.Use(userAuth.Handler)

		// SSE streams are long-lived and stay outside the request timeout.
		r.Get("/devices/{serial}/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.With(claimBodyLimit.Handler, claimRateLimit.Handler).
				Post("/entry-key/claim", entryKeyHandler.Claim)

			r.Get("/me", userHandler.Me)
			r.Get("/devices", userHandler.ListDevices)
			r.Get("/devices/state", userHandler.GetState)
			r.Get("/devices/{serial}/state", userHandler.GetDeviceState)
			r.Put("/devices/{serial}/state/{objectKey}", userHandler.PutDeviceState)
		})
	})

	r.Route("/device", func(r chi.Router) {
		r.Use(deviceAuth.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Post("/{serial}/entry-key", entryKeyHandler.Generate)
		r.Get("/{serial}/state", deviceHandler.GetState)
		r.Get("/{serial}/state/{objectKey}", deviceHandler.GetObject)
		r.Put("/{serial}/state/{objectKey}", deviceHandler.PutState)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", internalHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(cfg.SweepInterval()).Register("entry keys", pairingService)
	sweepJob.Start()
	defer sweepJob.Stop()

	if cfg.MQTT.Enabled() {
		subscriber := ingest.NewSubscriber(cfg.MQTT, stateService)
		if err := subscriber.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start mqtt ingest")
		}
		defer subscriber.Close()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
