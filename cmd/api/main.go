package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicbook/internal/api"
	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/events"
	"clinicbook/internal/logging"
	"clinicbook/internal/metrics"
	"clinicbook/internal/models"
	"clinicbook/internal/notify"
	"clinicbook/internal/reference"
	"clinicbook/internal/repository"
	"clinicbook/internal/service"
	"clinicbook/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	slots, err := loadSlots(&logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, slots, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	sessions := initSessions(cfg, redisClient, &logger)

	sender, err := notify.FromConfig(cfg.Notifications, &logger)
	if err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}
	notificationWorker := worker.NewNotificationWorker(db, sender, redisClient, worker.RetryPolicyFromConfig(cfg.Notifications.Retry),
		cfg.Notifications.QueueSize, logging.Component(&logger, "notifications"))
	go notificationWorker.Start(ctx)

	eventBus := events.NewEventBus()
	eventBus.SubscribeAll(events.AllBookingEvents, notificationWorker.HandleEvent)
	eventBus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})

	bookings := service.NewBookingService(db, reference.New(cfg.Booking.ReferencePrefix), eventBus, cfg.Booking,
		logging.Component(&logger, "booking"))
	workflow := service.NewWorkflow(sessions, bookings, cfg.Booking, logging.Component(&logger, "workflow"))

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	grpcServer, err := api.NewGRPCServer(&cfg.API, bookings, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	httpServer := api.NewHTTPServer(cfg.API, bookings, workflow, &logger)
	httpServer.AddReadinessCheck("ledger", db.HealthCheck)
	if redisClient != nil {
		httpServer.AddReadinessCheck("redis", func(ctx context.Context) error {
			return repository.Ping(ctx, redisClient)
		})
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func loadSlots(logger *zerolog.Logger) ([]models.Slot, error) {
	slotsPath := os.Getenv("SLOTS_PATH")
	if slotsPath == "" {
		slotsPath = "configs/slots.yaml"
	}
	slotsData, err := os.ReadFile(slotsPath)
	if err != nil {
		logger.Error().Err(err).Str("slots_path", slotsPath).Msg("read slots")
		return nil, err
	}

	var slotsConfig struct {
		Slots []models.Slot `yaml:"slots"`
	}
	if err := yaml.Unmarshal(slotsData, &slotsConfig); err != nil {
		logger.Error().Err(err).Str("slots_path", slotsPath).Msg("parse slots")
		return nil, err
	}

	if err := config.ValidateSlots(slotsConfig.Slots); err != nil {
		return nil, fmt.Errorf("invalid slot catalog %s: %w", slotsPath, err)
	}
	return slotsConfig.Slots, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, slots []models.Slot, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncSlots(ctx, slots); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync slots: %w", err)
	}
	logger.Info().Int("slots", len(slots)).Msg("slot catalog synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initSessions prefers redis and falls back to process memory while it is
// unreachable.
func initSessions(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.SessionRepository {
	ttl := cfg.Booking.SessionTTLDuration()
	memory := repository.NewMemorySessionRepository(ttl)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisSessionRepository(redisClient, ttl)
	return repository.NewFailoverSessionRepository(primary, memory, logging.Component(logger, "sessions"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
