package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chefbook/internal/api"
	"chefbook/internal/config"
	"chefbook/internal/database"
	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/logging"
	"chefbook/internal/metrics"
	"chefbook/internal/notify"
	"chefbook/internal/payment"
	"chefbook/internal/repository"
	"chefbook/internal/service"
	"chefbook/internal/tracing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing init failed, continuing without traces")
	} else {
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(tctx)
		}()
	}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	processor, err := initProcessor(cfg, logger)
	if err != nil {
		return err
	}

	var (
		leases domain.LeaseStore = repository.NewMemoryLeaseStore()
		push   domain.PushPublisher
	)
	if redisClient != nil {
		leases = repository.NewFailoverLeaseStore(repository.NewRedisLeaseStore(redisClient), leases, logging.Component(logger, "leases"))
		push = repository.NewRedisPushPublisher(redisClient)
	}

	channels, err := notify.ChannelsFromConfig(ctx, cfg.Notifications, db, push, logging.Component(logger, "notify"))
	if err != nil {
		logger.Error().Err(err).Msg("init notification channels")
		return err
	}
	dispatcher := notify.NewDispatcher(db, cfg.Notifications.DeliveryTimeout, logging.Component(logger, "notify"), channels...)
	defer dispatcher.Wait()

	bus := events.NewEventBus()
	events.NewOutboxWriter(db).Attach(bus)

	opts := service.OptionsFromConfig(cfg)
	svcLogger := logging.Component(logger, "service")
	payments := service.NewPaymentService(db, processor, leases, dispatcher, bus, opts, svcLogger)
	services := api.Services{
		Bookings:      service.NewBookingService(db, dispatcher, bus, opts, svcLogger),
		Payments:      payments,
		Disputes:      service.NewDisputeService(db, payments, dispatcher, bus, svcLogger),
		Notifications: dispatcher,
	}

	grpcServer, err := api.NewGRPCServer(&cfg.API, services.Bookings, logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	httpServer := api.NewHTTPServer(&cfg.API, services, db, logger)

	startMetrics(ctx, cfg, logger)

	return startServers(ctx, grpcServer, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initProcessor(cfg *config.Config, logger *zerolog.Logger) (domain.PaymentProcessor, error) {
	if !cfg.Payments.Live() {
		logger.Warn().Msg("omise keys not set, using the sandbox payment processor")
		return payment.NewSandboxProcessor(), nil
	}

	processor, err := payment.NewOmiseProcessor(cfg.Payments, logging.Component(logger, "omise"))
	if err != nil {
		logger.Error().Err(err).Msg("init omise client")
		return nil, err
	}
	return processor, nil
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

	grpcServer.SetServing(true)
	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	grpcServer.SetServing(false)

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
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
