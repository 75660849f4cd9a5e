package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chefbook/internal/config"
	"chefbook/internal/database"
	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/logging"
	"chefbook/internal/notify"
	"chefbook/internal/repository"
	"chefbook/internal/scheduler"
	"chefbook/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
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

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	defer func() { _ = repository.Close(redisClient) }()

	var (
		leases domain.LeaseStore = repository.NewMemoryLeaseStore()
		push   domain.PushPublisher
		dlq    worker.DeadLetterQueue
	)
	if redisClient != nil {
		leases = repository.NewFailoverLeaseStore(repository.NewRedisLeaseStore(redisClient), leases, logging.Component(logger, "leases"))
		push = repository.NewRedisPushPublisher(redisClient)
		dlq = repository.NewRedisDeadLetterQueue(redisClient, cfg.Events.DeadLetterKey)
	}

	channels, err := notify.ChannelsFromConfig(ctx, cfg.Notifications, db, push, logging.Component(logger, "notify"))
	if err != nil {
		logger.Error().Err(err).Msg("init notification channels")
		return err
	}
	dispatcher := notify.NewDispatcher(db, cfg.Notifications.DeliveryTimeout, logging.Component(logger, "notify"), channels...)
	defer dispatcher.Wait()

	g, gctx := errgroup.WithContext(ctx)

	runner := newRunner(cfg, db, dispatcher, leases, logger)
	g.Go(func() error {
		runner.Start(gctx, cfg.Scheduler.Tick)
		return nil
	})

	relay, broker, err := newRelay(cfg, db, dlq, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("amqp unavailable, outbox events stay queued")
	} else if relay != nil {
		defer broker.Close()
		g.Go(func() error {
			relay.Start(gctx)
			return nil
		})
	}

	backups := database.NewBackupService(db, cfg.Backup, logger)
	g.Go(func() error {
		backups.Start(gctx)
		return nil
	})

	logger.Info().
		Str("timezone", cfg.Scheduler.Timezone).
		Dur("tick", cfg.Scheduler.Tick).
		Msg("worker started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func newRunner(cfg *config.Config, db *database.DB, notifier domain.Notifier, leases domain.LeaseStore, logger *zerolog.Logger) *scheduler.Runner {
	loc := cfg.Scheduler.Location()
	jobLogger := logging.Component(logger, "jobs")

	runner := scheduler.NewRunner(scheduler.SystemClock{}, leases, logging.Component(logger, "scheduler"))
	runner.Register(scheduler.NewReminderJob(db, notifier, loc, jobLogger), cfg.Scheduler.ReminderInterval)
	runner.Register(scheduler.NewReviewRequestJob(db, notifier, loc, jobLogger), cfg.Scheduler.ReviewRequestInterval)
	runner.Register(scheduler.NewPaymentDueJob(db, notifier, loc, cfg.Scheduler.PaymentDueWindowDays, jobLogger), cfg.Scheduler.PaymentDueInterval)
	return runner
}

// newRelay returns a nil relay when no broker is configured.
func newRelay(cfg *config.Config, db *database.DB, dlq worker.DeadLetterQueue, logger *zerolog.Logger) (*worker.EventRelay, *events.AMQPPublisher, error) {
	if cfg.Events.AMQPURL == "" {
		logger.Info().Msg("events.amqp_url not set, event relay disabled")
		return nil, nil, nil
	}

	broker, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect amqp: %w", err)
	}

	relay := worker.NewEventRelay(db, broker, dlq, worker.RelayConfig{
		Retry: worker.RetryPolicy{
			MaxRetries:    cfg.Events.MaxRetries,
			InitialDelay:  2 * time.Second,
			MaxDelay:      time.Minute,
			BackoffFactor: 2,
		},
		BatchSize:    cfg.Events.RelayBatch,
		PollInterval: cfg.Events.RelayPoll,
	}, logging.Component(logger, "event-relay"))
	return relay, broker, nil
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

	return cfg, logging.Component(baseLogger, "worker-main"), closer, nil
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
