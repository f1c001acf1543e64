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
	"sync"
	"syscall"
	"time"

	"classbook/internal/api"
	"classbook/internal/bot"
	"classbook/internal/config"
	"classbook/internal/database"
	"classbook/internal/domain"
	"classbook/internal/events"
	"classbook/internal/logging"
	"classbook/internal/metrics"
	"classbook/internal/notify"
	"classbook/internal/repository"
	"classbook/internal/service"
	"classbook/internal/worker"

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

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, but starting API application. Check your config.")
	}

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	bus := events.NewEventBus()
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event_type", event.Type).Msg("event handler failed")
	})
	if amqpPublisher := initAMQP(cfg, bus, &logger); amqpPublisher != nil {
		defer amqpPublisher.Close()
	}

	opts := service.OptionsFromConfig(cfg.Booking)
	bookings := service.NewBookingService(db, bus, opts, &logger)
	waitlist := service.NewWaitlistService(db, bus, opts, &logger)
	policies := service.NewPolicyService(db, opts, &logger)
	reschedules := service.NewRescheduleService(db, bus, opts, &logger)

	notifier, botSender := initNotifier(cfg, db, &logger)
	notificationWorker := worker.NewNotificationWorker(
		db,
		notifier,
		redisClient,
		worker.RetryPolicyFromConfig(cfg.Notifications.Worker),
		cfg.Notifications.Worker.PollInterval,
		logging.Component(&logger, "notifications"),
	)
	notificationWorker.Subscribe(bus)

	userLimiter, memoryLimiter := initUserLimiter(redisClient, &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, db, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Store:          db,
		Bookings:       bookings,
		Waitlist:       waitlist,
		Policies:       policies,
		Reschedules:    reschedules,
		UserLimiter:    userLimiter,
		UserRateLimit:  cfg.Booking.UserRateLimit,
		UserRateWindow: time.Duration(cfg.Booking.UserRateWindow) * time.Second,
	}, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	background := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	background(notificationWorker.Start)
	background(database.NewBackupService(db, cfg.Backup, logging.Component(&logger, "backup")).Start)
	background(func(ctx context.Context) { pruneLimiter(ctx, memoryLimiter, time.Minute) })
	if botSender != nil && cfg.Notifications.Telegram.BotEnabled {
		memberBot := bot.NewBot(bot.NewBotWrapper(botSender.BotAPI), db, bookings, waitlist, userLimiter, bot.Options{
			RateLimit:  cfg.Booking.UserRateLimit,
			RateWindow: time.Duration(cfg.Booking.UserRateWindow) * time.Second,
		}, logging.Component(&logger, "bot"))
		background(memberBot.Start)
	}
	if cfg.Waitlist.SweepEnabled {
		sweeper := worker.NewHoldSweeper(waitlist, cfg.Waitlist.SweepInterval, logging.Component(&logger, "hold-sweeper"))
		background(sweeper.Start)
	} else {
		logger.Info().Msg("waitlist hold sweep disabled; holds expire only on demand")
	}

	startMetrics(ctx, cfg, &logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)
	wg.Wait()
	return err
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

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initAMQP mirrors every bus event to RabbitMQ when a broker is configured.
func initAMQP(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *events.AMQPPublisher {
	if cfg.AMQP.URL == "" {
		return nil
	}

	publisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logging.Component(logger, "amqp"))
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq init failed, continuing without event export")
		return nil
	}
	bus.Subscribe(events.AllEvents, publisher.Forward)

	logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("rabbitmq connected")
	return publisher
}

func initNotifier(cfg *config.Config, users notify.UserLookup, logger *zerolog.Logger) (domain.Notifier, *notify.BotSender) {
	tg := cfg.Notifications.Telegram
	if tg.BotToken == "" {
		logger.Info().Msg("telegram bot token not set, notifications go to the log")
		return notify.NewLogNotifier(logging.Component(logger, "notify")), nil
	}

	sender, err := notify.NewBotSender(tg.BotToken, tg.Debug)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, notifications go to the log")
		return notify.NewLogNotifier(logging.Component(logger, "notify")), nil
	}

	logger.Info().Msg("telegram notifier ready")
	return notify.NewTelegramNotifier(users, sender, logging.Component(logger, "notify")), sender
}

// initUserLimiter prefers Redis for per-user limits and falls back to
// process memory while Redis is unreachable.
func initUserLimiter(redisClient *redis.Client, logger *zerolog.Logger) (domain.RateLimitRepository, *repository.MemoryRateLimiter) {
	memory := repository.NewMemoryRateLimiter()
	if redisClient == nil {
		return memory, memory
	}
	primary := repository.NewRedisRateLimiter(redisClient)
	return repository.NewFailoverRateLimiter(primary, memory, logging.Component(logger, "rate-limit")), memory
}

func pruneLimiter(ctx context.Context, limiter *repository.MemoryRateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
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
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	grpcAddr := "disabled"
	if grpcServer != nil {
		grpcAddr = grpcServer.Addr()
	}
	logger.Info().Str("grpc_addr", grpcAddr).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
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
