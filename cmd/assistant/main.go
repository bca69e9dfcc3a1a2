package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/admin"
	"github.com/gridironhq/huddle/internal/config"
	"github.com/gridironhq/huddle/internal/db"
	"github.com/gridironhq/huddle/internal/dedup"
	"github.com/gridironhq/huddle/internal/dispatch"
	"github.com/gridironhq/huddle/internal/events"
	"github.com/gridironhq/huddle/internal/monitor"
	"github.com/gridironhq/huddle/internal/observ"
	"github.com/gridironhq/huddle/internal/platform"
	"github.com/gridironhq/huddle/internal/prefs"
	"github.com/gridironhq/huddle/internal/queue"
	"github.com/gridironhq/huddle/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting huddle assistant",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("dispatcher_mode", cfg.DispatcherMode),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	store := db.NewStore(database, logger)

	// Redis backs the dedup guard across restarts. Without it the guard
	// falls back to an in-process cache (a restart may allow one
	// duplicate alert).
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, dedup guard running in-memory",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		_ = rdb.Close()
		rdb = nil
	} else {
		defer rdb.Close()
	}
	cancel()

	guard := dedup.NewGuard(rdb, logger)
	resolver := prefs.NewResolver(logger)
	notifier := monitor.NewNotifier(store, resolver, logger)

	mode := dispatch.ParseMode(cfg.DispatcherMode)
	var gateways []dispatch.Gateway
	if mode == dispatch.ModeLive {
		sesGateway, err := dispatch.NewSESGateway(ctx, dispatch.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES gateway unavailable, email sends will be simulated", zap.Error(err))
		} else {
			gateways = append(gateways, sesGateway)
		}

		snsGateway, err := dispatch.NewSNSGateway(ctx, dispatch.SNSConfig{
			Region: cfg.SNSRegion,
		}, logger)
		if err != nil {
			logger.Warn("SNS gateway unavailable, SMS sends will be simulated", zap.Error(err))
		} else {
			gateways = append(gateways, snsGateway)
		}

		if pushGateway := dispatch.NewPushGateway(dispatch.PushConfig{
			URL:   cfg.PushGatewayURL,
			Token: cfg.PushGatewayToken,
		}, logger); pushGateway != nil {
			gateways = append(gateways, pushGateway)
		} else {
			logger.Warn("push relay not configured, push sends will be simulated")
		}
	}
	dispatcher := dispatch.New(mode, logger, gateways...)

	publisher, err := events.NewPublisher(ctx, events.Config{
		Region:   cfg.SQSRegion,
		QueueURL: cfg.SQSEventsURL,
	}, logger)
	if err != nil {
		logger.Warn("outcome publisher unavailable, delivery events disabled", zap.Error(err))
	}

	processor := queue.New(store, dispatcher, publisher, queue.Config{
		BatchSize:    cfg.QueueBatchSize,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	sched := scheduler.New(logger)

	register := func(task scheduler.Task) error {
		if err := sched.Register(task); err != nil {
			return fmt.Errorf("register task %s: %w", task.Name, err)
		}
		return nil
	}

	if err := register(scheduler.Task{
		Name:     "queue_drain",
		Interval: cfg.QueueInterval,
		Enabled:  true,
		Run: func(ctx context.Context) error {
			_, err := processor.ProcessBatch(ctx)
			return err
		},
	}); err != nil {
		return err
	}

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	cleanup := monitor.NewCleanup(store, retention, logger)
	if err := register(scheduler.Task{
		Name:     "cleanup",
		Interval: cfg.CleanupInterval,
		Enabled:  true,
		Run:      cleanup.Run,
	}); err != nil {
		return err
	}

	// The data monitors need the platform API; without it only the
	// delivery pipeline runs.
	client := platform.NewClient(platform.Config{
		BaseURL: cfg.PlatformAPIURL,
		Token:   cfg.PlatformAPIToken,
	}, logger)
	if client == nil {
		logger.Warn("platform API not configured, data monitors disabled")
	} else {
		monitors := []scheduler.Task{
			{
				Name:     "roster_monitor",
				Interval: cfg.RosterInterval,
				Enabled:  true,
				Run:      monitor.NewRosterMonitor(client, notifier, guard, logger).Run,
			},
			{
				Name:     "injury_monitor",
				Interval: cfg.InjuryInterval,
				Enabled:  true,
				Run:      monitor.NewInjuryMonitor(client, notifier, guard, logger).Run,
			},
			{
				Name:     "news_monitor",
				Interval: cfg.NewsInterval,
				Enabled:  true,
				Run:      monitor.NewNewsMonitor(client, notifier, guard, logger).Run,
			},
			{
				Name:     "waiver_monitor",
				Interval: cfg.WaiverInterval,
				Enabled:  true,
				Run:      monitor.NewWaiverMonitor(client, notifier, guard, logger).Run,
			},
			{
				Name:     "lineup_reminder",
				Interval: cfg.LineupInterval,
				Enabled:  true,
				Run:      monitor.NewLineupReminder(client, notifier, guard, logger).Run,
			},
			{
				Name:     "weekly_summary",
				Interval: cfg.SummaryInterval,
				Enabled:  true,
				Run:      monitor.NewWeeklySummary(client, notifier, guard, logger).Run,
			},
		}
		for _, task := range monitors {
			if err := register(task); err != nil {
				return err
			}
		}
	}

	sched.Start()
	defer sched.Stop()

	handler := admin.NewHandler(logger, sched, store, notifier, database)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", zap.Error(err))
	}

	// Deferred sched.Stop() joins the task units with its own timeout.
	return nil
}
