// cmd/followup-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"followup-engine/internal/api"
	"followup-engine/internal/common/aws"
	"followup-engine/internal/common/camunda"
	"followup-engine/internal/common/config"
	"followup-engine/internal/common/database"
	"followup-engine/internal/common/logger"
	"followup-engine/internal/common/observability"
	"followup-engine/internal/detector"
	"followup-engine/internal/dispatch"
	"followup-engine/internal/reminders"
	"followup-engine/internal/service"
	"followup-engine/internal/store"

	cdr "followup-engine/internal/workers/followup/check-due-reminders"
	cfe "followup-engine/internal/workers/followup/create-from-email"
	sr "followup-engine/internal/workers/followup/send-reminder"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting follow-up service...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			zapLog.Fatal("postgres migration failed", zap.Error(err))
		}
		zapLog.Info("PostgreSQL schema up to date")
	}

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	readiness := []api.ReadinessCheck{
		{Name: "postgres", Check: pg.Ping},
		{Name: "redis", Check: rdb.Ping},
	}

	// --- Notification channels ---
	notificationLog := dispatch.NewPostgresLog(pg.DB)
	senders := []dispatch.Sender{dispatch.NewInAppSender(notificationLog)}

	if cfg.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		senders = append(senders, dispatch.NewEmailSender(sesClient, dispatch.NewPostgresDirectory(pg.DB), cfg.AWS.SES.FromEmail))
		zapLog.Info("Email channel enabled")
	}
	if cfg.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		senders = append(senders, dispatch.NewBrowserSender(snsClient, cfg.AWS.SNS.PushTopicARN))
		zapLog.Info("Browser channel enabled")
	}

	var dispatchOpts []dispatch.Option
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithAudit(dispatch.NewElasticsearchAudit(esClient.Client, cfg.Database.Elasticsearch.Index)))
		readiness = append(readiness, api.ReadinessCheck{Name: "elasticsearch", Check: esClient.Ping})
		zapLog.Info("Elasticsearch audit enabled")
	}

	dispatcher := dispatch.NewDispatcher(notificationLog, log, senders, dispatchOpts...)

	// --- Domain services ---
	records := store.NewPostgresStore(pg.DB, store.WithLogger(log))
	claims := store.NewRedisClaimStore(rdb.Client, config.GetDuration(cfg.Scheduler.ClaimTTL))
	runner := reminders.NewRunner(records, claims, dispatcher, log, reminders.WithObservability(obs))

	svcOpts := []service.Option{
		service.WithAnalyticsCache(rdb.Client, config.GetDuration(cfg.Analytics.CacheTTL)),
		service.WithNotificationLog(notificationLog),
		service.WithDefaultTimeZone(cfg.Scheduler.DefaultTimeZone),
	}
	if cfg.Detector.BaseURL != "" {
		svcOpts = append(svcOpts, service.WithDetector(detector.NewClient(detector.Config{
			BaseURL:    cfg.Detector.BaseURL,
			APIKey:     cfg.Detector.APIKey,
			Timeout:    config.GetDuration(cfg.Detector.Timeout),
			MaxRetries: cfg.Detector.MaxRetries,
		}, log)))
	} else {
		zapLog.Warn("detector.base_url not set, email detection disabled")
	}
	svc := service.New(records, dispatcher, log, svcOpts...)

	// --- Zeebe workers ---
	var workers *camunda.Workers
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.NewClientWithConfig(ctx, camunda.ConfigFrom(cfg.Camunda), log)
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zeebe.Close()
		zapLog.Info("Zeebe client connected successfully")
		readiness = append(readiness, api.ReadinessCheck{Name: "zeebe", Check: zeebe.HealthCheck})

		workers = camunda.NewWorkers(zeebe.GetClient(), log)

		cdrCfg := cdr.LoadConfig()
		if t := cfg.Workers[cdr.TaskType].Timeout; t > 0 {
			cdrCfg.Timeout = config.GetDuration(t)
		}
		workers.Start(cdr.TaskType, cfg.Workers[cdr.TaskType], cdr.NewHandler(cdrCfg, runner, log))

		cfeCfg := cfe.LoadConfig()
		if t := cfg.Workers[cfe.TaskType].Timeout; t > 0 {
			cfeCfg.Timeout = config.GetDuration(t)
		}
		workers.Start(cfe.TaskType, cfg.Workers[cfe.TaskType], cfe.NewHandler(cfeCfg, svc, log))

		srCfg := sr.LoadConfig()
		if t := cfg.Workers[sr.TaskType].Timeout; t > 0 {
			srCfg.Timeout = config.GetDuration(t)
		}
		workers.Start(sr.TaskType, cfg.Workers[sr.TaskType], sr.NewHandler(srCfg, svc, log))

		zapLog.Info("Zeebe workers registered", zap.Strings("taskTypes", workers.Running()))
	}

	// --- In-process reminder ticker ---
	var wg sync.WaitGroup
	if interval := config.GetDuration(cfg.Scheduler.Interval); interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Start(ctx, interval)
		}()
	}

	// --- HTTP API ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.NewServer(svc, log, api.WithReadinessChecks(readiness...)).Handler(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP API listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("HTTP API failed", zap.Error(err))
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP API", zap.Error(err))
	}
	if workers != nil {
		workers.Stop()
	}
	wg.Wait()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down observability", zap.Error(err))
	}

	zapLog.Info("Follow-up service stopped gracefully")
}
