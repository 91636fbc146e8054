package main

import (
	"context"
	"log"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/covecrm/mailengine/internal/api"
	"github.com/covecrm/mailengine/internal/breaker"
	"github.com/covecrm/mailengine/internal/config"
	"github.com/covecrm/mailengine/internal/connector"
	"github.com/covecrm/mailengine/internal/db"
	"github.com/covecrm/mailengine/internal/logging"
	"github.com/covecrm/mailengine/internal/mailsync"
	"github.com/covecrm/mailengine/internal/notify"
	"github.com/covecrm/mailengine/internal/outbound"
	"github.com/covecrm/mailengine/internal/quota"
	"github.com/covecrm/mailengine/internal/retrypolicy"
	ws "github.com/covecrm/mailengine/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.CloseConnection(pool)

	logger.Info("connected to database",
		zap.String("host", cfg.DBHost),
		zap.String("database", cfg.DBName))

	store := db.NewStore(pool)

	creds, err := connector.NewFileCredentials(cfg.CredentialsFile)
	if err != nil {
		logger.Fatal("failed to load credentials", zap.Error(err))
	}

	router := connector.NewRouter(
		connector.NewIMAPConnector(creds, true),
		connector.NewGmailConnector(creds),
		connector.NewSMTPSender(),
	)

	hub := ws.NewHub(10, logger)
	notifier := notify.NewHubNotifier(hub, logger)

	engine := mailsync.NewEngine(store, router, notifier, logger, mailsync.Config{
		QuickLoadWindow:   cfg.QuickLoadWindow,
		BackfillBatchSize: cfg.BackfillBatchSize,
		Folders:           cfg.SyncFolders,
	})

	scheduler := mailsync.NewScheduler(engine, store, cfg.SweepInterval, cfg.SweepStaleness, logger)
	go scheduler.Run(ctx)

	var quotaStore quota.Store = quota.NewMemoryStore()
	if cfg.RedisAddr != "" {
		quotaStore = quota.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		logger.Info("using redis quota store", zap.String("addr", cfg.RedisAddr))
	}

	deadletters := db.NewDeadLetters(pool)
	status := outbound.NewStatusTracker()

	pipeline := outbound.NewPipeline(outbound.Deps{
		Sender:      router,
		Credentials: creds,
		Quota:       quota.NewTracker(quotaStore, cfg.DailyQuotaLimit),
		Breaker:     breaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerRecoveryWindow),
		Policy:      retrypolicy.NewPolicy(),
		DeadLetters: deadletters,
		Status:      status,
		Notifier:    notifier,
		Logger:      logger,
	}, outbound.Config{
		DefaultBatchSize:     cfg.DefaultBatchSize,
		DefaultMaxConcurrent: cfg.DefaultMaxConcurrent,
		DefaultBatchDelay:    cfg.DefaultBatchDelay,
		DefaultMaxRetries:    cfg.MaxRetriesPerEmail,
		SendRPSBudget:        cfg.SendRPSBudget,
		TrackingBaseURL:      cfg.TrackingBaseURL,
	})

	server := api.NewServer(store, engine, pipeline, status, deadletters, hub, cfg.TargetedStaleness, logger)

	address := ":" + cfg.Port
	logger.Info("server starting",
		zap.String("address", address),
		zap.String("environment", cfg.Environment))

	if err := http.ListenAndServe(address, server.Routes()); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}
