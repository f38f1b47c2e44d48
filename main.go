package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/db"
	"github.com/eventcrew/eventcrew-backend/handlers"
	"github.com/eventcrew/eventcrew-backend/internal/badge"
	"github.com/eventcrew/eventcrew-backend/internal/events"
	"github.com/eventcrew/eventcrew-backend/internal/inbox"
	"github.com/eventcrew/eventcrew-backend/internal/session"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/middleware"
	notificationSvc "github.com/eventcrew/eventcrew-backend/models/notification/service"
	"github.com/eventcrew/eventcrew-backend/router"
	"github.com/eventcrew/eventcrew-backend/services"
	"github.com/eventcrew/eventcrew-backend/store"
	"github.com/eventcrew/eventcrew-backend/store/postgres"
	"github.com/eventcrew/eventcrew-backend/store/supabasestore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const consumerID = "notification-producer"

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence
	var (
		notificationStore store.NotificationStore
		dbPinger          db.Pinger
		dbClient          *db.DatabaseClient
	)
	switch cfg.Notification.Backend {
	case config.BackendSupabase:
		client, err := supabasestore.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
		if err != nil {
			log.Fatalf("Failed to create Supabase client: %v", err)
		}
		notificationStore = supabasestore.NewNotificationStore(client)
		log.Infow("Using Supabase notification backend", "url", cfg.Supabase.URL)
	default:
		poolConfig, err := config.ConfigurePostgresPool(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to parse database config: %v", err)
		}
		dbClient = db.NewDatabaseClientWithConfig(nil, poolConfig)
		pool, err := dbClient.Connect(ctx)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer dbClient.Close()

		if err := db.RunMigrations(cfg.Database.URL()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		notificationStore = postgres.NewPgNotificationStore(pool)
		dbPinger = pool
	}

	// Realtime feed and domain events
	redisClient := redis.NewClient(config.ConfigureRedisOptions(&cfg.Redis))
	defer func() { _ = redisClient.Close() }()
	if err := config.TestRedisConnection(ctx, redisClient, 3, 2*time.Second); err != nil {
		log.Warnw("Redis not reachable at startup", "address", cfg.Redis.Address, "error", err)
	}

	publisher := events.NewRedisPublisher(redisClient, events.Config{
		PublishTimeout:   time.Duration(cfg.EventService.PublishTimeoutSeconds) * time.Second,
		SubscribeTimeout: time.Duration(cfg.EventService.SubscribeTimeoutSeconds) * time.Second,
		EventBufferSize:  cfg.EventService.EventBufferSize,
		ChannelPrefix:    events.DefaultConfig().ChannelPrefix,
	})
	feed := events.NewNotificationFeed(publisher, cfg.Notification.InsertBuffer)

	// System notification delivery
	presenter, err := newPresenter(ctx, cfg, log.Desugar())
	if err != nil {
		log.Fatalf("Failed to create push presenter: %v", err)
	}
	workerPool := services.NewWorkerPool(cfg.WorkerPool)
	workerPool.Start()

	// Producer
	producer := notificationSvc.NewNotificationService(notificationStore, feed, log.Desugar())
	eventRouter := events.NewRouter()
	eventRouter.RegisterHandler(producer)
	consumer := events.NewConsumer(publisher, eventRouter, consumerID)
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start domain event consumer: %v", err)
	}

	// Sessions
	mapping, err := loadMapping(cfg.Notification.CategoryMappingFile)
	if err != nil {
		log.Fatalf("Failed to load category mapping: %v", err)
	}
	if unclassified := mapping.Unclassified(); len(unclassified) > 0 {
		log.Infow("Notification types counted as other", "types", unclassified)
	}
	storeCfg := inbox.DefaultConfig()
	storeCfg.FetchLimit = cfg.Notification.FetchLimit
	storeCfg.Aggregator = badge.NewAggregator(mapping)
	sessions := session.NewManager(notificationStore, feed, presenter, workerPool, storeCfg)

	healthService := services.NewHealthService(dbPinger, redisClient, cfg.Server.Version)
	healthService.SetRealtimeCounters(sessions.Count, publisher.ActiveSubscriptions)

	jwtValidator, err := middleware.NewJWTValidator(cfg.Server.JwtSecretKey)
	if err != nil {
		log.Fatalf("Failed to create JWT validator: %v", err)
	}

	policy := badge.NewPolicy(time.Duration(cfg.Notification.RetentionDays) * 24 * time.Hour)
	r := router.SetupRouter(router.Dependencies{
		Config:              cfg,
		JWTValidator:        jwtValidator,
		Redis:               redisClient,
		HealthHandler:       handlers.NewHealthHandler(healthService),
		SessionHandler:      handlers.NewSessionHandler(sessions),
		NotificationHandler: handlers.NewNotificationHandler(sessions, policy),
		StreamHandler:       handlers.NewNotificationStreamHandler(sessions, &cfg.Server),
		Logger:              log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Errorw("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), workerPool.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown incomplete", "error", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Session shutdown incomplete", "error", err)
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Warnw("Consumer shutdown incomplete", "error", err)
	}
	if err := publisher.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Publisher shutdown incomplete", "error", err)
	}
	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Worker pool shutdown incomplete", "error", err)
	}
	log.Info("Server stopped")
}

func newPresenter(ctx context.Context, cfg *config.Config, log *zap.Logger) (inbox.Presenter, error) {
	switch cfg.Push.Provider {
	case config.PushProviderExpo:
		return services.NewExpoPushService(cfg.Push, log), nil
	case config.PushProviderSNS:
		sns, err := services.NewSNSPushService(ctx, cfg.Push.SNSRegion, log)
		if err != nil {
			return nil, err
		}
		return sns, nil
	default:
		return services.NewNoopPushService(log), nil
	}
}

func loadMapping(path string) (badge.Mapping, error) {
	if path == "" {
		return badge.DefaultMapping, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return badge.LoadMapping(f)
}
