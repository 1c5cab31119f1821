package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/excel-pros/csm-backend/config"
	"github.com/excel-pros/csm-backend/controllers"
	"github.com/excel-pros/csm-backend/database"
	"github.com/excel-pros/csm-backend/entity"
	"github.com/excel-pros/csm-backend/events"
	"github.com/excel-pros/csm-backend/importer"
	"github.com/excel-pros/csm-backend/middleware"
	"github.com/excel-pros/csm-backend/notify"
	"github.com/excel-pros/csm-backend/pkg/logger"
	"github.com/excel-pros/csm-backend/repository"
	"github.com/excel-pros/csm-backend/routes"
	"github.com/excel-pros/csm-backend/schema"
	"github.com/excel-pros/csm-backend/webhook"
)

func main() {
	cfg := config.Load()

	logger.Initialize(cfg.Env)
	log := logger.Log
	defer log.Sync()

	middleware.Secret = []byte(cfg.JWTSecret)
	if len(middleware.Secret) == 0 {
		log.Warn("JWT_SECRET is not set; authenticated endpoints will reject all tokens")
	}

	mongoClient, err := database.Connect(cfg.MongoURI, cfg.DBName)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoClient.Close()
	db := mongoClient.Database()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	schemas := schema.NewService(db, redisClient, log)
	store := entity.NewStore(db, schemas, log)
	repo := repository.New(db)

	var notifier webhook.Notifier = webhook.NopNotifier{}
	if cfg.WebhookURL != "" {
		notifier = webhook.NewHTTPNotifier(cfg.WebhookURL, cfg.WebhookAPIKey, db, log)
	}

	broadcaster := events.NewKafkaBroadcaster(cfg.KafkaBrokers, cfg.ImportEventsTopic, log)
	defer broadcaster.Close()

	publisher := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.NotificationsTopic)
	defer publisher.Close()
	reps := notify.NewService(store, publisher, log)

	pipeline := importer.New(store, repo, broadcaster, notifier, log, importer.Config{
		BatchSize:    cfg.ImportBatchSize,
		MatchPolicy:  importer.MatchPolicy(cfg.MatchPolicy),
		ClaimTimeout: cfg.ImportClaimTTL,
		RowTimeout:   cfg.ImportRowTimeout,
	})

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLogger())

	routes.Register(router,
		controllers.NewAuthController(store, log),
		controllers.NewEntityController(store, notifier, reps, log),
		controllers.NewImportController(repo, pipeline, log),
	)

	// Background import loop. Ticks overlap safely: the pipeline's
	// single-flight guard drops passes that arrive while one is running.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.ImportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := pipeline.Run(loopCtx); err != nil {
					log.Error("Import pass failed", zap.Error(err))
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("Server is running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down gracefully...")
	stopLoop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Shutdown error", zap.Error(err))
	}
	log.Info("Server shutdown complete")
}
