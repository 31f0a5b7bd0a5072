package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/paperfolio/portfolio-service/internal/api"
	"github.com/paperfolio/portfolio-service/internal/config"
	"github.com/paperfolio/portfolio-service/internal/database"
	"github.com/paperfolio/portfolio-service/internal/kafka"
	"github.com/paperfolio/portfolio-service/internal/logger"
	"github.com/paperfolio/portfolio-service/internal/marketdata"
	"github.com/paperfolio/portfolio-service/internal/marketdata/finnhub"
	"github.com/paperfolio/portfolio-service/internal/persistence"
	"github.com/paperfolio/portfolio-service/internal/portfolio"
)

func main() {
	_ = godotenv.Load()
	logger.Setup()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	snapshots := persistence.NewRedisStore(rdb, cfg.Redis.Prefix)

	source := finnhub.NewClient(cfg.Finnhub.APIKey, cfg.Finnhub.BaseURL)
	market := marketdata.NewCache(source, cfg.Cache.QuoteTTL, cfg.Cache.ProfileTTL)

	identity := portfolio.StaticIdentity(cfg.Portfolio.UserID)
	store := portfolio.NewStore(snapshots, identity, decimal.NewFromFloat(cfg.Portfolio.StartingCash))
	if err := store.Load(ctx); err != nil {
		// the store has already fallen back to defaults; the snapshot
		// in redis stays untouched until the next trade
		log.Warn().Err(err).Msg("failed to load portfolio snapshot, starting fresh")
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	if cfg.Kafka.JournalEnabled {
		db, err := database.New(cfg.Database.ConnectionString())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations("db/migrations"); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, db)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("trade journal consumer stopped")
			}
		}()
	}

	handler := api.NewHandler(store, market, producer, cfg.Portfolio.UserID)
	router := api.SetupRoutes(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
