package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glazeapp/glaze/internal/adminlog"
	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/internal/database"
	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/logger"
	"github.com/glazeapp/glaze/internal/payment"
	"github.com/glazeapp/glaze/internal/psp"
	"github.com/glazeapp/glaze/internal/redis"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Payment Worker...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	redisClient, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis")
	}
	defer redisClient.Close()

	ledgerService := ledger.NewService(
		ledger.NewPostgresStore(db.Pool),
		ledger.NewPostgresJournal(db.Pool),
		adminlog.NewPostgresLog(db.Pool),
		&log,
	)
	paymentService := payment.NewService(
		payment.NewPostgresRepo(db.Pool),
		ledgerService,
		psp.NewYooKassaClient(&cfg.YooKassa),
		redisClient,
		cfg.YooKassa.Currency,
	)

	consumer, err := kafka.NewConsumer(kafka.DefaultConfig(cfg.Kafka.Brokers), kafka.GroupPaymentWorker, kafka.TopicPaymentEvents)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx, paymentHandler(paymentService, redisClient, &log)); err != nil {
			log.Error().Err(err).Msg("Payment worker stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Payment Worker...")
	cancel()

	log.Info().Msg("Payment Worker shutdown complete")
}
