package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glazeapp/glaze/internal/adminlog"
	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/internal/database"
	"github.com/glazeapp/glaze/internal/generation"
	"github.com/glazeapp/glaze/internal/kafka"
	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/logger"
	"github.com/glazeapp/glaze/internal/pricing"
	"github.com/glazeapp/glaze/internal/provider"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()
	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	log.Info().Msg("Starting Generation Worker...")

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	priceTable, err := pricing.NewTable(&cfg.Pricing)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load price table")
	}

	ledgerService := ledger.NewService(
		ledger.NewPostgresStore(db.Pool),
		ledger.NewPostgresJournal(db.Pool),
		adminlog.NewPostgresLog(db.Pool),
		&log,
	)
	generationService := generation.NewService(
		generation.NewPostgresRepo(db.Pool),
		ledgerService,
		priceTable,
	)
	providerClient := provider.New(&cfg.ImageProvider)

	consumer, err := kafka.NewConsumer(kafka.DefaultConfig(cfg.Kafka.Brokers), kafka.GroupGenerationWorker, kafka.TopicGenerationRequested)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Run(ctx, generationHandler(generationService, providerClient, &log)); err != nil {
			log.Error().Err(err).Msg("Generation worker stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Generation Worker...")
	cancel()

	log.Info().Msg("Generation Worker shutdown complete")
}
