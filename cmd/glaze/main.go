package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glazeapp/glaze/internal/adminlog"
	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/internal/database"
	"github.com/glazeapp/glaze/internal/generation"
	"github.com/glazeapp/glaze/internal/jobs"
	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/logger"
	"github.com/glazeapp/glaze/internal/payment"
	"github.com/glazeapp/glaze/internal/pricing"
	"github.com/glazeapp/glaze/internal/promocode"
	"github.com/glazeapp/glaze/internal/psp"
	"github.com/glazeapp/glaze/internal/redis"
	"github.com/glazeapp/glaze/internal/router"
	"github.com/glazeapp/glaze/internal/server"
	"github.com/glazeapp/glaze/internal/user"
	"github.com/glazeapp/glaze/internal/webhook"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	loggerService := logger.New(cfg.Observability)
	defer loggerService.Shutdown()

	log := logger.NewLoggerWithService(cfg.Observability, loggerService)

	db, err := database.New(cfg, &log, loggerService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	redisClient, err := redis.New(&log, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize redis client")
	}
	defer redisClient.Close()

	srv, err := server.NewServer(cfg, &log, loggerService, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	priceTable, err := pricing.NewTable(&cfg.Pricing)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load price table")
	}

	userRepo := user.NewUserRepository(db.Pool)
	promoRepo := promocode.NewPostgresRepo(db.Pool)
	paymentRepo := payment.NewPostgresRepo(db.Pool)
	generationRepo := generation.NewPostgresRepo(db.Pool)

	ledgerService := ledger.NewService(
		ledger.NewPostgresStore(db.Pool),
		ledger.NewPostgresJournal(db.Pool),
		adminlog.NewPostgresLog(db.Pool),
		&log,
	)

	userService := user.NewUserService(userRepo)
	promoService := promocode.NewService(promoRepo, ledgerService, userRepo)
	paymentService := payment.NewService(paymentRepo, ledgerService, psp.NewYooKassaClient(&cfg.YooKassa), redisClient, cfg.YooKassa.Currency)
	generationService := generation.NewService(generationRepo, ledgerService, priceTable)

	handlers := &router.Handlers{
		User:       user.NewUserHandler(userService),
		Ledger:     ledger.NewHandler(ledgerService),
		Promocode:  promocode.NewHandler(promoService),
		Payment:    payment.NewHandler(paymentService),
		Generation: generation.NewHandler(generationService),
		Webhook:    webhook.NewWebhookHandler(cfg.YooKassa.WebhookSecret, db.Pool),
	}

	r := router.NewRouter(srv, redisClient, handlers)

	srv.SetupHTTPServer(r)

	sweeper := jobs.NewSweeper(paymentService, &cfg.Jobs, &log)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start payment sweeper")
	}

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	sweeper.Stop()

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
