package jobs

import (
	"context"
	"time"

	"github.com/glazeapp/glaze/internal/config"
	"github.com/glazeapp/glaze/internal/payment"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs the scheduled maintenance jobs. Currently that is one job:
// cancelling payments that sat in CREATED or PENDING longer than the
// configured TTL, so abandoned checkout sessions do not pile up forever.
type Sweeper struct {
	cron     *cron.Cron
	payments *payment.Service
	cfg      *config.JobsConfig
	log      *zerolog.Logger
}

func NewSweeper(payments *payment.Service, cfg *config.JobsConfig, log *zerolog.Logger) *Sweeper {
	return &Sweeper{
		cron:     cron.New(),
		payments: payments,
		cfg:      cfg,
		log:      log,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.cfg.PaymentSweepSchedule, s.sweepPayments)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().
		Str("schedule", s.cfg.PaymentSweepSchedule).
		Dur("pending_ttl", s.cfg.PaymentPendingTTL).
		Msg("Payment sweeper scheduled")
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepPayments() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	swept, err := s.payments.SweepStale(ctx, s.cfg.PaymentPendingTTL)
	if err != nil {
		s.log.Error().Err(err).Msg("Payment sweep failed")
		return
	}
	if swept > 0 {
		s.log.Info().Int64("cancelled", swept).Msg("Swept stale pending payments")
	}
}
