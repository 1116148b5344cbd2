package router

import (
	"github.com/glazeapp/glaze/internal/generation"
	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/middleware"
	"github.com/glazeapp/glaze/internal/payment"
	"github.com/glazeapp/glaze/internal/promocode"
	"github.com/glazeapp/glaze/internal/redis"
	"github.com/glazeapp/glaze/internal/server"
	"github.com/glazeapp/glaze/internal/user"
	"github.com/glazeapp/glaze/internal/webhook"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	User       *user.UserHandler
	Ledger     *ledger.Handler
	Promocode  *promocode.Handler
	Payment    *payment.Handler
	Generation *generation.Handler
	Webhook    *webhook.WebhookHandler
}

func NewRouter(s *server.Server, redisClient *redis.Client, h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	mw := middleware.NewMiddlewares(s, redisClient)

	// Apply middleware in order
	r.Use(middleware.RequestID)
	r.Use(mw.Tracing.NewRelicMiddleware())
	r.Use(mw.Tracing.EnhanceTracing)
	r.Use(mw.ContextEnhancer.EnhanceContext)
	r.Use(mw.Global.RequestLogger)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", h.User.CreateUser)
			r.Get("/{id}/balance", h.User.GetBalance)
			r.Get("/{id}/transactions", h.Ledger.ListTransactions)
		})

		r.Route("/promocodes", func(r chi.Router) {
			r.Post("/redeem", h.Promocode.Redeem)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.Payment.CreatePayment)
		})

		r.Route("/generations", func(r chi.Router) {
			r.With(mw.RateLimit.PerMinute).Post("/", h.Generation.CreateGeneration)
			r.Get("/{id}", h.Generation.GetGeneration)
		})

		// Back-office surface. Deployed behind the internal gateway which
		// authenticates admins before traffic reaches this service.
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjust", h.Ledger.Adjust)
			r.Post("/promocodes", h.Promocode.Create)
			r.Delete("/promocodes/{code}", h.Promocode.Deactivate)
		})
	})

	// Provider callbacks sit outside the versioned API surface.
	r.Post("/webhooks/yookassa", h.Webhook.HandleWebhook)

	return r
}
