package middleware

import (
	"github.com/glazeapp/glaze/internal/redis"
	"github.com/glazeapp/glaze/internal/server"
	"github.com/newrelic/go-agent/v3/newrelic"
)

type Middlewares struct {
	Global          *Global
	ContextEnhancer *ContextEnhancer
	Tracing         *Tracing
	RateLimit       *RateLimit
}

func NewMiddlewares(s *server.Server, redisClient *redis.Client) *Middlewares {

	var nrApp *newrelic.Application

	if s.LoggerService != nil {
		nrApp = s.LoggerService.GetApplication()
	}

	return &Middlewares{
		Global:          NewGlobal(s),
		ContextEnhancer: NewContextEnhancer(s),
		Tracing:         NewTracing(nrApp),
		RateLimit:       NewRateLimit(redisClient, s.Config.Server.GenerationRPM),
	}
}
