package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/carebloc/slot-lease-service/internal/lease"
)

type RouterConfig struct {
	Service *lease.Service
	Redis   *redis.Client
	PgPool  *pgxpool.Pool // nil when audit is disabled
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Redis, cfg.PgPool, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Lease endpoints, tenant-scoped and rate limited per session
	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(RateLimitMiddleware(rate.Limit(5), 10))

		r.Post("/v1/leases", acquireLeaseHandler(cfg.Service))
		r.Post("/v1/leases/{id}/extend", extendLeaseHandler(cfg.Service))
		r.Post("/v1/leases/{id}/release", releaseLeaseHandler(cfg.Service))
		r.Post("/v1/sessions/{id}/release", releaseSessionHandler(cfg.Service))
	})

	return r
}
