package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/baller-exchange/internal/metrics"
)

type RouterConfig struct {
	AllowedOrigins []string
	Verifier       *TokenVerifier // nil trusts the X-User-ID header
	Limiter        *RateLimiter   // nil disables rate limiting
}

// NewRouter wires the HTTP API.
func NewRouter(h *HTTPHandler, cfg RouterConfig, log logrus.FieldLogger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Recovery(log))
	r.Use(RequestID)
	r.Use(Logging(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", requestIDHeader, UserIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Verifier))

		r.Get("/me", h.Me)
		r.Get("/items", h.ListItems)
		r.Get("/trades", h.ListTrades)
		r.Get("/trades/{tradeID}", h.GetTrade)
		r.Get("/users", h.SearchUsers)
		r.Get("/users/{userID}", h.GetUser)

		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Handler)
			}
			r.Post("/roll", h.Roll)
			r.Post("/currency/accrue", h.Accrue)
			r.Post("/trades", h.ProposeTrade)
			r.Post("/trades/{tradeID}", h.ResolveTrade)
		})
	})

	return r
}
