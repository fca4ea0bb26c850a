package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/directory/internal/httpserver/mw"
)

const (
	// ReadTimeout bounds requests served from memory or a single query.
	ReadTimeout = 5 * time.Second
	// SubmitTimeout bounds a check or add, which probes the remote host
	// several times and waits for the rating API.
	SubmitTimeout = 90 * time.Second
)

func init() { Register("instances", registerInstances) }

func registerInstances(r chi.Router, d deps.Deps) {
	r.With(middleware.Timeout(ReadTimeout)).Get("/api/instances", handlers.Instances(d))

	// One limiter shared by both endpoints, a client cannot double its
	// budget by alternating them.
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:             d.SubmitBurst,
		RefillPerIPPerMin: d.SubmitPerMinute,
		MaxEntries:        10_000,
		TrustProxy:        d.TrustProxy,
	})
	submit := r.With(limit, middleware.Timeout(SubmitTimeout))
	submit.Post("/api/check", handlers.Check(d))
	submit.Post("/api/add", handlers.Add(d))
}
