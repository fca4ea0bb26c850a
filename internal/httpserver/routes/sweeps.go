package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/directory/internal/httpserver/mw"
)

func init() { Register("sweeps", registerSweeps) }

func registerSweeps(r chi.Router, d deps.Deps) {
	admin := r.With(
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.EnforceHost(d.AllowedHosts, d.Logger),
		middleware.Timeout(ReadTimeout),
	)
	admin.Get("/api/sweeps", handlers.SweepStatus(d))
	admin.Post("/api/sweeps/{sweep}", handlers.TriggerSweep(d))
}
