package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/logger"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type group struct {
	name string
	reg  Registrar
	mws  []Middleware
}

var groups []group

// Register adds a named route group with optional middlewares shared by
// every route of the group. Called from init().
func Register(name string, reg Registrar, mws ...Middleware) {
	groups = append(groups, group{name: name, reg: reg, mws: mws})
}

// RegisterAll mounts every group, called once from the server constructor.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range groups {
		sub := r
		if len(g.mws) > 0 {
			sub = r.With(g.mws...)
		}
		g.reg(sub, d)
		d.Logger.Debug("routes registered",
			logger.String("group", g.name),
			logger.Int("middlewares", len(g.mws)))
	}
}
