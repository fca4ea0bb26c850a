package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Readyz answers 200 once the repository answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := d.Registry.Ping(ctx); err != nil {
			writeJSON(w, d.Logger, http.StatusServiceUnavailable, readyzResponse{Error: "repository unavailable"})
			return
		}
		writeJSON(w, d.Logger, http.StatusOK, readyzResponse{Ready: true})
	}
}
