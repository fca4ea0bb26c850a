package handlers

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/scheduler"
)

type triggerResponse struct {
	Sweep     string `json:"sweep"`
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// TriggerSweep starts the named sweep in the background.
func TriggerSweep(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "sweep")
		runner, ok := d.Sweeps[name]
		if !ok {
			writeJSON(w, d.Logger, http.StatusNotFound, triggerResponse{
				Sweep:   name,
				Message: "unknown sweep",
			})
			return
		}

		if err := runner.Trigger(); err != nil {
			d.Logger.Warn("sweep not triggered",
				logger.String("sweep", name),
				logger.String("remote_ip", r.RemoteAddr),
				logger.Error(err))
			writeJSON(w, d.Logger, http.StatusTooManyRequests, triggerResponse{
				Sweep:   name,
				Message: "sweep already in progress, please wait",
			})
			return
		}

		d.Logger.Info("manual sweep triggered via endpoint",
			logger.String("sweep", name),
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, d.Logger, http.StatusAccepted, triggerResponse{
			Sweep:     name,
			Triggered: true,
			Message:   "sweep triggered successfully",
		})
	}
}

// SweepStatus reports the last run of every sweep.
func SweepStatus(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(d.Sweeps))
		for name := range d.Sweeps {
			names = append(names, name)
		}
		slices.Sort(names)

		out := make([]scheduler.RunStatus, 0, len(names))
		for _, name := range names {
			out = append(out, d.Sweeps[name].Status())
		}
		writeJSON(w, d.Logger, http.StatusOK, out)
	}
}
