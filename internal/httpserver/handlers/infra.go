package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
)

type componentStatus struct {
	OK              bool   `json:"ok"`
	InstancesListed *int   `json:"instances_listed,omitempty"`
	LastReload      string `json:"last_reload,omitempty"`
	NextRefresh     string `json:"next_refresh,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Impact          string `json:"impact,omitempty"`
	Error           string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the state of every backing component.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]componentStatus{
			"directory":  checkDirectory(d),
			"repository": checkRepository(ctx, d),
			"negative":   checkRedis(ctx, d),
		}
		for name, runner := range d.Sweeps {
			st := runner.Status()
			c := componentStatus{OK: st.Error == "", Error: st.Error, Mode: "idle"}
			if st.Running {
				c.Mode = "running"
			}
			if !st.Finished.IsZero() {
				c.LastReload = st.Finished.Format(time.DateTime)
			}
			components["sweep:"+name] = c
		}

		writeJSON(w, d.Logger, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if repo, ok := components["repository"]; ok && !repo.OK {
		// Listing still served from the snapshot, nothing can be added.
		return "critical"
	}
	for _, c := range components {
		if !c.OK {
			return "degraded"
		}
	}
	return "operational"
}

func checkDirectory(d deps.Deps) componentStatus {
	if d.Directory == nil {
		return componentStatus{OK: false, Error: "not initialized"}
	}
	count := d.Directory.Count()
	st := componentStatus{OK: true, InstancesListed: &count, LastReload: "never"}
	if last := d.Directory.LastReload(); !last.IsZero() {
		st.LastReload = last.Format(time.DateTime)
	}
	if next := d.Directory.NextRefresh(); !next.IsZero() {
		st.NextRefresh = next.Format(time.DateTime)
	}
	return st
}

func checkRepository(ctx context.Context, d deps.Deps) componentStatus {
	if err := d.Registry.Ping(ctx); err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: true}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "memory",
			Impact: "negative-lookups-per-process",
		}
	}

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "negative-lookups-disabled",
			Error:  "timeout",
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "redis",
		Impact: "negative-lookups-shared",
	}
}
