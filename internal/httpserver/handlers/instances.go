package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/registry"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Instances serves the ranked listing, filtered by query parameters.
func Instances(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := ParseFilter(r.URL.Query())
		if err != nil {
			writeJSON(w, d.Logger, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=60")
		writeJSON(w, d.Logger, http.StatusOK, d.Registry.Listing(r.Context(), filter))
	}
}

// ParseFilter reads https, https_redirect, attachments, csp_header, country,
// version, variant, min_uptime and top.
func ParseFilter(q url.Values) (registry.Filter, error) {
	var f registry.Filter
	flags := []struct {
		name string
		dst  *bool
	}{
		{"https", &f.HTTPS},
		{"https_redirect", &f.HTTPSRedirect},
		{"attachments", &f.Attachments},
		{"csp_header", &f.CSPHeader},
	}
	for _, flag := range flags {
		raw := q.Get(flag.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%s: not a boolean: %q", flag.name, raw)
		}
		*flag.dst = v
	}

	if c := strings.TrimSpace(q.Get("country")); c != "" {
		if len(c) != 2 {
			return f, fmt.Errorf("country: want a two letter code, got %q", c)
		}
		f.Country = strings.ToUpper(c)
	}
	f.Version = strings.TrimSpace(q.Get("version"))

	if raw := q.Get("variant"); raw != "" {
		v, ok := domain.ParseVariant(raw)
		if !ok {
			return f, fmt.Errorf("variant: unknown %q", raw)
		}
		f.Variant = &v
	}

	var err error
	if f.MinUptime, err = nonNegative(q, "min_uptime"); err != nil {
		return f, err
	}
	if f.Top, err = nonNegative(q, "top"); err != nil {
		return f, err
	}
	return f, nil
}

func nonNegative(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: want a non-negative integer, got %q", name, raw)
	}
	return n, nil
}
