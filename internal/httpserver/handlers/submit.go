package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/directory/internal/domain"
	"github.com/MrSnakeDoc/directory/internal/httpserver/deps"
	"github.com/MrSnakeDoc/directory/internal/logger"
	"github.com/MrSnakeDoc/directory/internal/registry"
)

const maxSubmitBytes = 4 << 10

type submitRequest struct {
	URL     string `json:"url"`
	Variant string `json:"variant"`
}

type submitResponse struct {
	OK       bool             `json:"ok"`
	Message  string           `json:"message"`
	Instance *domain.Instance `json:"instance,omitempty"`
}

// Check validates a submitted URL without listing it.
func Check(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, variant, ok := readSubmission(w, r, d)
		if !ok {
			return
		}

		cand, err := d.Registry.CheckVariant(r.Context(), req.URL, variant)
		if err != nil {
			writeJSON(w, d.Logger, failureStatus(err), submitResponse{Message: err.Error()})
			return
		}

		inst := cand.Instance
		inst.RatingMozillaObservatory = cand.Rating(domain.ScannerMozillaObservatory)
		writeJSON(w, d.Logger, http.StatusOK, submitResponse{
			OK:       true,
			Message:  fmt.Sprintf("The URL %s is a valid %s instance", inst.URL, variant.ServiceName()),
			Instance: &inst,
		})
	}
}

// Add validates a submitted URL and lists it.
func Add(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, variant, ok := readSubmission(w, r, d)
		if !ok {
			return
		}

		inst, err := d.Registry.AddVariant(r.Context(), req.URL, variant)
		switch {
		case errors.Is(err, domain.ErrInstanceExists):
			writeJSON(w, d.Logger, http.StatusConflict, submitResponse{
				Message: fmt.Sprintf("Error adding URL %s, due to: %v", strings.TrimSpace(req.URL), err),
			})
			return
		case err != nil:
			writeJSON(w, d.Logger, failureStatus(err), submitResponse{Message: err.Error()})
			return
		}

		writeJSON(w, d.Logger, http.StatusCreated, submitResponse{
			OK:       true,
			Message:  "Successfully added URL: " + inst.URL,
			Instance: inst,
		})
	}
}

// readSubmission accepts a JSON body or a form. It writes the error
// response itself and returns false when the request is unusable.
func readSubmission(w http.ResponseWriter, r *http.Request, d deps.Deps) (submitRequest, domain.Variant, bool) {
	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			d.Logger.Debug("bad submission body", logger.Error(err))
			writeJSON(w, d.Logger, http.StatusBadRequest, submitResponse{Message: "invalid JSON body"})
			return req, 0, false
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, d.Logger, http.StatusBadRequest, submitResponse{Message: "invalid form body"})
			return req, 0, false
		}
		req.URL = r.PostForm.Get("url")
		req.Variant = r.PostForm.Get("variant")
	}

	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, d.Logger, http.StatusBadRequest, submitResponse{Message: "missing url"})
		return req, 0, false
	}
	variant, ok := domain.ParseVariant(req.Variant)
	if !ok {
		writeJSON(w, d.Logger, http.StatusBadRequest, submitResponse{
			Message: fmt.Sprintf("unknown variant %q", req.Variant),
		})
		return req, 0, false
	}
	return req, variant, true
}

func failureStatus(err error) int {
	var failure *domain.Failure
	switch {
	case errors.Is(err, registry.ErrRecentlyFailed):
		return http.StatusTooManyRequests
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
