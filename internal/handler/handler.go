// Package handler contains the HTTP and WebSocket handlers for the
// dispatch API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/service"
	"github.com/shiva/gaadisathi/pkg/logger"
)

var log = logger.WithComponent("handler")

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON is a helper that writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps the domain error taxonomy onto HTTP statuses.
//
//	400 invalid_input       401 not_authenticated
//	404 not_found           404 no_drivers_found
//	409 stale_state         503 provider_unavailable
//	500 anything else
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": err.Error(),
		})
	case errors.Is(err, model.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":   "not_authenticated",
			"message": "Sign in as the owner of this resource.",
		})
	case errors.Is(err, service.ErrNoDriversFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "no_drivers_found",
			"message": "No driver accepted the ride in time. Try again shortly.",
		})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":   "not_found",
			"message": "Resource not found.",
		})
	case errors.Is(err, model.ErrStaleState):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "stale_state",
			"message": "The ride changed before this action applied. Refresh and retry.",
		})
	case errors.Is(err, model.ErrProviderUnavailable):
		log.WithError(err).WithField("path", r.URL.Path).Warn("provider unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":   "provider_unavailable",
			"message": "A backing service is unavailable. Please retry.",
		})
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("unexpected error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal_error",
		})
	}
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are
// rejected so clients cannot smuggle price or status.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", model.ErrInvalidInput, err)
	}
	return nil
}

// queryLocation parses "<prefix>lat" and "<prefix>lon" query parameters.
func queryLocation(r *http.Request, prefix string) (model.Location, error) {
	q := r.URL.Query()
	lat, err := strconv.ParseFloat(q.Get(prefix+"lat"), 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %slat must be a number", model.ErrInvalidInput, prefix)
	}
	lon, err := strconv.ParseFloat(q.Get(prefix+"lon"), 64)
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %slon must be a number", model.ErrInvalidInput, prefix)
	}
	loc := model.Location{Lat: lat, Lon: lon}
	return loc, loc.Validate()
}

// queryFloat returns the named float parameter, or def when absent.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative number", model.ErrInvalidInput, name)
	}
	return v, nil
}

// queryInt returns the named int parameter, or def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", model.ErrInvalidInput, name)
	}
	return v, nil
}

// queryDuration returns the named duration parameter, or def when absent.
func queryDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a duration such as 30s", model.ErrInvalidInput, name)
	}
	return v, nil
}
