package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/places"
)

// PlacesHandler serves place search, reverse geocoding and routes.
type PlacesHandler struct {
	provider places.Provider // nil when no maps key is configured
	planner  *places.RoutePlanner
}

// NewPlacesHandler creates a places handler. provider may be nil: search
// and reverse geocoding then answer 503, routes fall back to straight lines.
func NewPlacesHandler(provider places.Provider, planner *places.RoutePlanner) *PlacesHandler {
	return &PlacesHandler{provider: provider, planner: planner}
}

// Search handles GET /api/v1/places/search?q=..&lat=..&lon=..
//
// lat/lon are optional and bias results towards that point.
func (h *PlacesHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": "q is required",
		})
		return
	}

	var near model.Location
	if r.URL.Query().Get("lat") != "" {
		loc, err := queryLocation(r, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		near = loc
	}

	if h.provider == nil {
		writeError(w, r, fmt.Errorf("%w: place search is not configured", model.ErrProviderUnavailable))
		return
	}
	results, err := h.provider.Search(r.Context(), query, near)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []places.Place{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"places": results})
}

// ReverseGeocode handles GET /api/v1/places/reverse?lat=..&lon=..
func (h *PlacesHandler) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	loc, err := queryLocation(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.provider == nil {
		writeError(w, r, fmt.Errorf("%w: reverse geocoding is not configured", model.ErrProviderUnavailable))
		return
	}

	address, err := h.provider.ReverseGeocode(r.Context(), loc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc.Address = address
	writeJSON(w, http.StatusOK, loc)
}

// Route handles GET /api/v1/route?from_lat=..&from_lon=..&to_lat=..&to_lon=..
//
// Always answers with a route for valid points; "fallback": true marks a
// straight-line interpolation.
func (h *PlacesHandler) Route(w http.ResponseWriter, r *http.Request) {
	from, err := queryLocation(r, "from_")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryLocation(r, "to_")
	if err != nil {
		writeError(w, r, err)
		return
	}

	route, err := h.planner.Route(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}
