package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/service"
	"github.com/shiva/gaadisathi/pkg/geo"
)

// OnlineBody is the JSON body for PUT /api/v1/drivers/{id}/online.
type OnlineBody struct {
	Online bool `json:"online"`
}

// DriverHandler handles driver profile, presence and position endpoints.
type DriverHandler struct {
	drivers   *service.DriverService
	rides     *service.RideService
	discovery *service.DiscoveryService
}

// NewDriverHandler creates a new driver handler.
func NewDriverHandler(drivers *service.DriverService, rides *service.RideService, discovery *service.DiscoveryService) *DriverHandler {
	return &DriverHandler{drivers: drivers, rides: rides, discovery: discovery}
}

// CreateProfile handles POST /api/v1/drivers
//
// The profile belongs to the caller and starts offline with a 5.0 rating.
func (h *DriverHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var body service.DriverProfile
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.drivers.CreateProfile(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GetDriver handles GET /api/v1/drivers/{id}
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := h.drivers.GetDriver(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// UpdateLocation handles PUT /api/v1/drivers/{id}/location
//
// Body: {"latitude": 19.07, "longitude": 72.87}
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var loc model.Location
	if err := decodeJSON(w, r, &loc); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.drivers.UpdateLocation(r.Context(), mux.Vars(r)["id"], loc); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetOnline handles PUT /api/v1/drivers/{id}/online
//
// Toggles presence only. Continuous position pushes go over the
// /ws/drivers/{id}/location stream.
func (h *DriverHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var body OnlineBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	driverID := mux.Vars(r)["id"]
	if err := h.drivers.SetOnline(r.Context(), driverID, body.Online, nil); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.drivers.GetDriver(r.Context(), driverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListRides handles GET /api/v1/drivers/{id}/rides?limit=N
func (h *DriverHandler) ListRides(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rides, err := h.rides.DriverRides(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rides": rides})
}

// NearbyDrivers handles GET /api/v1/drivers/nearby?lat=..&lon=..&radius_km=5
func (h *DriverHandler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius_km", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	drivers, err := h.discovery.NearbyDrivers(r.Context(), center, radius)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drivers == nil {
		drivers = []geo.Ranked[model.Driver]{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drivers": drivers})
}
