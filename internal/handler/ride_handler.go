package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/service"
	"github.com/shiva/gaadisathi/pkg/geo"
)

// ─── Request/Response DTOs ──────────────────────────────────

// AcceptRideBody is the JSON body for POST /api/v1/rides/{id}/accept.
type AcceptRideBody struct {
	DriverID string `json:"driver_id"`
}

// StatusBody is the JSON body for POST /api/v1/rides/{id}/status.
type StatusBody struct {
	Status model.RideStatus `json:"status"`
}

// ─── RideHandler ────────────────────────────────────────────

// RideHandler handles the ride lifecycle endpoints.
type RideHandler struct {
	rides         *service.RideService
	discovery     *service.DiscoveryService
	acceptTimeout time.Duration
}

// NewRideHandler creates a new ride handler. acceptTimeout bounds each
// accept call so a contended store cannot hold the request open.
func NewRideHandler(rides *service.RideService, discovery *service.DiscoveryService, acceptTimeout time.Duration) *RideHandler {
	return &RideHandler{rides: rides, discovery: discovery, acceptTimeout: acceptTimeout}
}

// CreateRide handles POST /api/v1/rides
//
// Price, distance and duration are computed server-side from the two
// points; a body carrying them is rejected.
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req service.RideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ride, err := h.rides.RequestRide(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

// GetRide handles GET /api/v1/rides/{id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// ListMyRides handles GET /api/v1/rides?limit=N
func (h *RideHandler) ListMyRides(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rides, err := h.rides.MyRides(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rides": rides})
}

// AcceptRide handles POST /api/v1/rides/{id}/accept
//
// Response codes:
//
//	200  Ride accepted by this driver
//	401  Caller does not own driver_id
//	404  Ride or driver not found
//	409  Another driver won, or the ride is no longer pending
func (h *RideHandler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	var body AcceptRideBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if body.DriverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": "driver_id is required",
		})
		return
	}

	ctx := r.Context()
	if h.acceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.acceptTimeout)
		defer cancel()
	}

	ride, err := h.rides.AcceptRide(ctx, mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// AdvanceStatus handles POST /api/v1/rides/{id}/status
//
// Body: {"status": "in-progress" | "completed" | "cancelled"}. A ride that
// does not exist answers 204: the advance is a no-op.
func (h *RideHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	ride, err := h.rides.AdvanceStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ride == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// AwaitDriver handles GET /api/v1/rides/{id}/driver?timeout=30s
//
// Long-polls until a driver accepts; timeout is capped at the configured
// search window. 404 no_drivers_found on timeout,
// 409 if the ride was cancelled meanwhile.
func (h *RideHandler) AwaitDriver(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	timeout, err := queryDuration(r, "timeout", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.rides.GetRide(r.Context(), rideID); err != nil {
		writeError(w, r, err)
		return
	}

	// The server-wide read and write timeouts are shorter than a search
	// window; an expired read deadline would also cancel r.Context().
	timeout = h.discovery.SearchWindow(timeout)
	deadline := time.Now().Add(timeout + writeWait)
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(deadline); err != nil {
		log.WithError(err).WithField("ride_id", rideID).Warn("cannot extend read deadline")
	}
	if err := rc.SetWriteDeadline(deadline); err != nil {
		log.WithError(err).WithField("ride_id", rideID).Warn("cannot extend write deadline")
	}

	ride, err := h.discovery.AwaitAcceptance(r.Context(), rideID, timeout)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// NearbyRides handles GET /api/v1/rides/nearby?lat=..&lon=..&radius_km=10
func (h *RideHandler) NearbyRides(w http.ResponseWriter, r *http.Request) {
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

	rides, err := h.discovery.NearbyRides(r.Context(), center, radius)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rides == nil {
		rides = []geo.Ranked[model.Ride]{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rides": rides})
}
