package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers groups every API handler for route registration.
type Handlers struct {
	Pricing *PricingHandler
	Rides   *RideHandler
	Drivers *DriverHandler
	Places  *PlacesHandler
	Streams *StreamHandler
}

// Register mounts the REST routes on api and the WebSocket streams on ws.
// Both routers are expected to carry the auth middleware already.
//
// Static segments ("nearby") are registered before "{id}" so they win.
func Register(api, ws *mux.Router, h Handlers) {
	// Fares
	api.HandleFunc("/fares/estimate", h.Pricing.EstimateFare).Methods(http.MethodPost)

	// Rides
	api.HandleFunc("/rides", h.Rides.CreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides", h.Rides.ListMyRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/nearby", h.Rides.NearbyRides).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", h.Rides.GetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/accept", h.Rides.AcceptRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/status", h.Rides.AdvanceStatus).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/driver", h.Rides.AwaitDriver).Methods(http.MethodGet)

	// Drivers
	api.HandleFunc("/drivers", h.Drivers.CreateProfile).Methods(http.MethodPost)
	api.HandleFunc("/drivers/nearby", h.Drivers.NearbyDrivers).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}", h.Drivers.GetDriver).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/location", h.Drivers.UpdateLocation).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{id}/online", h.Drivers.SetOnline).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{id}/rides", h.Drivers.ListRides).Methods(http.MethodGet)

	// Places and routes
	api.HandleFunc("/places/search", h.Places.Search).Methods(http.MethodGet)
	api.HandleFunc("/places/reverse", h.Places.ReverseGeocode).Methods(http.MethodGet)
	api.HandleFunc("/route", h.Places.Route).Methods(http.MethodGet)

	// Live streams
	ws.HandleFunc("/drivers/nearby", h.Streams.NearbyDrivers).Methods(http.MethodGet)
	ws.HandleFunc("/drivers/{id}/location", h.Streams.DriverLocation).Methods(http.MethodGet)
	ws.HandleFunc("/rides/nearby", h.Streams.NearbyRides).Methods(http.MethodGet)
	ws.HandleFunc("/rides/{id}", h.Streams.Ride).Methods(http.MethodGet)
}
