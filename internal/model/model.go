// Package model contains domain models for the ride dispatch system.
// The struct tags cover every persistence backend: JSON for the HTTP API,
// `firestore` for the document store. Postgres rows are scanned by hand.
package model

import (
	"fmt"
	"math"
	"time"
)

// ─── Enums ──────────────────────────────────────────────────

// RideStatus is the state of a ride in its lifecycle.
type RideStatus string

const (
	RidePending    RideStatus = "pending"
	RideAccepted   RideStatus = "accepted"
	RideInProgress RideStatus = "in-progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RideStatus) IsTerminal() bool {
	return s == RideCompleted || s == RideCancelled
}

// Valid reports whether s is one of the known statuses.
func (s RideStatus) Valid() bool {
	switch s {
	case RidePending, RideAccepted, RideInProgress, RideCompleted, RideCancelled:
		return true
	}
	return false
}

// transitions lists the statuses reachable from each non-terminal status.
var transitions = map[RideStatus][]RideStatus{
	RidePending:    {RideAccepted, RideCancelled},
	RideAccepted:   {RideInProgress, RideCancelled},
	RideInProgress: {RideCompleted, RideCancelled},
}

// CanTransitionTo reports whether a ride in status s may move to next.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RideType is the vehicle class. Only used as a pricing parameter.
type RideType string

const (
	RideTypeBike   RideType = "bike"
	RideTypeAuto   RideType = "auto"
	RideTypeCab    RideType = "cab"
	RideTypeParcel RideType = "parcel"
)

// ─── Location ───────────────────────────────────────────────

// Location represents a WGS-84 geographic point.
type Location struct {
	Lat     float64 `json:"latitude" firestore:"latitude"`
	Lon     float64 `json:"longitude" firestore:"longitude"`
	Address string  `json:"address,omitempty" firestore:"address,omitempty"`
}

// IsSet reports whether the location carries real coordinates.
// (0, 0) is the "unset" marker used by clients.
func (l Location) IsSet() bool {
	return l.Lat != 0 || l.Lon != 0
}

// Validate checks coordinate ranges and rejects unset or NaN locations.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return fmt.Errorf("%w: coordinates are NaN", ErrInvalidInput)
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range [-90, 90]", ErrInvalidInput, l.Lat)
	}
	if l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range [-180, 180]", ErrInvalidInput, l.Lon)
	}
	if !l.IsSet() {
		return fmt.Errorf("%w: location is unset", ErrInvalidInput)
	}
	return nil
}

// ─── Domain Models ──────────────────────────────────────────

// Driver is a vehicle operator. Eligible for matching only when
// IsOnline && IsAvailable.
type Driver struct {
	ID               string     `json:"id" firestore:"-"`
	UserID           string     `json:"user_id" firestore:"userId"`
	Name             string     `json:"name" firestore:"name"`
	VehicleModel     string     `json:"vehicle_model" firestore:"vehicleModel"`
	Rating           float64    `json:"rating" firestore:"rating"`
	IsOnline         bool       `json:"is_online" firestore:"isOnline"`
	IsAvailable      bool       `json:"is_available" firestore:"isAvailable"`
	CurrentLocation  Location   `json:"current_location" firestore:"currentLocation"`
	LastLocationAt   *time.Time `json:"last_location_at,omitempty" firestore:"lastLocationUpdate,omitempty"`
	LastOnlineChange *time.Time `json:"last_online_change,omitempty" firestore:"lastOnlineUpdate,omitempty"`
	CreatedAt        time.Time  `json:"created_at" firestore:"createdAt"`
	UpdatedAt        time.Time  `json:"updated_at" firestore:"updatedAt"`
}

// Eligible reports whether the driver can be matched to a new ride.
func (d Driver) Eligible() bool {
	return d.IsOnline && d.IsAvailable
}

// Position is the point used for radius searches around drivers.
func (d Driver) Position() Location {
	return d.CurrentLocation
}

// Ride is one transportation request.
type Ride struct {
	ID          string     `json:"id" firestore:"-"`
	UserID      string     `json:"user_id" firestore:"userId"`
	DriverID    string     `json:"driver_id,omitempty" firestore:"driverId,omitempty"`
	Pickup      Location   `json:"pickup" firestore:"pickup"`
	Destination Location   `json:"destination" firestore:"destination"`
	RideType    RideType   `json:"ride_type" firestore:"rideType"`
	Status      RideStatus `json:"status" firestore:"status"`
	Price       int        `json:"price" firestore:"price"`
	DistanceKm  float64    `json:"distance" firestore:"distance"`
	DurationMin int        `json:"duration" firestore:"duration"`
	CreatedAt   time.Time  `json:"created_at" firestore:"createdAt"`
	UpdatedAt   time.Time  `json:"updated_at" firestore:"updatedAt"`
}

// Position is the point used for radius searches around rides (the pickup).
func (r Ride) Position() Location {
	return r.Pickup
}
