// Package places wraps the geocoding and routing provider: free-text place
// search, reverse geocoding and road routes, with a cache for reverse
// lookups and a straight-line fallback for routes.
package places

import (
	"context"

	"github.com/shiva/gaadisathi/internal/model"
)

// Place is one search result.
type Place struct {
	PlaceID  string         `json:"place_id"`
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Location model.Location `json:"location"`
}

// Route is an ordered point sequence from origin to destination.
type Route struct {
	Points      []model.Location `json:"points"`
	DistanceKm  float64          `json:"distance_km"`
	DurationMin int              `json:"duration_min,omitempty"`
	// Fallback is true when Points is a straight-line interpolation.
	Fallback bool `json:"fallback"`
}

// Provider is the geocoding/routing backend. Failures wrap
// model.ErrProviderUnavailable.
type Provider interface {
	// Search returns places matching query, biased towards near when set.
	Search(ctx context.Context, query string, near model.Location) ([]Place, error)
	// ReverseGeocode returns a human-readable address for loc.
	ReverseGeocode(ctx context.Context, loc model.Location) (string, error)
	// Directions returns the road route between two points.
	Directions(ctx context.Context, origin, dest model.Location) (*Route, error)
}
