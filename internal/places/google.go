package places

import (
	"context"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/geo"
)

// searchRadiusM biases text search around the caller's position.
const searchRadiusM = 20000

// GoogleProvider implements Provider on the Google Maps web services.
type GoogleProvider struct {
	client  *maps.Client
	timeout time.Duration
}

// NewGoogleProvider creates a provider for apiKey. timeout bounds each call.
func NewGoogleProvider(apiKey string, timeout time.Duration) (*GoogleProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return &GoogleProvider{client: client, timeout: timeout}, nil
}

func (g *GoogleProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *GoogleProvider) Search(ctx context.Context, query string, near model.Location) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", model.ErrInvalidInput)
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	req := &maps.TextSearchRequest{Query: query}
	if near.IsSet() {
		req.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lon}
		req.Radius = searchRadiusM
	}

	resp, err := g.client.TextSearch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: place search: %v", model.ErrProviderUnavailable, err)
	}

	out := make([]Place, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Place{
			PlaceID: r.PlaceID,
			Name:    r.Name,
			Address: r.FormattedAddress,
			Location: model.Location{
				Lat:     r.Geometry.Location.Lat,
				Lon:     r.Geometry.Location.Lng,
				Address: r.FormattedAddress,
			},
		})
	}
	return out, nil
}

func (g *GoogleProvider) ReverseGeocode(ctx context.Context, loc model.Location) (string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	resp, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: loc.Lat, Lng: loc.Lon},
	})
	if err != nil {
		return "", fmt.Errorf("%w: reverse geocode: %v", model.ErrProviderUnavailable, err)
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("reverse geocode (%.5f, %.5f): %w", loc.Lat, loc.Lon, model.ErrNotFound)
	}
	return resp[0].FormattedAddress, nil
}

func (g *GoogleProvider) Directions(ctx context.Context, origin, dest model.Location) (*Route, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	routes, _, err := g.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lon),
		Destination: fmt.Sprintf("%f,%f", dest.Lat, dest.Lon),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: directions: %v", model.ErrProviderUnavailable, err)
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: directions: no route", model.ErrProviderUnavailable)
	}

	best := routes[0]
	latlngs, err := best.OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: decode polyline: %v", model.ErrProviderUnavailable, err)
	}

	points := make([]model.Location, len(latlngs))
	for i, p := range latlngs {
		points[i] = model.Location{Lat: p.Lat, Lon: p.Lng}
	}

	r := &Route{Points: points}
	var meters int
	var dur time.Duration
	for _, leg := range best.Legs {
		meters += leg.Distance.Meters
		dur += leg.Duration
	}
	if meters > 0 {
		r.DistanceKm = float64(meters) / 1000
	} else {
		r.DistanceKm = geo.RouteDistanceKm(points)
	}
	r.DurationMin = int(dur.Round(time.Minute) / time.Minute)
	return r, nil
}
