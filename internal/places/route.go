package places

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/geo"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// RoutePlanner fetches road routes and degrades to a straight line.
type RoutePlanner struct {
	provider Provider
	log      *logrus.Entry
}

// NewRoutePlanner creates a planner. provider may be nil, in which case
// every route is a straight line.
func NewRoutePlanner(provider Provider) *RoutePlanner {
	return &RoutePlanner{provider: provider, log: logger.WithComponent("route")}
}

// Route returns the road route from origin to dest, or a straight-line
// interpolation of geo.DefaultRouteSegments segments when the provider
// fails or returns too few points. Only invalid input is an error.
func (p *RoutePlanner) Route(ctx context.Context, origin, dest model.Location) (*Route, error) {
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if err := dest.Validate(); err != nil {
		return nil, err
	}

	if p.provider != nil {
		r, err := p.provider.Directions(ctx, origin, dest)
		if err == nil && r != nil && len(r.Points) >= 2 {
			return r, nil
		}
		if err != nil {
			p.log.WithError(err).Warn("directions unavailable, using straight line")
		}
	}

	metrics.RouteFallbacks.Inc()
	points := geo.StraightLine(origin, dest, geo.DefaultRouteSegments)
	return &Route{
		Points:     points,
		DistanceKm: geo.HaversineKm(origin, dest),
		Fallback:   true,
	}, nil
}
