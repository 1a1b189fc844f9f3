package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/pkg/geo"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// DefaultDriverRadiusKm bounds the drivers shown around a pickup.
	DefaultDriverRadiusKm = 5.0

	// DefaultRideRadiusKm bounds the pending rides shown to a driver.
	DefaultRideRadiusKm = 10.0

	// DefaultAcceptTimeout is how long a rider waits for any driver.
	DefaultAcceptTimeout = 30 * time.Second
)

// DiscoveryConfig tunes the proximity searches.
type DiscoveryConfig struct {
	DriverRadiusKm float64
	RideRadiusKm   float64
	PendingLimit   int
	AcceptTimeout  time.Duration
}

// ─── DiscoveryService ───────────────────────────────────────

// DiscoveryService answers "who is near me" as live streams.
//
// Filtering happens client-side of the store:
//
//  1. SUBSCRIBE: the store pushes the full eligible set (online+available
//     drivers, or the newest pending rides) on every change.
//  2. FILTER: drop entries farther than the radius (haversine).
//  3. SORT: ascending distance, ties keep store order.
//
// Every snapshot is recomputed from scratch, so a driver going offline or a
// ride being accepted simply disappears from the next emission.
type DiscoveryService struct {
	store repository.DispatchStore
	cfg   DiscoveryConfig
	log   *logrus.Entry
}

// NewDiscoveryService creates a discovery service. Zero config fields take
// the defaults.
func NewDiscoveryService(store repository.DispatchStore, cfg DiscoveryConfig) *DiscoveryService {
	if cfg.DriverRadiusKm <= 0 {
		cfg.DriverRadiusKm = DefaultDriverRadiusKm
	}
	if cfg.RideRadiusKm <= 0 {
		cfg.RideRadiusKm = DefaultRideRadiusKm
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	return &DiscoveryService{store: store, cfg: cfg, log: logger.WithComponent("discovery")}
}

// WatchNearbyDrivers streams eligible drivers within radiusKm of pickup,
// nearest first. radiusKm <= 0 uses the configured default.
func (s *DiscoveryService) WatchNearbyDrivers(ctx context.Context, pickup model.Location, radiusKm float64) (*repository.Subscription[[]geo.Ranked[model.Driver]], error) {
	if err := pickup.Validate(); err != nil {
		return nil, fmt.Errorf("pickup: %w", err)
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.DriverRadiusKm
	}

	src, err := s.store.SubscribeAvailableDrivers(ctx)
	if err != nil {
		return nil, err
	}
	return repository.Map(src, func(drivers []model.Driver) []geo.Ranked[model.Driver] {
		return geo.NearestWithin(pickup, drivers, radiusKm)
	}), nil
}

// WatchNearbyRides streams pending rides whose pickup is within radiusKm of
// the driver, nearest first.
func (s *DiscoveryService) WatchNearbyRides(ctx context.Context, driverLoc model.Location, radiusKm float64) (*repository.Subscription[[]geo.Ranked[model.Ride]], error) {
	if err := driverLoc.Validate(); err != nil {
		return nil, fmt.Errorf("driver location: %w", err)
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.RideRadiusKm
	}

	src, err := s.store.SubscribePendingRides(ctx, s.cfg.PendingLimit)
	if err != nil {
		return nil, err
	}
	return repository.Map(src, func(rides []model.Ride) []geo.Ranked[model.Ride] {
		return geo.NearestWithin(driverLoc, rides, radiusKm)
	}), nil
}

// NearbyDrivers returns the current nearby-driver snapshot.
func (s *DiscoveryService) NearbyDrivers(ctx context.Context, pickup model.Location, radiusKm float64) ([]geo.Ranked[model.Driver], error) {
	sub, err := s.WatchNearbyDrivers(ctx, pickup, radiusKm)
	if err != nil {
		return nil, err
	}
	return first(ctx, sub)
}

// NearbyRides returns the current nearby-rides snapshot.
func (s *DiscoveryService) NearbyRides(ctx context.Context, driverLoc model.Location, radiusKm float64) ([]geo.Ranked[model.Ride], error) {
	sub, err := s.WatchNearbyRides(ctx, driverLoc, radiusKm)
	if err != nil {
		return nil, err
	}
	return first(ctx, sub)
}

// WatchRide streams one ride; nil means the ride does not exist.
func (s *DiscoveryService) WatchRide(ctx context.Context, rideID string) (*repository.Subscription[*model.Ride], error) {
	return s.store.SubscribeRide(ctx, rideID)
}

// SearchWindow is the wait AwaitAcceptance applies for a requested
// timeout: the configured search timeout when timeout <= 0, capped at it
// otherwise.
func (s *DiscoveryService) SearchWindow(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > s.cfg.AcceptTimeout {
		return s.cfg.AcceptTimeout
	}
	return timeout
}

// AwaitAcceptance blocks until a driver takes rideID.
//
// Returns the ride once it leaves pending, ErrNoDriversFound when the
// search window elapses first, and model.ErrStaleState if the ride was
// cancelled while waiting.
func (s *DiscoveryService) AwaitAcceptance(ctx context.Context, rideID string, timeout time.Duration) (*model.Ride, error) {
	timeout = s.SearchWindow(timeout)

	sub, err := s.store.SubscribeRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	defer sub.Cancel()

	metrics.ActiveSubscriptions.WithLabelValues("await_acceptance").Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues("await_acceptance").Dec()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	log := s.log.WithField("ride_id", rideID)
	for {
		select {
		case ride, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					return nil, err
				}
				return nil, ctx.Err()
			}
			switch {
			case ride == nil:
				return nil, fmt.Errorf("ride %s: %w", rideID, model.ErrNotFound)
			case ride.Status == model.RideCancelled:
				return nil, fmt.Errorf("ride %s cancelled while searching: %w", rideID, model.ErrStaleState)
			case ride.Status != model.RidePending:
				log.WithField("driver_id", ride.DriverID).Info("driver found")
				return ride, nil
			}

		case <-timer.C:
			metrics.NoDriversFound.Inc()
			log.WithField("timeout", timeout).Info("no driver accepted in time")
			return nil, ErrNoDriversFound

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// first takes one snapshot and cancels the subscription.
func first[T any](ctx context.Context, sub *repository.Subscription[T]) (T, error) {
	defer sub.Cancel()

	var zero T
	select {
	case v, ok := <-sub.C:
		if !ok {
			if err := sub.Err(); err != nil {
				return zero, err
			}
			return zero, ctx.Err()
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
