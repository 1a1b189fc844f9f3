// Package service contains the dispatch business logic: pricing, the ride
// lifecycle, driver presence and proximity discovery.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/events"
	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/pkg/geo"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// ─── Errors ─────────────────────────────────────────────────

// ErrNoDriversFound is returned when no driver accepted a ride within the
// search window.
var ErrNoDriversFound = errors.New("no drivers found")

// ─── RideService ────────────────────────────────────────────

// RideRequest is a rider's booking input. Price, distance and duration are
// always computed here; the client never supplies them.
type RideRequest struct {
	Pickup      model.Location `json:"pickup"`
	Destination model.Location `json:"destination"`
	RideType    model.RideType `json:"ride_type"`
}

// RideService drives a ride through its lifecycle:
//
//	pending → accepted → in-progress → completed
//	    ↘          ↘           ↘
//	         cancelled (from any non-terminal state)
//
// The first-writer-wins accept is delegated to the store's conditional
// write; this service never locks.
type RideService struct {
	store  repository.DispatchStore
	pricer *PricingService
	events events.Publisher
	log    *logrus.Entry
}

// NewRideService creates a ride service.
func NewRideService(store repository.DispatchStore, pricer *PricingService, pub events.Publisher) *RideService {
	return &RideService{
		store:  store,
		pricer: pricer,
		events: pub,
		log:    logger.WithComponent("ride"),
	}
}

// RequestRide validates the request, prices it and stores a pending ride.
func (s *RideService) RequestRide(ctx context.Context, req RideRequest) (*model.Ride, error) {
	// ── Step 1: Validate before any write ───────────────
	if _, ok := auth.IdentityFromContext(ctx); !ok {
		return nil, fmt.Errorf("request ride: %w", model.ErrNotAuthenticated)
	}
	if err := req.Pickup.Validate(); err != nil {
		return nil, fmt.Errorf("pickup: %w", err)
	}
	if err := req.Destination.Validate(); err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	rideType := s.normalizeRideType(req.RideType)

	// ── Step 2: Price server-side ───────────────────────
	quote := s.pricer.Quote(geo.HaversineKm(req.Pickup, req.Destination), rideType)

	// ── Step 3: Persist ─────────────────────────────────
	id, err := s.store.CreateRide(ctx, &model.Ride{
		Pickup:      req.Pickup,
		Destination: req.Destination,
		RideType:    rideType,
		Price:       quote.Price,
		DistanceKm:  quote.DistanceKm,
		DurationMin: quote.DurationMin,
	})
	if err != nil {
		return nil, err
	}
	ride, err := s.store.GetRide(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.RidesRequested.WithLabelValues(string(rideType)).Inc()
	s.publish(ctx, events.ForRide(events.RideRequested, ride))
	s.log.WithFields(logrus.Fields{
		"ride_id":   ride.ID,
		"ride_type": rideType,
		"price":     ride.Price,
		"distance":  fmt.Sprintf("%.2f", ride.DistanceKm),
	}).Info("ride requested")
	return ride, nil
}

// GetRide returns a ride visible to the caller (its rider or its driver).
func (s *RideService) GetRide(ctx context.Context, rideID string) (*model.Ride, error) {
	ride, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRide(ctx, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// AcceptRide lets driverID take a pending ride. Of many concurrent
// attempts on one ride exactly one succeeds; the others get
// model.ErrStaleState and should refresh their pending list, not retry.
func (s *RideService) AcceptRide(ctx context.Context, rideID, driverID string) (*model.Ride, error) {
	if err := authorizeDriver(ctx, s.store, driverID); err != nil {
		return nil, err
	}

	ride, err := s.store.AcceptRide(ctx, rideID, driverID)
	log := s.log.WithFields(logrus.Fields{"ride_id": rideID, "driver_id": driverID})
	switch {
	case err == nil:
		metrics.AcceptAttempts.WithLabelValues("won").Inc()
	case errors.Is(err, model.ErrStaleState):
		metrics.AcceptAttempts.WithLabelValues("lost").Inc()
		log.WithError(err).Info("accept lost")
		return nil, err
	default:
		metrics.AcceptAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.StatusTransitions.WithLabelValues(string(model.RideAccepted)).Inc()
	s.publish(ctx, events.ForRide(events.RideAccepted, ride))
	log.Info("ride accepted")
	return ride, nil
}

// AdvanceStatus moves a ride to next. Illegal transitions (including any
// move out of a terminal state) fail with model.ErrStaleState. A ride that
// does not exist is a no-op: (nil, nil).
func (s *RideService) AdvanceStatus(ctx context.Context, rideID string, next model.RideStatus) (*model.Ride, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrInvalidInput, next)
	}
	if next == model.RideAccepted || next == model.RidePending {
		return nil, fmt.Errorf("%w: status %q is set by request/accept only", model.ErrInvalidInput, next)
	}

	log := s.log.WithFields(logrus.Fields{"ride_id": rideID, "status": next})

	current, err := s.store.GetRide(ctx, rideID)
	if errors.Is(err, model.ErrNotFound) {
		log.Info("status advance for missing ride ignored")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRide(ctx, current); err != nil {
		return nil, err
	}

	ride, err := s.store.UpdateRideStatus(ctx, rideID, next)
	if errors.Is(err, model.ErrNotFound) {
		log.Info("status advance for missing ride ignored")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.StatusTransitions.WithLabelValues(string(next)).Inc()
	s.publish(ctx, events.ForRide(events.RideStatusChanged, ride))
	log.WithField("driver_id", ride.DriverID).Info("ride status changed")
	return ride, nil
}

// Start marks an accepted ride in progress.
func (s *RideService) Start(ctx context.Context, rideID string) (*model.Ride, error) {
	return s.AdvanceStatus(ctx, rideID, model.RideInProgress)
}

// Complete finishes an in-progress ride and frees its driver.
func (s *RideService) Complete(ctx context.Context, rideID string) (*model.Ride, error) {
	return s.AdvanceStatus(ctx, rideID, model.RideCompleted)
}

// Cancel cancels a non-terminal ride and frees its driver, if any.
func (s *RideService) Cancel(ctx context.Context, rideID string) (*model.Ride, error) {
	return s.AdvanceStatus(ctx, rideID, model.RideCancelled)
}

// MyRides lists the caller's rides, newest first.
func (s *RideService) MyRides(ctx context.Context, limit int) ([]model.Ride, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("list rides: %w", model.ErrNotAuthenticated)
	}
	return s.store.ListUserRides(ctx, id.UserID, limit)
}

// DriverRides lists rides assigned to driverID, newest first. Only the
// driver's own account may list them.
func (s *RideService) DriverRides(ctx context.Context, driverID string, limit int) ([]model.Ride, error) {
	if err := authorizeDriver(ctx, s.store, driverID); err != nil {
		return nil, err
	}
	return s.store.ListDriverRides(ctx, driverID, limit)
}

// ─── Private helpers ────────────────────────────────────────

// normalizeRideType maps empty or unknown types to the fallback tier so the
// stored type always matches the tariff used to price the ride.
func (s *RideService) normalizeRideType(t model.RideType) model.RideType {
	if s.pricer.Known(t) {
		return t
	}
	return s.pricer.config.Fallback
}

// authorizeRide allows the ride's rider and its assigned driver.
func (s *RideService) authorizeRide(ctx context.Context, ride *model.Ride) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return fmt.Errorf("ride %s: %w", ride.ID, model.ErrNotAuthenticated)
	}
	if ride.UserID == id.UserID {
		return nil
	}
	if ride.DriverID != "" {
		d, err := s.store.GetDriver(ctx, ride.DriverID)
		if err == nil && d.UserID == id.UserID {
			return nil
		}
	}
	return fmt.Errorf("ride %s: caller is neither rider nor driver: %w", ride.ID, model.ErrNotAuthenticated)
}

func (s *RideService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithField("event", e.Type).Warn("event not published")
	}
}

// authorizeDriver checks that the caller owns the driver profile.
func authorizeDriver(ctx context.Context, store repository.DispatchStore, driverID string) error {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, model.ErrNotAuthenticated)
	}
	d, err := store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.UserID != id.UserID {
		return fmt.Errorf("driver %s belongs to another account: %w", driverID, model.ErrNotAuthenticated)
	}
	return nil
}
