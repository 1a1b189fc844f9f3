package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/events"
	"github.com/shiva/gaadisathi/internal/location"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// DefaultDriverRating is given to every new profile.
const DefaultDriverRating = 5.0

// DriverProfile is the input for a new driver profile.
type DriverProfile struct {
	Name            string         `json:"name"`
	VehicleModel    string         `json:"vehicle_model"`
	InitialLocation model.Location `json:"initial_location"`
}

// DriverService manages driver profiles, presence and position.
type DriverService struct {
	store   repository.DispatchStore
	tracker *location.Tracker
	locCfg  location.LocatorConfig
	events  events.Publisher
	log     *logrus.Entry
}

// NewDriverService creates a driver service. tracker may be nil, in which
// case going online never starts background position pushes.
func NewDriverService(store repository.DispatchStore, tracker *location.Tracker, locCfg location.LocatorConfig, pub events.Publisher) *DriverService {
	return &DriverService{
		store:   store,
		tracker: tracker,
		locCfg:  locCfg,
		events:  pub,
		log:     logger.WithComponent("driver"),
	}
}

// CreateProfile stores a new offline driver owned by the caller.
func (s *DriverService) CreateProfile(ctx context.Context, p DriverProfile) (*model.Driver, error) {
	if _, ok := auth.IdentityFromContext(ctx); !ok {
		return nil, fmt.Errorf("create driver: %w", model.ErrNotAuthenticated)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidInput)
	}
	if p.InitialLocation.IsSet() {
		if err := p.InitialLocation.Validate(); err != nil {
			return nil, fmt.Errorf("initial location: %w", err)
		}
	}

	id, err := s.store.CreateDriverProfile(ctx, &model.Driver{
		Name:            name,
		VehicleModel:    strings.TrimSpace(p.VehicleModel),
		Rating:          DefaultDriverRating,
		CurrentLocation: p.InitialLocation,
	})
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDriver(ctx, id)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.ForDriver(events.DriverCreated, d.ID, nil))
	s.log.WithFields(logrus.Fields{"driver_id": d.ID, "vehicle": d.VehicleModel}).Info("driver profile created")
	return d, nil
}

// GetDriver returns a driver profile.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*model.Driver, error) {
	return s.store.GetDriver(ctx, driverID)
}

// SetOnline toggles presence. Online and available always move together.
//
// Going online with a non-nil src writes the driver's current position once
// and starts a tracker on src; going offline stops the tracker.
func (s *DriverService) SetOnline(ctx context.Context, driverID string, online bool, src location.Source) error {
	if err := authorizeDriver(ctx, s.store, driverID); err != nil {
		return err
	}
	if err := s.store.SetDriverOnlineStatus(ctx, driverID, online); err != nil {
		return err
	}

	log := s.log.WithFields(logrus.Fields{"driver_id": driverID, "online": online})
	if online && src != nil {
		s.pushCurrent(ctx, log, driverID, src)
		if err := s.track(ctx, driverID, src); err != nil {
			log.WithError(err).Warn("tracker not started")
		}
	}
	if !online && s.tracker != nil {
		s.tracker.Stop(driverID)
	}

	s.publish(ctx, events.ForDriver(events.DriverOnlineChange, driverID, &online))
	log.Info("driver presence changed")
	return nil
}

// Track starts background position pushes for driverID from src without
// touching presence. The loop ends when src's stream ends.
func (s *DriverService) Track(ctx context.Context, driverID string, src location.Source) error {
	if err := authorizeDriver(ctx, s.store, driverID); err != nil {
		return err
	}
	return s.track(ctx, driverID, src)
}

func (s *DriverService) track(ctx context.Context, driverID string, src location.Source) error {
	if s.tracker == nil {
		return nil
	}
	return s.tracker.Start(ctx, driverID, src)
}

// UpdateLocation records a driver's position after validating it.
func (s *DriverService) UpdateLocation(ctx context.Context, driverID string, loc model.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if err := authorizeDriver(ctx, s.store, driverID); err != nil {
		return err
	}
	return s.store.UpdateDriverLocation(ctx, driverID, loc)
}

// pushCurrent writes the located position. The fallback point is only
// written when the driver has no known position at all.
func (s *DriverService) pushCurrent(ctx context.Context, log *logrus.Entry, driverID string, src location.Source) {
	loc, fallback := location.NewLocator(src, s.locCfg).Current(ctx)
	if fallback {
		d, err := s.store.GetDriver(ctx, driverID)
		if err == nil && d.CurrentLocation.IsSet() {
			return
		}
	}
	if err := s.store.UpdateDriverLocation(ctx, driverID, loc); err != nil {
		log.WithError(err).Warn("initial location not written")
	}
}

func (s *DriverService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithField("event", e.Type).Warn("event not published")
	}
}
