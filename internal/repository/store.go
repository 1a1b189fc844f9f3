// Package repository is the persistence gateway for rides and drivers.
//
// DispatchStore has three backends: Postgres (row locks + Redis change
// feed), Firestore (transactions + live snapshots) and an in-memory store
// used by tests and local runs. All of them return full snapshots on their
// subscriptions, never deltas.
package repository

import (
	"context"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
)

// DefaultStoreTimeout bounds a single store round-trip, including the accept
// transaction.
const DefaultStoreTimeout = 5 * time.Second

// DispatchStore is the sole gateway to ride and driver persistence.
//
// Errors wrap the model taxonomy: ErrNotAuthenticated when the context has
// no identity on create, ErrNotFound for missing documents, ErrStaleState
// when a conditional write finds the ride in another state, and
// ErrProviderUnavailable for connectivity failures.
type DispatchStore interface {
	// CreateRide stores ride with status pending and server timestamps.
	// UserID is taken from the context identity.
	CreateRide(ctx context.Context, ride *model.Ride) (string, error)
	GetRide(ctx context.Context, rideID string) (*model.Ride, error)

	// CreateDriverProfile stores d with IsOnline and IsAvailable forced false.
	// UserID is taken from the context identity.
	CreateDriverProfile(ctx context.Context, d *model.Driver) (string, error)
	GetDriver(ctx context.Context, driverID string) (*model.Driver, error)

	UpdateDriverLocation(ctx context.Context, driverID string, loc model.Location) error

	// SetDriverOnlineStatus sets IsOnline and IsAvailable to online together.
	SetDriverOnlineStatus(ctx context.Context, driverID string, online bool) error

	// AcceptRide assigns driverID to a pending ride and marks the driver
	// unavailable in one atomic step. Exactly one concurrent caller wins; the
	// others get ErrStaleState.
	AcceptRide(ctx context.Context, rideID, driverID string) (*model.Ride, error)

	// UpdateRideStatus moves the ride to status if the transition is legal
	// (ErrStaleState otherwise). A terminal status releases the driver.
	UpdateRideStatus(ctx context.Context, rideID string, status model.RideStatus) (*model.Ride, error)

	ListUserRides(ctx context.Context, userID string, limit int) ([]model.Ride, error)
	ListDriverRides(ctx context.Context, driverID string, limit int) ([]model.Ride, error)

	// SubscribeAvailableDrivers streams every driver with IsOnline && IsAvailable.
	SubscribeAvailableDrivers(ctx context.Context) (*Subscription[[]model.Driver], error)

	// SubscribePendingRides streams the limit most recent pending rides,
	// newest first.
	SubscribePendingRides(ctx context.Context, limit int) (*Subscription[[]model.Ride], error)

	// SubscribeRide streams one ride; a nil snapshot means it does not exist.
	SubscribeRide(ctx context.Context, rideID string) (*Subscription[*model.Ride], error)

	// SubscribeDriver streams one driver; a nil snapshot means it does not exist.
	SubscribeDriver(ctx context.Context, driverID string) (*Subscription[*model.Driver], error)
}

// ─── Helpers ────────────────────────────────────────────────

// MaxPendingRides bounds the pending ride subscription to the newest rides.
const MaxPendingRides = 50

// pendingLimit clamps a caller-supplied limit for pending ride queries.
func pendingLimit(limit int) int {
	if limit <= 0 || limit > MaxPendingRides {
		return MaxPendingRides
	}
	return limit
}

// historyLimit clamps a caller-supplied limit for ride history queries.
func historyLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
