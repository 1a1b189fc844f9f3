package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// Change feed topics.
const (
	TopicRides   = "rides"
	TopicDrivers = "drivers"
)

// resyncInterval re-runs live queries even without notices, covering
// notices lost while a Redis connection was being re-established.
const resyncInterval = 15 * time.Second

// ChangeNotifier carries "collection changed" notices between instances.
// cache.ChangeFeed implements it over Redis Pub/Sub.
type ChangeNotifier interface {
	Notify(ctx context.Context, topic string) error
	Listen(ctx context.Context, topics ...string) (<-chan struct{}, error)
}

// PostgresStore is a DispatchStore on PostgreSQL.
//
// Conditional writes use SELECT ... FOR UPDATE inside a transaction. Live
// queries re-run on every change notice and push the full result.
type PostgresStore struct {
	pool *pgxpool.Pool
	feed ChangeNotifier
	log  *logrus.Entry
}

// NewPostgresStore creates a store backed by pool, broadcasting changes on feed.
func NewPostgresStore(pool *pgxpool.Pool, feed ChangeNotifier) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		feed: feed,
		log:  logger.WithComponent("store.postgres"),
	}
}

const rideColumns = `
	id, user_id, COALESCE(driver_id, ''),
	pickup_lat, pickup_lon, pickup_address,
	dest_lat, dest_lon, dest_address,
	ride_type, status, price, distance_km, duration_min,
	created_at, updated_at`

const driverColumns = `
	id, user_id, name, vehicle_model, rating,
	is_online, is_available, lat, lon, address,
	last_location_at, last_online_change, created_at, updated_at`

// ─── Rides ──────────────────────────────────────────────────

func (s *PostgresStore) CreateRide(ctx context.Context, ride *model.Ride) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create ride: %w", model.ErrNotAuthenticated)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	rideID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rides (
			id, user_id, pickup_lat, pickup_lon, pickup_address,
			dest_lat, dest_lon, dest_address, ride_type, status,
			price, distance_km, duration_min
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $11, $12)`,
		rideID, id.UserID,
		ride.Pickup.Lat, ride.Pickup.Lon, ride.Pickup.Address,
		ride.Destination.Lat, ride.Destination.Lon, ride.Destination.Address,
		ride.RideType, ride.Price, ride.DistanceKm, ride.DurationMin,
	)
	if err != nil {
		return "", storeErr("create ride", err)
	}

	s.notify(ctx, TopicRides)
	return rideID, nil
}

func (s *PostgresStore) GetRide(ctx context.Context, rideID string) (*model.Ride, error) {
	ride, err := scanRide(s.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, rideID))
	if err != nil {
		return nil, storeErr("get ride "+rideID, err)
	}
	return ride, nil
}

// AcceptRide runs the accept as one transaction.
//
//	T1: BEGIN → SELECT ride FOR UPDATE → (ride row LOCKED)
//	T2: BEGIN → SELECT ride FOR UPDATE → (BLOCKS on T1)
//	T1: status pending → UPDATE ride, driver → COMMIT
//	T2: (unblocked) → re-reads status 'accepted' → ROLLBACK → ErrStaleState
//
// Locks are always taken ride first, then driver, as in UpdateRideStatus.
func (s *PostgresStore) AcceptRide(ctx context.Context, rideID, driverID string) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, storeErr("accept: begin tx", err)
	}
	defer tx.Rollback(ctx)

	// ── Step 1: lock the ride ───────────────────────────
	var status model.RideStatus
	err = tx.QueryRow(ctx, `SELECT status FROM rides WHERE id = $1 FOR UPDATE`, rideID).Scan(&status)
	if err != nil {
		return nil, storeErr("accept: lock ride "+rideID, err)
	}
	if status != model.RidePending {
		return nil, fmt.Errorf("accept ride %s: status is %s: %w", rideID, status, model.ErrStaleState)
	}

	// ── Step 2: lock the driver ─────────────────────────
	var online, available bool
	err = tx.QueryRow(ctx, `
		SELECT is_online, is_available FROM drivers WHERE id = $1 FOR UPDATE`, driverID,
	).Scan(&online, &available)
	if err != nil {
		return nil, storeErr("accept: lock driver "+driverID, err)
	}
	if !online || !available {
		return nil, fmt.Errorf("accept ride %s: driver %s not available: %w", rideID, driverID, model.ErrStaleState)
	}

	// ── Step 3: assign and mark busy ────────────────────
	ride, err := scanRide(tx.QueryRow(ctx, `
		UPDATE rides
		SET driver_id = $2, status = 'accepted', updated_at = now()
		WHERE id = $1
		RETURNING `+rideColumns, rideID, driverID))
	if err != nil {
		return nil, storeErr("accept: update ride", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE drivers SET is_available = FALSE, updated_at = now() WHERE id = $1`, driverID,
	); err != nil {
		return nil, storeErr("accept: update driver", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("accept: commit", err)
	}

	s.notify(ctx, TopicRides, TopicDrivers)
	return ride, nil
}

func (s *PostgresStore) UpdateRideStatus(ctx context.Context, rideID string, next model.RideStatus) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, storeErr("update status: begin tx", err)
	}
	defer tx.Rollback(ctx)

	var current model.RideStatus
	err = tx.QueryRow(ctx, `SELECT status FROM rides WHERE id = $1 FOR UPDATE`, rideID).Scan(&current)
	if err != nil {
		return nil, storeErr("update status: lock ride "+rideID, err)
	}
	if !current.CanTransitionTo(next) {
		return nil, fmt.Errorf("update ride %s: %s → %s: %w", rideID, current, next, model.ErrStaleState)
	}

	ride, err := scanRide(tx.QueryRow(ctx, `
		UPDATE rides SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+rideColumns, rideID, next))
	if err != nil {
		return nil, storeErr("update status", err)
	}

	released := false
	if next.IsTerminal() && ride.DriverID != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE drivers SET is_available = TRUE, updated_at = now() WHERE id = $1`, ride.DriverID,
		); err != nil {
			return nil, storeErr("update status: release driver", err)
		}
		released = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("update status: commit", err)
	}

	if released {
		s.notify(ctx, TopicRides, TopicDrivers)
	} else {
		s.notify(ctx, TopicRides)
	}
	return ride, nil
}

func (s *PostgresStore) ListUserRides(ctx context.Context, userID string, limit int) ([]model.Ride, error) {
	return s.queryRides(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, historyLimit(limit))
}

func (s *PostgresStore) ListDriverRides(ctx context.Context, driverID string, limit int) ([]model.Ride, error) {
	return s.queryRides(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, driverID, historyLimit(limit))
}

func (s *PostgresStore) queryRides(ctx context.Context, query string, args ...any) ([]model.Ride, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query rides", err)
	}
	defer rows.Close()

	out := make([]model.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, storeErr("scan ride", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query rides", err)
	}
	return out, nil
}

// ─── Drivers ────────────────────────────────────────────────

func (s *PostgresStore) CreateDriverProfile(ctx context.Context, d *model.Driver) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create driver profile: %w", model.ErrNotAuthenticated)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	driverID := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, name, vehicle_model, rating,
			is_online, is_available, lat, lon, address
		) VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, $6, $7, $8)`,
		driverID, id.UserID, d.Name, d.VehicleModel, d.Rating,
		d.CurrentLocation.Lat, d.CurrentLocation.Lon, d.CurrentLocation.Address,
	)
	if err != nil {
		return "", storeErr("create driver", err)
	}

	s.notify(ctx, TopicDrivers)
	return driverID, nil
}

func (s *PostgresStore) GetDriver(ctx context.Context, driverID string) (*model.Driver, error) {
	d, err := scanDriver(s.pool.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, driverID))
	if err != nil {
		return nil, storeErr("get driver "+driverID, err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDriverLocation(ctx context.Context, driverID string, loc model.Location) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE drivers
		SET lat = $2, lon = $3, address = $4, last_location_at = now(), updated_at = now()
		WHERE id = $1`, driverID, loc.Lat, loc.Lon, loc.Address)
	if err != nil {
		return storeErr("update location", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update location %s: %w", driverID, model.ErrNotFound)
	}
	s.notify(ctx, TopicDrivers)
	return nil
}

func (s *PostgresStore) SetDriverOnlineStatus(ctx context.Context, driverID string, online bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE drivers
		SET is_online = $2, is_available = $2, last_online_change = now(), updated_at = now()
		WHERE id = $1`, driverID, online)
	if err != nil {
		return storeErr("set online", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set online %s: %w", driverID, model.ErrNotFound)
	}
	s.notify(ctx, TopicDrivers)
	return nil
}

// ─── Live queries ───────────────────────────────────────────

func (s *PostgresStore) SubscribeAvailableDrivers(ctx context.Context) (*Subscription[[]model.Driver], error) {
	return watchQuery(ctx, s, []string{TopicDrivers}, func(ctx context.Context) ([]model.Driver, error) {
		rows, err := s.pool.Query(ctx, `
			SELECT `+driverColumns+` FROM drivers
			WHERE is_online AND is_available
			ORDER BY id`)
		if err != nil {
			return nil, storeErr("query available drivers", err)
		}
		defer rows.Close()

		out := make([]model.Driver, 0)
		for rows.Next() {
			d, err := scanDriver(rows)
			if err != nil {
				return nil, storeErr("scan driver", err)
			}
			out = append(out, *d)
		}
		return out, rows.Err()
	})
}

func (s *PostgresStore) SubscribePendingRides(ctx context.Context, limit int) (*Subscription[[]model.Ride], error) {
	limit = pendingLimit(limit)
	return watchQuery(ctx, s, []string{TopicRides}, func(ctx context.Context) ([]model.Ride, error) {
		return s.queryRides(ctx, `
			SELECT `+rideColumns+` FROM rides
			WHERE status = 'pending'
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	})
}

func (s *PostgresStore) SubscribeRide(ctx context.Context, rideID string) (*Subscription[*model.Ride], error) {
	return watchQuery(ctx, s, []string{TopicRides}, func(ctx context.Context) (*model.Ride, error) {
		r, err := s.GetRide(ctx, rideID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return r, err
	})
}

func (s *PostgresStore) SubscribeDriver(ctx context.Context, driverID string) (*Subscription[*model.Driver], error) {
	return watchQuery(ctx, s, []string{TopicDrivers}, func(ctx context.Context) (*model.Driver, error) {
		d, err := s.GetDriver(ctx, driverID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return d, err
	})
}

// watchQuery runs query once, then again on every change notice for topics
// (and every resyncInterval), publishing each result as a snapshot. A query
// failure ends the subscription with that error.
func watchQuery[T any](ctx context.Context, s *PostgresStore, topics []string, query func(context.Context) (T, error)) (*Subscription[T], error) {
	sub, subCtx := NewSubscription[T](ctx)

	notices, err := s.feed.Listen(subCtx, topics...)
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err)
	}

	first, err := query(subCtx)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	sub.Publish(first)

	go func() {
		ticker := time.NewTicker(resyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-notices:
				if !ok {
					return
				}
			case <-ticker.C:
			}

			snap, err := query(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					return
				}
				s.log.WithError(err).WithField("topics", topics).Warn("live query failed")
				sub.Fail(err)
				return
			}
			sub.Publish(snap)
		}
	}()
	return sub, nil
}

// notify broadcasts change notices. Failures are logged, not returned: the
// write has already committed and watchers resync on their own.
func (s *PostgresStore) notify(ctx context.Context, topics ...string) {
	for _, t := range topics {
		if err := s.feed.Notify(context.WithoutCancel(ctx), t); err != nil {
			s.log.WithError(err).WithField("topic", t).Warn("change notice not delivered")
		}
	}
}

// ─── Scanning ───────────────────────────────────────────────

func scanRide(row pgx.Row) (*model.Ride, error) {
	r := &model.Ride{}
	err := row.Scan(
		&r.ID, &r.UserID, &r.DriverID,
		&r.Pickup.Lat, &r.Pickup.Lon, &r.Pickup.Address,
		&r.Destination.Lat, &r.Destination.Lon, &r.Destination.Address,
		&r.RideType, &r.Status, &r.Price, &r.DistanceKm, &r.DurationMin,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanDriver(row pgx.Row) (*model.Driver, error) {
	d := &model.Driver{}
	err := row.Scan(
		&d.ID, &d.UserID, &d.Name, &d.VehicleModel, &d.Rating,
		&d.IsOnline, &d.IsAvailable,
		&d.CurrentLocation.Lat, &d.CurrentLocation.Lon, &d.CurrentLocation.Address,
		&d.LastLocationAt, &d.LastOnlineChange, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// storeErr maps driver errors onto the model taxonomy. Errors that already
// carry a model sentinel pass through.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrStaleState),
		errors.Is(err, model.ErrProviderUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, model.ErrProviderUnavailable, err)
	}
}
