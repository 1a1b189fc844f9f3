package repository

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// Firestore collection names.
const (
	ridesCollection   = "rides"
	driversCollection = "drivers"
)

// FirestoreStore is a DispatchStore on Cloud Firestore, the document store
// the mobile clients were built against. Accept and status changes run in
// RunTransaction; subscriptions wrap the native snapshot listeners.
type FirestoreStore struct {
	client *firestore.Client
	log    *logrus.Entry
}

// NewFirestoreStore creates a store on client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		log:    logger.WithComponent("store.firestore"),
	}
}

func (s *FirestoreStore) rides() *firestore.CollectionRef   { return s.client.Collection(ridesCollection) }
func (s *FirestoreStore) drivers() *firestore.CollectionRef { return s.client.Collection(driversCollection) }

// ─── Rides ──────────────────────────────────────────────────

func (s *FirestoreStore) CreateRide(ctx context.Context, ride *model.Ride) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create ride: %w", model.ErrNotAuthenticated)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	ref := s.rides().NewDoc()
	_, err := ref.Create(ctx, map[string]interface{}{
		"userId":      id.UserID,
		"pickup":      ride.Pickup,
		"destination": ride.Destination,
		"rideType":    ride.RideType,
		"status":      model.RidePending,
		"price":       ride.Price,
		"distance":    ride.DistanceKm,
		"duration":    ride.DurationMin,
		"createdAt":   firestore.ServerTimestamp,
		"updatedAt":   firestore.ServerTimestamp,
	})
	if err != nil {
		return "", firestoreErr("create ride", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) GetRide(ctx context.Context, rideID string) (*model.Ride, error) {
	snap, err := s.rides().Doc(rideID).Get(ctx)
	if err != nil {
		return nil, firestoreErr("get ride "+rideID, err)
	}
	return rideFromSnapshot(snap)
}

func (s *FirestoreStore) AcceptRide(ctx context.Context, rideID, driverID string) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	rideRef := s.rides().Doc(rideID)
	driverRef := s.drivers().Doc(driverID)

	// The transaction retries on contention; the loser re-reads the ride
	// and sees it is no longer pending.
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rideSnap, err := tx.Get(rideRef)
		if err != nil {
			return firestoreErr("accept: read ride "+rideID, err)
		}
		driverSnap, err := tx.Get(driverRef)
		if err != nil {
			return firestoreErr("accept: read driver "+driverID, err)
		}

		ride, err := rideFromSnapshot(rideSnap)
		if err != nil {
			return err
		}
		if ride.Status != model.RidePending {
			return fmt.Errorf("accept ride %s: status is %s: %w", rideID, ride.Status, model.ErrStaleState)
		}
		drv, err := driverFromSnapshot(driverSnap)
		if err != nil {
			return err
		}
		if !drv.Eligible() {
			return fmt.Errorf("accept ride %s: driver %s not available: %w", rideID, driverID, model.ErrStaleState)
		}

		if err := tx.Update(rideRef, []firestore.Update{
			{Path: "driverId", Value: driverID},
			{Path: "status", Value: model.RideAccepted},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}); err != nil {
			return err
		}
		return tx.Update(driverRef, []firestore.Update{
			{Path: "isAvailable", Value: false},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		})
	})
	if err != nil {
		return nil, firestoreErr("accept ride", err)
	}
	return s.GetRide(ctx, rideID)
}

func (s *FirestoreStore) UpdateRideStatus(ctx context.Context, rideID string, next model.RideStatus) (*model.Ride, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	rideRef := s.rides().Doc(rideID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(rideRef)
		if err != nil {
			return firestoreErr("update status: read ride "+rideID, err)
		}
		ride, err := rideFromSnapshot(snap)
		if err != nil {
			return err
		}
		if !ride.Status.CanTransitionTo(next) {
			return fmt.Errorf("update ride %s: %s → %s: %w", rideID, ride.Status, next, model.ErrStaleState)
		}

		// All reads precede writes in a transaction.
		var driverRef *firestore.DocumentRef
		if next.IsTerminal() && ride.DriverID != "" {
			driverRef = s.drivers().Doc(ride.DriverID)
			if _, err := tx.Get(driverRef); err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
				driverRef = nil
			}
		}

		if err := tx.Update(rideRef, []firestore.Update{
			{Path: "status", Value: next},
			{Path: "updatedAt", Value: firestore.ServerTimestamp},
		}); err != nil {
			return err
		}
		if driverRef != nil {
			return tx.Update(driverRef, []firestore.Update{
				{Path: "isAvailable", Value: true},
				{Path: "updatedAt", Value: firestore.ServerTimestamp},
			})
		}
		return nil
	})
	if err != nil {
		return nil, firestoreErr("update ride status", err)
	}
	return s.GetRide(ctx, rideID)
}

func (s *FirestoreStore) ListUserRides(ctx context.Context, userID string, limit int) ([]model.Ride, error) {
	q := s.rides().Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc).Limit(historyLimit(limit))
	return s.queryRides(ctx, q)
}

func (s *FirestoreStore) ListDriverRides(ctx context.Context, driverID string, limit int) ([]model.Ride, error) {
	q := s.rides().Where("driverId", "==", driverID).OrderBy("createdAt", firestore.Desc).Limit(historyLimit(limit))
	return s.queryRides(ctx, q)
}

func (s *FirestoreStore) queryRides(ctx context.Context, q firestore.Query) ([]model.Ride, error) {
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, firestoreErr("query rides", err)
	}
	return ridesFromSnapshots(docs)
}

// ─── Drivers ────────────────────────────────────────────────

func (s *FirestoreStore) CreateDriverProfile(ctx context.Context, d *model.Driver) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create driver profile: %w", model.ErrNotAuthenticated)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultStoreTimeout)
	defer cancel()

	ref := s.drivers().NewDoc()
	_, err := ref.Create(ctx, map[string]interface{}{
		"userId":          id.UserID,
		"name":            d.Name,
		"vehicleModel":    d.VehicleModel,
		"rating":          d.Rating,
		"isOnline":        false,
		"isAvailable":     false,
		"currentLocation": d.CurrentLocation,
		"createdAt":       firestore.ServerTimestamp,
		"updatedAt":       firestore.ServerTimestamp,
	})
	if err != nil {
		return "", firestoreErr("create driver", err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) GetDriver(ctx context.Context, driverID string) (*model.Driver, error) {
	snap, err := s.drivers().Doc(driverID).Get(ctx)
	if err != nil {
		return nil, firestoreErr("get driver "+driverID, err)
	}
	return driverFromSnapshot(snap)
}

func (s *FirestoreStore) UpdateDriverLocation(ctx context.Context, driverID string, loc model.Location) error {
	_, err := s.drivers().Doc(driverID).Update(ctx, []firestore.Update{
		{Path: "currentLocation", Value: loc},
		{Path: "lastLocationUpdate", Value: firestore.ServerTimestamp},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return firestoreErr("update location "+driverID, err)
	}
	return nil
}

func (s *FirestoreStore) SetDriverOnlineStatus(ctx context.Context, driverID string, online bool) error {
	_, err := s.drivers().Doc(driverID).Update(ctx, []firestore.Update{
		{Path: "isOnline", Value: online},
		{Path: "isAvailable", Value: online},
		{Path: "lastOnlineUpdate", Value: firestore.ServerTimestamp},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return firestoreErr("set online "+driverID, err)
	}
	return nil
}

// ─── Live queries ───────────────────────────────────────────

func (s *FirestoreStore) SubscribeAvailableDrivers(ctx context.Context) (*Subscription[[]model.Driver], error) {
	q := s.drivers().Where("isOnline", "==", true).Where("isAvailable", "==", true)
	return watchFirestoreQuery(ctx, s.log, q, driversFromSnapshots), nil
}

func (s *FirestoreStore) SubscribePendingRides(ctx context.Context, limit int) (*Subscription[[]model.Ride], error) {
	q := s.rides().
		Where("status", "==", model.RidePending).
		OrderBy("createdAt", firestore.Desc).
		Limit(pendingLimit(limit))
	return watchFirestoreQuery(ctx, s.log, q, ridesFromSnapshots), nil
}

func (s *FirestoreStore) SubscribeRide(ctx context.Context, rideID string) (*Subscription[*model.Ride], error) {
	return watchFirestoreDoc(ctx, s.log, s.rides().Doc(rideID), rideFromSnapshot), nil
}

func (s *FirestoreStore) SubscribeDriver(ctx context.Context, driverID string) (*Subscription[*model.Driver], error) {
	return watchFirestoreDoc(ctx, s.log, s.drivers().Doc(driverID), driverFromSnapshot), nil
}

// watchFirestoreQuery forwards every QuerySnapshot as a full decoded set.
// Stopping the iterator on subscription end releases the listener.
func watchFirestoreQuery[T any](
	ctx context.Context,
	log *logrus.Entry,
	q firestore.Query,
	decode func([]*firestore.DocumentSnapshot) (T, error),
) *Subscription[T] {
	sub, subCtx := NewSubscription[T](ctx)
	it := q.Snapshots(subCtx)

	go func() {
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				endWatch(subCtx, sub, log, err)
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				endWatch(subCtx, sub, log, err)
				return
			}
			v, err := decode(docs)
			if err != nil {
				endWatch(subCtx, sub, log, err)
				return
			}
			sub.Publish(v)
		}
	}()
	return sub
}

// watchFirestoreDoc forwards every DocumentSnapshot; a missing document is
// published as nil.
func watchFirestoreDoc[T any](
	ctx context.Context,
	log *logrus.Entry,
	ref *firestore.DocumentRef,
	decode func(*firestore.DocumentSnapshot) (*T, error),
) *Subscription[*T] {
	sub, subCtx := NewSubscription[*T](ctx)
	it := ref.Snapshots(subCtx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				endWatch(subCtx, sub, log, err)
				return
			}
			if !snap.Exists() {
				sub.Publish(nil)
				continue
			}
			v, err := decode(snap)
			if err != nil {
				endWatch(subCtx, sub, log, err)
				return
			}
			sub.Publish(v)
		}
	}()
	return sub
}

func endWatch[T any](ctx context.Context, sub *Subscription[T], log *logrus.Entry, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		sub.Cancel()
		return
	}
	log.WithError(err).Warn("snapshot listener stopped")
	sub.Fail(firestoreErr("snapshot listener", err))
}

// ─── Decoding ───────────────────────────────────────────────

func rideFromSnapshot(snap *firestore.DocumentSnapshot) (*model.Ride, error) {
	var r model.Ride
	if err := snap.DataTo(&r); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", snap.Ref.ID, err)
	}
	r.ID = snap.Ref.ID
	return &r, nil
}

func driverFromSnapshot(snap *firestore.DocumentSnapshot) (*model.Driver, error) {
	var d model.Driver
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode driver %s: %w", snap.Ref.ID, err)
	}
	d.ID = snap.Ref.ID
	return &d, nil
}

func ridesFromSnapshots(docs []*firestore.DocumentSnapshot) ([]model.Ride, error) {
	out := make([]model.Ride, 0, len(docs))
	for _, doc := range docs {
		r, err := rideFromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func driversFromSnapshots(docs []*firestore.DocumentSnapshot) ([]model.Driver, error) {
	out := make([]model.Driver, 0, len(docs))
	for _, doc := range docs {
		d, err := driverFromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// firestoreErr maps gRPC status codes onto the model taxonomy.
func firestoreErr(op string, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrStaleState),
		errors.Is(err, model.ErrProviderUnavailable), errors.Is(err, model.ErrNotAuthenticated):
		return fmt.Errorf("%s: %w", op, err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%s: %w: %v", op, model.ErrStaleState, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %w: %v", op, model.ErrNotAuthenticated, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, model.ErrProviderUnavailable, err)
	}
}
