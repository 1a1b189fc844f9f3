package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/model"
)

// MemoryStore is a DispatchStore held in process memory. A single mutex
// serializes writes, which makes AcceptRide trivially first-writer-wins.
type MemoryStore struct {
	mu      sync.Mutex
	rides   map[string]*model.Ride
	order   []string // ride ids in insertion order
	drivers map[string]*model.Driver
	now     func() time.Time

	driverSetSubs map[*Subscription[[]model.Driver]]struct{}
	pendingSubs   map[*Subscription[[]model.Ride]]int
	rideSubs      map[string]map[*Subscription[*model.Ride]]struct{}
	driverSubs    map[string]map[*Subscription[*model.Driver]]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:         make(map[string]*model.Ride),
		drivers:       make(map[string]*model.Driver),
		now:           time.Now,
		driverSetSubs: make(map[*Subscription[[]model.Driver]]struct{}),
		pendingSubs:   make(map[*Subscription[[]model.Ride]]int),
		rideSubs:      make(map[string]map[*Subscription[*model.Ride]]struct{}),
		driverSubs:    make(map[string]map[*Subscription[*model.Driver]]struct{}),
	}
}

// ─── Rides ──────────────────────────────────────────────────

func (s *MemoryStore) CreateRide(ctx context.Context, ride *model.Ride) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create ride: %w", model.ErrNotAuthenticated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := *ride
	r.ID = uuid.NewString()
	r.UserID = id.UserID
	r.DriverID = ""
	r.Status = model.RidePending
	r.CreatedAt = now
	r.UpdatedAt = now

	s.rides[r.ID] = &r
	s.order = append(s.order, r.ID)

	s.notifyRideLocked(r.ID)
	s.notifyPendingLocked()
	return r.ID, nil
}

func (s *MemoryStore) GetRide(_ context.Context, rideID string) (*model.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return nil, fmt.Errorf("ride %s: %w", rideID, model.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AcceptRide(_ context.Context, rideID, driverID string) (*model.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return nil, fmt.Errorf("accept ride %s: %w", rideID, model.ErrNotFound)
	}
	d, ok := s.drivers[driverID]
	if !ok {
		return nil, fmt.Errorf("accept ride %s: driver %s: %w", rideID, driverID, model.ErrNotFound)
	}
	if r.Status != model.RidePending {
		return nil, fmt.Errorf("accept ride %s: status is %s: %w", rideID, r.Status, model.ErrStaleState)
	}
	if !d.Eligible() {
		return nil, fmt.Errorf("accept ride %s: driver %s not available: %w", rideID, driverID, model.ErrStaleState)
	}

	now := s.now()
	r.DriverID = driverID
	r.Status = model.RideAccepted
	r.UpdatedAt = now
	d.IsAvailable = false
	d.UpdatedAt = now

	s.notifyRideLocked(rideID)
	s.notifyPendingLocked()
	s.notifyDriverLocked(driverID)
	s.notifyDriverSetLocked()

	cp := *r
	return &cp, nil
}

func (s *MemoryStore) UpdateRideStatus(_ context.Context, rideID string, status model.RideStatus) (*model.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rides[rideID]
	if !ok {
		return nil, fmt.Errorf("update ride %s: %w", rideID, model.ErrNotFound)
	}
	if !r.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("update ride %s: %s → %s: %w", rideID, r.Status, status, model.ErrStaleState)
	}

	now := s.now()
	r.Status = status
	r.UpdatedAt = now

	if status.IsTerminal() && r.DriverID != "" {
		if d, ok := s.drivers[r.DriverID]; ok {
			d.IsAvailable = true
			d.UpdatedAt = now
			s.notifyDriverLocked(d.ID)
			s.notifyDriverSetLocked()
		}
	}

	s.notifyRideLocked(rideID)
	s.notifyPendingLocked()

	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListUserRides(_ context.Context, userID string, limit int) ([]model.Ride, error) {
	return s.listRides(func(r *model.Ride) bool { return r.UserID == userID }, historyLimit(limit)), nil
}

func (s *MemoryStore) ListDriverRides(_ context.Context, driverID string, limit int) ([]model.Ride, error) {
	return s.listRides(func(r *model.Ride) bool { return r.DriverID == driverID }, historyLimit(limit)), nil
}

func (s *MemoryStore) listRides(match func(*model.Ride) bool, limit int) []model.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ridesLocked(match, limit)
}

// ridesLocked returns matching rides newest first. Rides created at the same
// instant keep reverse insertion order.
func (s *MemoryStore) ridesLocked(match func(*model.Ride) bool, limit int) []model.Ride {
	out := make([]model.Ride, 0)
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.rides[s.order[i]]
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ─── Drivers ────────────────────────────────────────────────

func (s *MemoryStore) CreateDriverProfile(ctx context.Context, d *model.Driver) (string, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("create driver profile: %w", model.ErrNotAuthenticated)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	drv := *d
	drv.ID = uuid.NewString()
	drv.UserID = id.UserID
	drv.IsOnline = false
	drv.IsAvailable = false
	drv.CreatedAt = now
	drv.UpdatedAt = now

	s.drivers[drv.ID] = &drv
	s.notifyDriverLocked(drv.ID)
	return drv.ID, nil
}

func (s *MemoryStore) GetDriver(_ context.Context, driverID string) (*model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[driverID]
	if !ok {
		return nil, fmt.Errorf("driver %s: %w", driverID, model.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) UpdateDriverLocation(_ context.Context, driverID string, loc model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[driverID]
	if !ok {
		return fmt.Errorf("update location %s: %w", driverID, model.ErrNotFound)
	}
	now := s.now()
	d.CurrentLocation = loc
	d.LastLocationAt = &now
	d.UpdatedAt = now

	s.notifyDriverLocked(driverID)
	if d.Eligible() {
		s.notifyDriverSetLocked()
	}
	return nil
}

func (s *MemoryStore) SetDriverOnlineStatus(_ context.Context, driverID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[driverID]
	if !ok {
		return fmt.Errorf("set online %s: %w", driverID, model.ErrNotFound)
	}
	now := s.now()
	d.IsOnline = online
	d.IsAvailable = online
	d.LastOnlineChange = &now
	d.UpdatedAt = now

	s.notifyDriverLocked(driverID)
	s.notifyDriverSetLocked()
	return nil
}

// ─── Subscriptions ──────────────────────────────────────────

func (s *MemoryStore) SubscribeAvailableDrivers(ctx context.Context) (*Subscription[[]model.Driver], error) {
	sub, subCtx := NewSubscription[[]model.Driver](ctx)

	s.mu.Lock()
	s.driverSetSubs[sub] = struct{}{}
	sub.Publish(s.availableDriversLocked())
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		delete(s.driverSetSubs, sub)
		s.mu.Unlock()
	}()
	return sub, nil
}

func (s *MemoryStore) SubscribePendingRides(ctx context.Context, limit int) (*Subscription[[]model.Ride], error) {
	sub, subCtx := NewSubscription[[]model.Ride](ctx)
	limit = pendingLimit(limit)

	s.mu.Lock()
	s.pendingSubs[sub] = limit
	sub.Publish(s.pendingRidesLocked(limit))
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		delete(s.pendingSubs, sub)
		s.mu.Unlock()
	}()
	return sub, nil
}

func (s *MemoryStore) SubscribeRide(ctx context.Context, rideID string) (*Subscription[*model.Ride], error) {
	sub, subCtx := NewSubscription[*model.Ride](ctx)

	s.mu.Lock()
	if s.rideSubs[rideID] == nil {
		s.rideSubs[rideID] = make(map[*Subscription[*model.Ride]]struct{})
	}
	s.rideSubs[rideID][sub] = struct{}{}
	sub.Publish(s.rideSnapshotLocked(rideID))
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		delete(s.rideSubs[rideID], sub)
		if len(s.rideSubs[rideID]) == 0 {
			delete(s.rideSubs, rideID)
		}
		s.mu.Unlock()
	}()
	return sub, nil
}

func (s *MemoryStore) SubscribeDriver(ctx context.Context, driverID string) (*Subscription[*model.Driver], error) {
	sub, subCtx := NewSubscription[*model.Driver](ctx)

	s.mu.Lock()
	if s.driverSubs[driverID] == nil {
		s.driverSubs[driverID] = make(map[*Subscription[*model.Driver]]struct{})
	}
	s.driverSubs[driverID][sub] = struct{}{}
	sub.Publish(s.driverSnapshotLocked(driverID))
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		s.mu.Lock()
		delete(s.driverSubs[driverID], sub)
		if len(s.driverSubs[driverID]) == 0 {
			delete(s.driverSubs, driverID)
		}
		s.mu.Unlock()
	}()
	return sub, nil
}

// ─── Snapshot fan-out (caller holds s.mu) ───────────────────

func (s *MemoryStore) availableDriversLocked() []model.Driver {
	out := make([]model.Driver, 0)
	for _, d := range s.drivers {
		if d.Eligible() {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) pendingRidesLocked(limit int) []model.Ride {
	return s.ridesLocked(func(r *model.Ride) bool { return r.Status == model.RidePending }, limit)
}

func (s *MemoryStore) rideSnapshotLocked(rideID string) *model.Ride {
	r, ok := s.rides[rideID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (s *MemoryStore) driverSnapshotLocked(driverID string) *model.Driver {
	d, ok := s.drivers[driverID]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (s *MemoryStore) notifyDriverSetLocked() {
	if len(s.driverSetSubs) == 0 {
		return
	}
	snap := s.availableDriversLocked()
	for sub := range s.driverSetSubs {
		sub.Publish(snap)
	}
}

func (s *MemoryStore) notifyPendingLocked() {
	for sub, limit := range s.pendingSubs {
		sub.Publish(s.pendingRidesLocked(limit))
	}
}

func (s *MemoryStore) notifyRideLocked(rideID string) {
	for sub := range s.rideSubs[rideID] {
		sub.Publish(s.rideSnapshotLocked(rideID))
	}
}

func (s *MemoryStore) notifyDriverLocked(driverID string) {
	for sub := range s.driverSubs[driverID] {
		sub.Publish(s.driverSnapshotLocked(driverID))
	}
}
