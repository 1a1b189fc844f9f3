package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shiva/gaadisathi/internal/auth"
	"github.com/shiva/gaadisathi/internal/model"
)

func riderCtx(id string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: id})
}

func newRide() *model.Ride {
	return &model.Ride{
		Pickup:      model.Location{Lat: 19.0760, Lon: 72.8777},
		Destination: model.Location{Lat: 19.1077, Lon: 72.8317},
		RideType:    model.RideTypeCab,
		Price:       133,
		DistanceKm:  5.98,
		DurationMin: 8,
	}
}

// onlineDriver creates a driver profile and brings it online.
func onlineDriver(t *testing.T, s *MemoryStore, name string) string {
	t.Helper()
	id, err := s.CreateDriverProfile(riderCtx("user-"+name), &model.Driver{Name: name, Rating: 5})
	if err != nil {
		t.Fatalf("CreateDriverProfile: %v", err)
	}
	if err := s.SetDriverOnlineStatus(context.Background(), id, true); err != nil {
		t.Fatalf("SetDriverOnlineStatus: %v", err)
	}
	return id
}

func recv[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestMemoryStore_CreateRide_RequiresIdentity(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateRide(context.Background(), newRide())
	if !errors.Is(err, model.ErrNotAuthenticated) {
		t.Fatalf("CreateRide without identity: err = %v, want ErrNotAuthenticated", err)
	}
	if got, _ := s.ListUserRides(context.Background(), "", 0); len(got) != 0 {
		t.Errorf("partial record written: %+v", got)
	}
}

func TestMemoryStore_CreateRide_ServerFields(t *testing.T) {
	s := NewMemoryStore()
	in := newRide()
	in.Status = model.RideCompleted
	in.DriverID = "someone"
	in.UserID = "spoofed"

	id, err := s.CreateRide(riderCtx("rider-1"), in)
	if err != nil {
		t.Fatalf("CreateRide: %v", err)
	}
	got, err := s.GetRide(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if got.Status != model.RidePending || got.DriverID != "" || got.UserID != "rider-1" {
		t.Errorf("CreateRide stored %+v, want pending/no driver/rider-1", got)
	}
	if got.CreatedAt.IsZero() || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("timestamps = %v / %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestMemoryStore_CreateDriverProfile_Defaults(t *testing.T) {
	s := NewMemoryStore()
	id, err := s.CreateDriverProfile(riderCtx("drv-user"), &model.Driver{
		Name: "Asha", VehicleModel: "Activa", Rating: 5, IsOnline: true, IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("CreateDriverProfile: %v", err)
	}
	d, _ := s.GetDriver(context.Background(), id)
	if d.IsOnline || d.IsAvailable {
		t.Errorf("new driver online=%v available=%v, want both false", d.IsOnline, d.IsAvailable)
	}
	if d.UserID != "drv-user" {
		t.Errorf("UserID = %q, want drv-user", d.UserID)
	}

	if _, err := s.CreateDriverProfile(context.Background(), &model.Driver{Name: "x"}); !errors.Is(err, model.ErrNotAuthenticated) {
		t.Errorf("CreateDriverProfile without identity: err = %v", err)
	}
}

func TestMemoryStore_SetDriverOnlineStatus_CouplesAvailability(t *testing.T) {
	s := NewMemoryStore()
	id := onlineDriver(t, s, "a")

	d, _ := s.GetDriver(context.Background(), id)
	if !d.IsOnline || !d.IsAvailable || d.LastOnlineChange == nil {
		t.Errorf("online driver = %+v", d)
	}

	_ = s.SetDriverOnlineStatus(context.Background(), id, false)
	d, _ = s.GetDriver(context.Background(), id)
	if d.IsOnline || d.IsAvailable {
		t.Errorf("offline driver online=%v available=%v", d.IsOnline, d.IsAvailable)
	}

	if err := s.SetDriverOnlineStatus(context.Background(), "ghost", true); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("SetDriverOnlineStatus(ghost) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_AcceptRide_SingleWinner(t *testing.T) {
	const n = 16
	s := NewMemoryStore()
	rideID, _ := s.CreateRide(riderCtx("rider"), newRide())

	drivers := make([]string, n)
	for i := range drivers {
		drivers[i] = onlineDriver(t, s, fmt.Sprintf("d%d", i))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   []string
		stales int
	)
	start := make(chan struct{})
	for _, id := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			_, err := s.AcceptRide(context.Background(), rideID, driverID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, driverID)
			case errors.Is(err, model.ErrStaleState):
				stales++
			default:
				t.Errorf("AcceptRide: unexpected error %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	if len(wins) != 1 || stales != n-1 {
		t.Fatalf("wins = %d, stale = %d; want 1 and %d", len(wins), stales, n-1)
	}
	ride, _ := s.GetRide(context.Background(), rideID)
	if ride.Status != model.RideAccepted || ride.DriverID != wins[0] {
		t.Errorf("ride = %s/%s, want accepted/%s", ride.Status, ride.DriverID, wins[0])
	}
	winner, _ := s.GetDriver(context.Background(), wins[0])
	if winner.IsAvailable {
		t.Error("winning driver still available")
	}
	for _, id := range drivers {
		if id == wins[0] {
			continue
		}
		d, _ := s.GetDriver(context.Background(), id)
		if !d.IsAvailable {
			t.Errorf("losing driver %s marked unavailable", id)
		}
	}
}

func TestMemoryStore_AcceptRide_BusyDriver(t *testing.T) {
	s := NewMemoryStore()
	drv := onlineDriver(t, s, "busy")
	first, _ := s.CreateRide(riderCtx("r1"), newRide())
	second, _ := s.CreateRide(riderCtx("r2"), newRide())

	if _, err := s.AcceptRide(context.Background(), first, drv); err != nil {
		t.Fatalf("AcceptRide(first): %v", err)
	}
	if _, err := s.AcceptRide(context.Background(), second, drv); !errors.Is(err, model.ErrStaleState) {
		t.Errorf("AcceptRide(second) err = %v, want ErrStaleState", err)
	}
	if _, err := s.AcceptRide(context.Background(), "missing", drv); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("AcceptRide(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateRideStatus_ReleasesDriver(t *testing.T) {
	for _, terminal := range []model.RideStatus{model.RideCompleted, model.RideCancelled} {
		t.Run(string(terminal), func(t *testing.T) {
			s := NewMemoryStore()
			drv := onlineDriver(t, s, "d")
			rideID, _ := s.CreateRide(riderCtx("r"), newRide())
			if _, err := s.AcceptRide(context.Background(), rideID, drv); err != nil {
				t.Fatalf("AcceptRide: %v", err)
			}
			if terminal == model.RideCompleted {
				if _, err := s.UpdateRideStatus(context.Background(), rideID, model.RideInProgress); err != nil {
					t.Fatalf("UpdateRideStatus(in-progress): %v", err)
				}
			}
			if _, err := s.UpdateRideStatus(context.Background(), rideID, terminal); err != nil {
				t.Fatalf("UpdateRideStatus(%s): %v", terminal, err)
			}
			d, _ := s.GetDriver(context.Background(), drv)
			if !d.IsAvailable {
				t.Errorf("driver not released after %s", terminal)
			}
		})
	}
}

func TestMemoryStore_UpdateRideStatus_ReleasesOfflineDriver(t *testing.T) {
	s := NewMemoryStore()
	drv := onlineDriver(t, s, "d")
	rideID, _ := s.CreateRide(riderCtx("r"), newRide())
	if _, err := s.AcceptRide(context.Background(), rideID, drv); err != nil {
		t.Fatalf("AcceptRide: %v", err)
	}
	if err := s.SetDriverOnlineStatus(context.Background(), drv, false); err != nil {
		t.Fatalf("SetDriverOnlineStatus: %v", err)
	}
	if _, err := s.UpdateRideStatus(context.Background(), rideID, model.RideCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	d, _ := s.GetDriver(context.Background(), drv)
	if !d.IsAvailable || d.IsOnline {
		t.Errorf("driver online=%v available=%v, want offline and available", d.IsOnline, d.IsAvailable)
	}

	sub, _ := s.SubscribeAvailableDrivers(context.Background())
	defer sub.Cancel()
	if snap := recv(t, sub); len(snap) != 0 {
		t.Errorf("offline driver matchable: %v", snap)
	}
}

func TestMemoryStore_UpdateRideStatus_TerminalIsFinal(t *testing.T) {
	s := NewMemoryStore()
	rideID, _ := s.CreateRide(riderCtx("r"), newRide())
	if _, err := s.UpdateRideStatus(context.Background(), rideID, model.RideCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	for _, next := range []model.RideStatus{model.RidePending, model.RideAccepted, model.RideInProgress, model.RideCompleted, model.RideCancelled} {
		if _, err := s.UpdateRideStatus(context.Background(), rideID, next); !errors.Is(err, model.ErrStaleState) {
			t.Errorf("cancelled → %s: err = %v, want ErrStaleState", next, err)
		}
	}
	if _, err := s.UpdateRideStatus(context.Background(), "nope", model.RideCancelled); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing ride: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PendingRides_NewestFirstAndLimited(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		id, _ := s.CreateRide(riderCtx("r"), newRide())
		ids = append(ids, id)
	}

	sub, _ := s.SubscribePendingRides(context.Background(), 3)
	defer sub.Cancel()

	snap := recv(t, sub)
	if len(snap) != 3 {
		t.Fatalf("pending snapshot len = %d, want 3", len(snap))
	}
	for i, want := range []string{ids[4], ids[3], ids[2]} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}

	_, _ = s.UpdateRideStatus(context.Background(), ids[4], model.RideCancelled)
	snap = recv(t, sub)
	if len(snap) != 3 || snap[0].ID != ids[3] || snap[2].ID != ids[1] {
		t.Errorf("after cancel snapshot = %v", rideIDs(snap))
	}
}

func TestMemoryStore_PendingRides_LimitCapped(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < MaxPendingRides+5; i++ {
		if _, err := s.CreateRide(riderCtx("r"), newRide()); err != nil {
			t.Fatalf("CreateRide: %v", err)
		}
	}

	sub, _ := s.SubscribePendingRides(context.Background(), 500)
	defer sub.Cancel()

	if snap := recv(t, sub); len(snap) != MaxPendingRides {
		t.Errorf("pending snapshot len = %d, want %d", len(snap), MaxPendingRides)
	}
}

func TestMemoryStore_SubscribeAvailableDrivers_FullSnapshots(t *testing.T) {
	s := NewMemoryStore()
	sub, _ := s.SubscribeAvailableDrivers(context.Background())
	defer sub.Cancel()

	if snap := recv(t, sub); len(snap) != 0 {
		t.Fatalf("initial snapshot = %d drivers, want 0", len(snap))
	}

	a := onlineDriver(t, s, "a")
	if snap := recv(t, sub); len(snap) != 1 || snap[0].ID != a {
		t.Fatalf("snapshot after online = %+v", snap)
	}

	b := onlineDriver(t, s, "b")
	_ = s.SetDriverOnlineStatus(context.Background(), a, false)
	snap := recv(t, sub)
	if len(snap) != 1 || snap[0].ID != b {
		t.Errorf("latest snapshot = %+v, want only %s", snap, b)
	}
}

func TestMemoryStore_SubscribeRide_AbsentThenCancel(t *testing.T) {
	s := NewMemoryStore()
	sub, _ := s.SubscribeRide(context.Background(), "missing")
	if got := recv(t, sub); got != nil {
		t.Errorf("snapshot for missing ride = %+v, want nil", got)
	}

	sub.Cancel()
	sub.Cancel()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("received snapshot after Cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Cancel")
	}
	if sub.Err() != nil {
		t.Errorf("Err after Cancel = %v, want nil", sub.Err())
	}

	// Watch removed from the store.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.rideSubs)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ride watch not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_SubscribeDriver_LocationUpdates(t *testing.T) {
	s := NewMemoryStore()
	id := onlineDriver(t, s, "a")
	sub, _ := s.SubscribeDriver(context.Background(), id)
	defer sub.Cancel()
	recv(t, sub)

	loc := model.Location{Lat: 19.1, Lon: 72.9}
	if err := s.UpdateDriverLocation(context.Background(), id, loc); err != nil {
		t.Fatalf("UpdateDriverLocation: %v", err)
	}
	d := recv(t, sub)
	if d.CurrentLocation != loc || d.LastLocationAt == nil {
		t.Errorf("driver snapshot = %+v", d)
	}
	if err := s.UpdateDriverLocation(context.Background(), "ghost", loc); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("UpdateDriverLocation(ghost) err = %v", err)
	}
}

func TestMemoryStore_ListRides(t *testing.T) {
	s := NewMemoryStore()
	drv := onlineDriver(t, s, "d")
	r1, _ := s.CreateRide(riderCtx("alice"), newRide())
	_, _ = s.CreateRide(riderCtx("bob"), newRide())
	_, _ = s.AcceptRide(context.Background(), r1, drv)

	alice, _ := s.ListUserRides(context.Background(), "alice", 0)
	if len(alice) != 1 || alice[0].ID != r1 {
		t.Errorf("ListUserRides(alice) = %v", rideIDs(alice))
	}
	byDriver, _ := s.ListDriverRides(context.Background(), drv, 10)
	if len(byDriver) != 1 || byDriver[0].ID != r1 {
		t.Errorf("ListDriverRides = %v", rideIDs(byDriver))
	}
}

func rideIDs(rides []model.Ride) []string {
	out := make([]string, len(rides))
	for i, r := range rides {
		out[i] = r.ID
	}
	return out
}
