package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/pkg/geo"
)

var (
	// ~1.1 km north of the pickup.
	nearPickup = model.Location{Lat: 19.0860, Lon: 72.8777}
	// Pune, ~120 km away.
	farAway = model.Location{Lat: 18.5204, Lon: 73.8567}
)

func next[T any](t *testing.T, sub *repository.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C:
		if !ok {
			t.Fatalf("stream closed: %v", sub.Err())
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func driverIDs(ranked []geo.Ranked[model.Driver]) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Item.ID
	}
	return out
}

func TestNearbyDrivers_RadiusAndOrder(t *testing.T) {
	f := newFixture(t)
	near := f.onlineDriver(t, "near", nearPickup)
	closest := f.onlineDriver(t, "closest", mumbaiPickup)
	f.onlineDriver(t, "far", farAway)

	got, err := f.discovery.NearbyDrivers(context.Background(), mumbaiPickup, 0)
	if err != nil {
		t.Fatalf("NearbyDrivers: %v", err)
	}
	ids := driverIDs(got)
	if len(ids) != 2 || ids[0] != closest.ID || ids[1] != near.ID {
		t.Errorf("NearbyDrivers = %v, want [%s %s]", ids, closest.ID, near.ID)
	}
}

func TestWatchNearbyDrivers_DropsOfflineAndBusy(t *testing.T) {
	f := newFixture(t)
	a := f.onlineDriver(t, "a", mumbaiPickup)
	b := f.onlineDriver(t, "b", nearPickup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.discovery.WatchNearbyDrivers(ctx, mumbaiPickup, 5)
	if err != nil {
		t.Fatalf("WatchNearbyDrivers: %v", err)
	}
	if got := next(t, sub); len(got) != 2 {
		t.Fatalf("initial = %v, want 2 drivers", driverIDs(got))
	}

	if err := f.drivers.SetOnline(as(b.UserID), b.ID, false, nil); err != nil {
		t.Fatalf("SetOnline(false): %v", err)
	}
	if got := driverIDs(next(t, sub)); len(got) != 1 || got[0] != a.ID {
		t.Fatalf("after offline = %v, want [%s]", got, a.ID)
	}

	ride := f.requestRide(t, "rider-1")
	if _, err := f.rides.AcceptRide(as(a.UserID), ride.ID, a.ID); err != nil {
		t.Fatalf("AcceptRide: %v", err)
	}
	if got := next(t, sub); len(got) != 0 {
		t.Errorf("after accept = %v, want empty", driverIDs(got))
	}
}

func TestWatchNearbyRides_AcceptedRideDisappears(t *testing.T) {
	f := newFixture(t)
	d := f.onlineDriver(t, "a", nearPickup)
	ride := f.requestRide(t, "rider-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := f.discovery.WatchNearbyRides(ctx, nearPickup, 0)
	if err != nil {
		t.Fatalf("WatchNearbyRides: %v", err)
	}
	got := next(t, sub)
	if len(got) != 1 || got[0].Item.ID != ride.ID {
		t.Fatalf("initial = %+v, want the pending ride", got)
	}

	if _, err := f.rides.AcceptRide(as(d.UserID), ride.ID, d.ID); err != nil {
		t.Fatalf("AcceptRide: %v", err)
	}
	if got := next(t, sub); len(got) != 0 {
		t.Errorf("after accept = %d rides, want 0", len(got))
	}
}

func TestWatchNearby_InvalidCenter(t *testing.T) {
	f := newFixture(t)
	if _, err := f.discovery.WatchNearbyDrivers(context.Background(), model.Location{}, 5); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("drivers err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.discovery.WatchNearbyRides(context.Background(), model.Location{Lat: 19, Lon: 200}, 5); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("rides err = %v, want ErrInvalidInput", err)
	}
}

func TestAwaitAcceptance_ReturnsAcceptedRide(t *testing.T) {
	f := newFixture(t)
	ride := f.requestRide(t, "rider-1")
	d := f.onlineDriver(t, "a", mumbaiPickup)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.rides.AcceptRide(as(d.UserID), ride.ID, d.ID)
	}()

	got, err := f.discovery.AwaitAcceptance(context.Background(), ride.ID, 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitAcceptance: %v", err)
	}
	if got.DriverID != d.ID || got.Status != model.RideAccepted {
		t.Errorf("ride = %s by %q, want accepted by %s", got.Status, got.DriverID, d.ID)
	}
}

func TestAwaitAcceptance_Timeout(t *testing.T) {
	f := newFixture(t)
	ride := f.requestRide(t, "rider-1")

	_, err := f.discovery.AwaitAcceptance(context.Background(), ride.ID, 30*time.Millisecond)
	if !errors.Is(err, ErrNoDriversFound) {
		t.Errorf("err = %v, want ErrNoDriversFound", err)
	}
}

func TestSearchWindow_CapsAtConfiguredTimeout(t *testing.T) {
	d := NewDiscoveryService(repository.NewMemoryStore(), DiscoveryConfig{AcceptTimeout: 30 * time.Second})

	tests := []struct {
		in, want time.Duration
	}{
		{0, 30 * time.Second},
		{-time.Second, 30 * time.Second},
		{5 * time.Second, 5 * time.Second},
		{time.Hour, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := d.SearchWindow(tt.in); got != tt.want {
			t.Errorf("SearchWindow(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAwaitAcceptance_CancelledMeanwhile(t *testing.T) {
	f := newFixture(t)
	ride := f.requestRide(t, "rider-1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = f.rides.Cancel(as("rider-1"), ride.ID)
	}()

	_, err := f.discovery.AwaitAcceptance(context.Background(), ride.ID, 2*time.Second)
	if !errors.Is(err, model.ErrStaleState) {
		t.Errorf("err = %v, want ErrStaleState", err)
	}
}

func TestAwaitAcceptance_MissingRide(t *testing.T) {
	f := newFixture(t)
	_, err := f.discovery.AwaitAcceptance(context.Background(), "nope", time.Second)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
