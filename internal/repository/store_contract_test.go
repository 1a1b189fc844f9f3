package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shiva/gaadisathi/internal/model"
)

// checkAcceptSingleWinner races n drivers for one pending ride on s and
// checks that exactly one wins, the rest see ErrStaleState, and only the
// winner is marked busy.
func checkAcceptSingleWinner(t *testing.T, s DispatchStore, n int) {
	t.Helper()
	ctx := context.Background()

	rideID, err := s.CreateRide(riderCtx("rider-race"), newRide())
	if err != nil {
		t.Fatalf("CreateRide: %v", err)
	}
	drivers := make([]string, n)
	for i := range drivers {
		drivers[i] = contractDriver(t, s, fmt.Sprintf("race-%d", i))
	}

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		mu     sync.Mutex
		wins   []string
		stale  int
		others []error
	)
	for _, drv := range drivers {
		wg.Add(1)
		go func(drv string) {
			defer wg.Done()
			<-start
			_, err := s.AcceptRide(ctx, rideID, drv)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins = append(wins, drv)
			case errors.Is(err, model.ErrStaleState):
				stale++
			default:
				others = append(others, err)
			}
		}(drv)
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected accept errors: %v", others)
	}
	if len(wins) != 1 || stale != n-1 {
		t.Fatalf("wins = %d, stale = %d, want 1 and %d", len(wins), stale, n-1)
	}

	ride, err := s.GetRide(ctx, rideID)
	if err != nil {
		t.Fatalf("GetRide: %v", err)
	}
	if ride.Status != model.RideAccepted || ride.DriverID != wins[0] {
		t.Errorf("ride = %s/%s, want accepted by %s", ride.Status, ride.DriverID, wins[0])
	}
	for _, drv := range drivers {
		d, err := s.GetDriver(ctx, drv)
		if err != nil {
			t.Fatalf("GetDriver(%s): %v", drv, err)
		}
		if want := drv != wins[0]; d.IsAvailable != want {
			t.Errorf("driver %s available = %v, want %v", drv, d.IsAvailable, want)
		}
	}
}

// checkTerminalReleasesDriver walks an accepted ride to each terminal status
// and checks the driver is available again and the ride cannot move on.
func checkTerminalReleasesDriver(t *testing.T, s DispatchStore) {
	t.Helper()
	ctx := context.Background()

	for _, terminal := range []model.RideStatus{model.RideCompleted, model.RideCancelled} {
		drv := contractDriver(t, s, "release-"+string(terminal))
		rideID, err := s.CreateRide(riderCtx("rider-release"), newRide())
		if err != nil {
			t.Fatalf("CreateRide: %v", err)
		}
		if _, err := s.AcceptRide(ctx, rideID, drv); err != nil {
			t.Fatalf("AcceptRide: %v", err)
		}
		if terminal == model.RideCompleted {
			if _, err := s.UpdateRideStatus(ctx, rideID, model.RideInProgress); err != nil {
				t.Fatalf("UpdateRideStatus(in-progress): %v", err)
			}
		}
		if _, err := s.UpdateRideStatus(ctx, rideID, terminal); err != nil {
			t.Fatalf("UpdateRideStatus(%s): %v", terminal, err)
		}

		d, err := s.GetDriver(ctx, drv)
		if err != nil {
			t.Fatalf("GetDriver: %v", err)
		}
		if !d.IsAvailable {
			t.Errorf("driver not released after %s", terminal)
		}
		if _, err := s.UpdateRideStatus(ctx, rideID, model.RideInProgress); !errors.Is(err, model.ErrStaleState) {
			t.Errorf("transition out of %s: err = %v, want ErrStaleState", terminal, err)
		}
	}
}

func contractDriver(t *testing.T, s DispatchStore, name string) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateDriverProfile(riderCtx("user-"+name), &model.Driver{Name: name, Rating: 5})
	if err != nil {
		t.Fatalf("CreateDriverProfile: %v", err)
	}
	if err := s.SetDriverOnlineStatus(ctx, id, true); err != nil {
		t.Fatalf("SetDriverOnlineStatus: %v", err)
	}
	return id
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Run("accept single winner", func(t *testing.T) { checkAcceptSingleWinner(t, NewMemoryStore(), 8) })
	t.Run("terminal releases driver", func(t *testing.T) { checkTerminalReleasesDriver(t, NewMemoryStore()) })
}
