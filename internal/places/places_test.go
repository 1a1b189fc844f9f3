package places

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/geo"
)

var (
	pickup = model.Location{Lat: 19.0760, Lon: 72.8777}
	dropAt = model.Location{Lat: 19.1077, Lon: 72.8317}
)

type fakeProvider struct {
	mu           sync.Mutex
	reverseCalls int
	route        *Route
	err          error
}

func (f *fakeProvider) Search(context.Context, string, model.Location) ([]Place, error) {
	return nil, f.err
}

func (f *fakeProvider) ReverseGeocode(_ context.Context, loc model.Location) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverseCalls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("near %.3f,%.3f", loc.Lat, loc.Lon), nil
}

func (f *fakeProvider) Directions(context.Context, model.Location, model.Location) (*Route, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.route, nil
}

type mapKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *mapKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func TestRoutePlanner_UsesProviderRoute(t *testing.T) {
	road := &Route{Points: []model.Location{pickup, {Lat: 19.09, Lon: 72.85}, dropAt}, DistanceKm: 7.4}
	r, err := NewRoutePlanner(&fakeProvider{route: road}).Route(context.Background(), pickup, dropAt)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if r.Fallback || len(r.Points) != 3 {
		t.Errorf("Route = %+v, want provider route", r)
	}
}

func TestRoutePlanner_StraightLineFallback(t *testing.T) {
	providers := []Provider{
		nil,
		&fakeProvider{err: fmt.Errorf("%w: quota", model.ErrProviderUnavailable)},
		&fakeProvider{route: &Route{Points: []model.Location{pickup}}},
	}
	for i, p := range providers {
		r, err := NewRoutePlanner(p).Route(context.Background(), pickup, dropAt)
		if err != nil {
			t.Fatalf("[%d] Route: %v", i, err)
		}
		if !r.Fallback {
			t.Errorf("[%d] Fallback = false", i)
		}
		if len(r.Points) != geo.DefaultRouteSegments+1 {
			t.Errorf("[%d] points = %d, want %d", i, len(r.Points), geo.DefaultRouteSegments+1)
		}
		if r.Points[0] != pickup || r.Points[len(r.Points)-1] != dropAt {
			t.Errorf("[%d] endpoints = %+v .. %+v", i, r.Points[0], r.Points[len(r.Points)-1])
		}
		if math.Abs(r.DistanceKm-geo.HaversineKm(pickup, dropAt)) > 1e-9 {
			t.Errorf("[%d] DistanceKm = %v", i, r.DistanceKm)
		}
	}
}

func TestRoutePlanner_InvalidInput(t *testing.T) {
	_, err := NewRoutePlanner(nil).Route(context.Background(), model.Location{Lat: 95, Lon: 0}, dropAt)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("Route(lat 95) err = %v, want ErrInvalidInput", err)
	}
}

func TestCachedProvider_ReverseGeocodeHitsCache(t *testing.T) {
	inner := &fakeProvider{}
	kv := &mapKV{data: map[string]string{}}
	c := NewCachedProvider(inner, kv, time.Hour)

	first, err := c.ReverseGeocode(context.Background(), pickup)
	if err != nil {
		t.Fatalf("ReverseGeocode: %v", err)
	}
	// 2 m away: same 4-decimal key.
	second, _ := c.ReverseGeocode(context.Background(), model.Location{Lat: pickup.Lat + 0.00001, Lon: pickup.Lon})
	if first != second {
		t.Errorf("cached address = %q, want %q", second, first)
	}
	if inner.reverseCalls != 1 {
		t.Errorf("provider calls = %d, want 1", inner.reverseCalls)
	}
}

func TestCachedProvider_CacheDownStillAnswers(t *testing.T) {
	inner := &fakeProvider{}
	c := NewCachedProvider(inner, &mapKV{data: map[string]string{}, err: errors.New("redis down")}, time.Hour)

	if _, err := c.ReverseGeocode(context.Background(), pickup); err != nil {
		t.Fatalf("ReverseGeocode with cache down: %v", err)
	}
	if inner.reverseCalls != 1 {
		t.Errorf("provider calls = %d, want 1", inner.reverseCalls)
	}
}

func TestCachedProvider_ProviderErrorNotCached(t *testing.T) {
	inner := &fakeProvider{err: fmt.Errorf("%w: down", model.ErrProviderUnavailable)}
	kv := &mapKV{data: map[string]string{}}
	c := NewCachedProvider(inner, kv, time.Hour)

	if _, err := c.ReverseGeocode(context.Background(), pickup); !errors.Is(err, model.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
	if len(kv.data) != 0 {
		t.Errorf("error cached: %v", kv.data)
	}
}
