package geo

import (
	"math"
	"testing"

	"github.com/shiva/gaadisathi/internal/model"
)

// kmPerDegreeLat is the arc length of one degree of latitude on the
// EarthRadiusKm sphere.
const kmPerDegreeLat = EarthRadiusKm * math.Pi / 180.0

type point struct {
	id  string
	loc model.Location
}

func (p point) Position() model.Location { return p.loc }

func TestHaversineKm_SamePoint(t *testing.T) {
	loc := model.Location{Lat: 19.0760, Lon: 72.8777}
	got := HaversineKm(loc, loc)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_Symmetric(t *testing.T) {
	pairs := [][2]model.Location{
		{{Lat: 19.0760, Lon: 72.8777}, {Lat: 19.1077, Lon: 72.8317}},
		{{Lat: 28.6315, Lon: 77.2167}, {Lat: 28.5562, Lon: 77.0889}},
		{{Lat: -33.8688, Lon: 151.2093}, {Lat: 51.5074, Lon: -0.1278}},
		{{Lat: 0.0001, Lon: -179.9}, {Lat: -0.0001, Lon: 179.9}},
	}
	for _, p := range pairs {
		ab := HaversineKm(p[0], p[1])
		ba := HaversineKm(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("HaversineKm not symmetric: %v vs %v for %+v", ab, ba, p)
		}
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Connaught Place to IGI Airport (~14.8 km great-circle)
	connaught := model.Location{Lat: 28.6315, Lon: 77.2167}
	igi := model.Location{Lat: 28.5562, Lon: 77.0889}
	got := HaversineKm(connaught, igi)
	wantMin, wantMax := 14.0, 16.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(Connaught→IGI) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

func TestHaversineKm_MumbaiShortHop(t *testing.T) {
	pickup := model.Location{Lat: 19.0760, Lon: 72.8777}
	dest := model.Location{Lat: 19.1077, Lon: 72.8317}
	got := HaversineKm(pickup, dest)
	if math.Abs(got-5.98) > 0.01 {
		t.Errorf("HaversineKm(Mumbai hop) = %.4f km, want ≈5.98", got)
	}
}

func TestHaversineKm_LatitudeArc(t *testing.T) {
	a := model.Location{Lat: 10, Lon: 20}
	b := model.Location{Lat: 11, Lon: 20}
	got := HaversineKm(a, b)
	if math.Abs(got-kmPerDegreeLat) > 1e-6 {
		t.Errorf("HaversineKm(1° lat) = %v, want %v", got, kmPerDegreeLat)
	}
}

func TestHaversineKm_NaNPropagates(t *testing.T) {
	got := HaversineKm(model.Location{Lat: math.NaN(), Lon: 1}, model.Location{Lat: 1, Lon: 1})
	if !math.IsNaN(got) {
		t.Errorf("HaversineKm(NaN) = %v, want NaN", got)
	}
}

func TestHaversineM(t *testing.T) {
	a := model.Location{Lat: 0, Lon: 0}
	b := model.Location{Lat: 0.001, Lon: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}

func TestWithinRadius_MatchesDistance(t *testing.T) {
	center := model.Location{Lat: 19.0760, Lon: 72.8777}
	points := []model.Location{
		center,
		{Lat: 19.1077, Lon: 72.8317},
		{Lat: 19.2, Lon: 72.9},
		{Lat: 18.5204, Lon: 73.8567},
	}
	radii := []float64{0, 1, 5.98, 10, 200}
	for _, p := range points {
		for _, r := range radii {
			want := HaversineKm(center, p) <= r
			if got := WithinRadius(center, p, r); got != want {
				t.Errorf("WithinRadius(%+v, r=%v) = %v, want %v", p, r, got, want)
			}
		}
	}
}

func TestRouteDistanceKm(t *testing.T) {
	route := []model.Location{
		{Lat: 28.7041, Lon: 77.1025},
		{Lat: 28.6500, Lon: 77.1000},
		{Lat: 28.5562, Lon: 77.0889},
	}
	got := RouteDistanceKm(route)
	direct := HaversineKm(route[0], route[2])
	if got < direct {
		t.Errorf("RouteDistanceKm = %v, want >= direct %v", got, direct)
	}
}

func TestStraightLine(t *testing.T) {
	origin := model.Location{Lat: 19.0760, Lon: 72.8777}
	dest := model.Location{Lat: 19.1077, Lon: 72.8317}

	got := StraightLine(origin, dest, DefaultRouteSegments)
	if len(got) != DefaultRouteSegments+1 {
		t.Fatalf("StraightLine: len = %d, want %d", len(got), DefaultRouteSegments+1)
	}
	if got[0] != origin || got[len(got)-1] != dest {
		t.Errorf("StraightLine: endpoints = %+v, %+v", got[0], got[len(got)-1])
	}
	mid := got[DefaultRouteSegments/2]
	if math.Abs(mid.Lat-(origin.Lat+dest.Lat)/2) > 1e-9 {
		t.Errorf("StraightLine: midpoint lat = %v", mid.Lat)
	}
}

func TestNearestWithin_OutOfRadiusExclusion(t *testing.T) {
	center := model.Location{Lat: 19.0760, Lon: 72.8777}
	far := point{"far", model.Location{Lat: center.Lat + 12/kmPerDegreeLat, Lon: center.Lon}}
	edge := point{"edge", model.Location{Lat: center.Lat + 9.99/kmPerDegreeLat, Lon: center.Lon}}
	near := point{"near", model.Location{Lat: center.Lat + 2/kmPerDegreeLat, Lon: center.Lon}}

	got := NearestWithin(center, []point{far, edge, near}, 10)
	if len(got) != 2 {
		t.Fatalf("NearestWithin: len = %d, want 2 (%+v)", len(got), got)
	}
	if got[0].Item.id != "near" || got[1].Item.id != "edge" {
		t.Errorf("NearestWithin order = [%s %s], want [near edge]", got[0].Item.id, got[1].Item.id)
	}
	for _, r := range got {
		if r.Item.id == "far" {
			t.Errorf("NearestWithin included driver at 12 km")
		}
	}
}

func TestNearestWithin_NonDecreasing(t *testing.T) {
	center := model.Location{Lat: 12.9716, Lon: 77.5946}
	var cands []point
	for i := 0; i < 40; i++ {
		// Deterministic scatter around the center.
		dLat := math.Sin(float64(i)*1.7) * 0.08
		dLon := math.Cos(float64(i)*2.3) * 0.08
		cands = append(cands, point{id: string(rune('a' + i%26)), loc: model.Location{Lat: center.Lat + dLat, Lon: center.Lon + dLon}})
	}

	got := NearestWithin(center, cands, 6)
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKm < got[i-1].DistanceKm {
			t.Fatalf("NearestWithin not sorted at %d: %v < %v", i, got[i].DistanceKm, got[i-1].DistanceKm)
		}
	}
	for _, r := range got {
		if r.DistanceKm > 6 {
			t.Errorf("NearestWithin returned candidate at %.3f km > radius", r.DistanceKm)
		}
	}
	inRadius := 0
	for _, c := range cands {
		if HaversineKm(center, c.loc) <= 6 {
			inRadius++
		}
	}
	if len(got) != inRadius {
		t.Errorf("NearestWithin returned %d, want %d", len(got), inRadius)
	}
}

func TestNearestWithin_StableTies(t *testing.T) {
	center := model.Location{Lat: 19.0, Lon: 72.0}
	same := model.Location{Lat: 19.01, Lon: 72.0}
	cands := []point{{"first", same}, {"second", same}, {"third", same}}

	got := NearestWithin(center, cands, 5)
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Item.id != want {
			t.Errorf("tie order[%d] = %s, want %s", i, got[i].Item.id, want)
		}
	}
}

func TestNearestWithin_SkipsUnset(t *testing.T) {
	center := model.Location{Lat: 0.001, Lon: 0.001}
	cands := []point{{"unset", model.Location{}}, {"set", model.Location{Lat: 0.002, Lon: 0.002}}}

	got := NearestWithin(center, cands, 50)
	if len(got) != 1 || got[0].Item.id != "set" {
		t.Errorf("NearestWithin = %+v, want only 'set'", got)
	}
	if ids := Items(got); len(ids) != 1 {
		t.Errorf("Items len = %d, want 1", len(ids))
	}
}
