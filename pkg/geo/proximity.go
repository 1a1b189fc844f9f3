package geo

import (
	"sort"

	"github.com/shiva/gaadisathi/internal/model"
)

// Positioned is anything with a point that can be ranked by distance:
// drivers (current location) and rides (pickup).
type Positioned interface {
	Position() model.Location
}

// Ranked pairs a candidate with its distance from the search center.
type Ranked[T Positioned] struct {
	Item       T       `json:"item"`
	DistanceKm float64 `json:"distance_km"`
}

// NearestWithin filters candidates to those within radiusKm of center and
// sorts them by ascending distance. Ties keep their input order. Candidates
// with an unset (0, 0) position are skipped.
//
// The result is computed fresh on every call; there is no index to maintain.
//
// Complexity: O(N log N) for N candidates.
func NearestWithin[T Positioned](center model.Location, candidates []T, radiusKm float64) []Ranked[T] {
	out := make([]Ranked[T], 0, len(candidates))
	for _, c := range candidates {
		pos := c.Position()
		if !pos.IsSet() {
			continue
		}
		d := HaversineKm(center, pos)
		if d <= radiusKm {
			out = append(out, Ranked[T]{Item: c, DistanceKm: d})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceKm < out[j].DistanceKm
	})
	return out
}

// Items strips the distances from a ranked list.
func Items[T Positioned](ranked []Ranked[T]) []T {
	out := make([]T, len(ranked))
	for i, r := range ranked {
		out[i] = r.Item
	}
	return out
}
