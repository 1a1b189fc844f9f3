package service

import (
	"math"

	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/geo"
)

// ─── Fare Configuration ─────────────────────────────────────

// Tariff is the pricing row for one ride type. Fares are whole rupees.
type Tariff struct {
	BaseFare    int     `json:"base_fare"`
	PerKmRate   float64 `json:"per_km_rate"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
}

// FareConfig holds the tariff table. Unknown ride types are priced with the
// Fallback row.
type FareConfig struct {
	Tariffs  map[model.RideType]Tariff
	Fallback model.RideType
}

// DefaultFareConfig returns the published city tariffs.
//
//	type    base  per km  avg speed
//	bike     10      8      35 km/h
//	auto     15     12      30 km/h
//	cab      25     18      45 km/h
//	parcel   20     10      40 km/h
func DefaultFareConfig() FareConfig {
	return FareConfig{
		Tariffs: map[model.RideType]Tariff{
			model.RideTypeBike:   {BaseFare: 10, PerKmRate: 8, AvgSpeedKmh: 35},
			model.RideTypeAuto:   {BaseFare: 15, PerKmRate: 12, AvgSpeedKmh: 30},
			model.RideTypeCab:    {BaseFare: 25, PerKmRate: 18, AvgSpeedKmh: 45},
			model.RideTypeParcel: {BaseFare: 20, PerKmRate: 10, AvgSpeedKmh: 40},
		},
		Fallback: model.RideTypeBike,
	}
}

// ─── FareEstimate ───────────────────────────────────────────

// FareEstimate is the quote for one ride type between two points.
type FareEstimate struct {
	RideType    model.RideType `json:"ride_type"`
	DistanceKm  float64        `json:"distance_km"`
	DurationMin int            `json:"duration_min"`
	Price       int            `json:"price"`
	BaseFare    int            `json:"base_fare"`
	PerKmRate   float64        `json:"per_km_rate"`
}

// ─── PricingService ─────────────────────────────────────────

// PricingService turns distances into fares and travel times.
//
// Formula:
//
//	Price    = max(round(BaseFare + Distance × PerKmRate), BaseFare)
//	Duration = max(round(Distance / AvgSpeed × 60), 1) minutes
//
// Both are pure. A ride's price is computed once, at request time, and
// stored with the ride.
type PricingService struct {
	config FareConfig
}

// NewPricingService creates a pricing service with the given config.
func NewPricingService(config FareConfig) *PricingService {
	return &PricingService{config: config}
}

// TariffFor returns the tariff for rideType, falling back to the cheapest tier.
func (s *PricingService) TariffFor(rideType model.RideType) Tariff {
	if t, ok := s.config.Tariffs[rideType]; ok {
		return t
	}
	return s.config.Tariffs[s.config.Fallback]
}

// Known reports whether rideType has its own tariff row.
func (s *PricingService) Known(rideType model.RideType) bool {
	_, ok := s.config.Tariffs[rideType]
	return ok
}

// EstimateDuration returns the travel time in whole minutes, at least 1.
func (s *PricingService) EstimateDuration(distanceKm float64, rideType model.RideType) int {
	t := s.TariffFor(rideType)
	minutes := int(math.Round(clampDistance(distanceKm) / t.AvgSpeedKmh * 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// EstimatePrice returns the fare in whole rupees, never below the base fare.
func (s *PricingService) EstimatePrice(distanceKm float64, rideType model.RideType) int {
	t := s.TariffFor(rideType)
	price := int(math.Round(float64(t.BaseFare) + clampDistance(distanceKm)*t.PerKmRate))
	if price < t.BaseFare {
		return t.BaseFare
	}
	return price
}

// Quote prices a known distance.
func (s *PricingService) Quote(distanceKm float64, rideType model.RideType) FareEstimate {
	t := s.TariffFor(rideType)
	return FareEstimate{
		RideType:    rideType,
		DistanceKm:  distanceKm,
		DurationMin: s.EstimateDuration(distanceKm, rideType),
		Price:       s.EstimatePrice(distanceKm, rideType),
		BaseFare:    t.BaseFare,
		PerKmRate:   t.PerKmRate,
	}
}

// EstimateFare validates both points and prices the great-circle distance
// between them.
func (s *PricingService) EstimateFare(pickup, destination model.Location, rideType model.RideType) (*FareEstimate, error) {
	if err := pickup.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}
	q := s.Quote(geo.HaversineKm(pickup, destination), rideType)
	return &q, nil
}

// EstimateAllFares quotes every configured ride type, cheapest first.
func (s *PricingService) EstimateAllFares(pickup, destination model.Location) ([]FareEstimate, error) {
	if err := pickup.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}
	d := geo.HaversineKm(pickup, destination)

	out := make([]FareEstimate, 0, len(s.config.Tariffs))
	for _, rt := range []model.RideType{model.RideTypeBike, model.RideTypeAuto, model.RideTypeParcel, model.RideTypeCab} {
		if s.Known(rt) {
			out = append(out, s.Quote(d, rt))
		}
	}
	return out, nil
}

// clampDistance maps NaN and negative distances to 0 so integer conversion
// stays defined. Callers validate locations before pricing.
func clampDistance(d float64) float64 {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}
