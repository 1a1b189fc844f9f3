// Package location resolves device positions: one-shot lookups with
// accuracy tiers and a fixed fallback, throttled watch streams, and a
// per-driver tracker that keeps the store's driver location fresh.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// Accuracy selects the positioning tier.
type Accuracy int

const (
	HighAccuracy Accuracy = iota
	LowAccuracy
)

func (a Accuracy) String() string {
	if a == HighAccuracy {
		return "high"
	}
	return "low"
}

// Fix is one position reading.
type Fix struct {
	Location  model.Location `json:"location"`
	AccuracyM float64        `json:"accuracy_m,omitempty"`
	At        time.Time      `json:"at"`
}

// Source is a device position provider. Failures wrap
// model.ErrProviderUnavailable.
type Source interface {
	// CurrentPosition returns one fix, honoring ctx's deadline.
	CurrentPosition(ctx context.Context, acc Accuracy) (Fix, error)
	// Watch streams fixes until ctx ends, then closes the channel.
	Watch(ctx context.Context) (<-chan Fix, error)
}

// ─── Locator ────────────────────────────────────────────────

// LocatorConfig holds the tier timeouts and the fallback point.
type LocatorConfig struct {
	Fallback         model.Location
	HighAccuracyWait time.Duration
	LowAccuracyWait  time.Duration
}

// Locator answers "where am I" and never fails: high accuracy first, then
// low accuracy, then the configured fallback location.
type Locator struct {
	src Source
	cfg LocatorConfig
	log *logrus.Entry
}

// NewLocator creates a locator over src.
func NewLocator(src Source, cfg LocatorConfig) *Locator {
	return &Locator{src: src, cfg: cfg, log: logger.WithComponent("location")}
}

// Current returns the best available position. usedFallback is true when
// both tiers failed and the fallback location was returned.
func (l *Locator) Current(ctx context.Context) (loc model.Location, usedFallback bool) {
	tiers := []struct {
		acc  Accuracy
		wait time.Duration
	}{
		{HighAccuracy, l.cfg.HighAccuracyWait},
		{LowAccuracy, l.cfg.LowAccuracyWait},
	}

	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		fix, err := l.tryTier(ctx, tier.acc, tier.wait)
		if err == nil {
			return fix.Location, false
		}
		l.log.WithError(err).WithField("accuracy", tier.acc.String()).Debug("position tier failed")
	}

	metrics.LocationFallbacks.Inc()
	l.log.WithField("fallback", l.cfg.Fallback).Warn("position unavailable, using fallback location")
	return l.cfg.Fallback, true
}

func (l *Locator) tryTier(ctx context.Context, acc Accuracy, wait time.Duration) (Fix, error) {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	fix, err := l.src.CurrentPosition(ctx, acc)
	if err != nil {
		return Fix{}, err
	}
	if err := fix.Location.Validate(); err != nil {
		return Fix{}, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err)
	}
	return fix, nil
}
