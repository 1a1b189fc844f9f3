package location

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/pkg/logger"
)

// Sink receives driver positions. The dispatch store implements it.
type Sink interface {
	UpdateDriverLocation(ctx context.Context, driverID string, loc model.Location) error
}

// TrackerConfig holds the push cadence and the watch throttle.
type TrackerConfig struct {
	Interval     time.Duration // periodic push
	MinDistanceM float64
	MinInterval  time.Duration
}

// Tracker keeps one background loop per online driver. Each loop writes
// throttled watch fixes plus a periodic current position to the sink.
type Tracker struct {
	sink Sink
	cfg  TrackerConfig
	log  *logrus.Entry

	mu      sync.Mutex
	running map[string]*trackedDriver
	wg      sync.WaitGroup
}

type trackedDriver struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker writing to sink.
func NewTracker(sink Sink, cfg TrackerConfig) *Tracker {
	return &Tracker{
		sink:    sink,
		cfg:     cfg,
		log:     logger.WithComponent("tracker"),
		running: make(map[string]*trackedDriver),
	}
}

// Start begins tracking driverID from src, replacing any running loop for
// that driver. The loop outlives ctx's request scope: it stops on Stop,
// StopAll, or when src's watch stream ends.
func (t *Tracker) Start(ctx context.Context, driverID string, src Source) error {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	watch, err := src.Watch(loopCtx)
	if err != nil {
		cancel()
		return err
	}

	td := &trackedDriver{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	prev := t.running[driverID]
	t.running[driverID] = td
	t.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	} else {
		metrics.DriversOnline.Inc()
	}

	t.wg.Add(1)
	go t.loop(loopCtx, driverID, src, watch, td)
	t.log.WithField("driver_id", driverID).Info("tracking started")
	return nil
}

// Stop ends tracking for driverID and waits for its loop to exit.
func (t *Tracker) Stop(driverID string) {
	t.mu.Lock()
	td := t.running[driverID]
	delete(t.running, driverID)
	t.mu.Unlock()

	if td == nil {
		return
	}
	td.cancel()
	<-td.done
	metrics.DriversOnline.Dec()
	t.log.WithField("driver_id", driverID).Info("tracking stopped")
}

// StopAll ends every loop. Used on shutdown.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Stop(id)
	}
	t.wg.Wait()
}

// Tracking reports whether a loop is running for driverID.
func (t *Tracker) Tracking(driverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.running[driverID]
	return ok
}

func (t *Tracker) loop(ctx context.Context, driverID string, src Source, watch <-chan Fix, td *trackedDriver) {
	defer t.wg.Done()
	defer close(td.done)

	log := t.log.WithField("driver_id", driverID)
	fixes := Throttle(ctx, watch, t.cfg.MinDistanceM, t.cfg.MinInterval)

	interval := t.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case fix, ok := <-fixes:
			if !ok {
				if ctx.Err() == nil {
					log.Info("position stream ended")
					t.forget(driverID, td)
				}
				return
			}
			t.push(ctx, log, driverID, fix.Location)

		case <-ticker.C:
			// A periodic read that fails is skipped; the driver keeps its
			// last known position rather than jumping to a fallback.
			pctx, cancel := context.WithTimeout(ctx, interval)
			fix, err := src.CurrentPosition(pctx, HighAccuracy)
			cancel()
			if err != nil {
				log.WithError(err).Debug("periodic position unavailable")
				continue
			}
			t.push(ctx, log, driverID, fix.Location)
		}
	}
}

func (t *Tracker) push(ctx context.Context, log *logrus.Entry, driverID string, loc model.Location) {
	if err := loc.Validate(); err != nil {
		log.WithError(err).Debug("dropping invalid fix")
		return
	}
	if err := t.sink.UpdateDriverLocation(ctx, driverID, loc); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("location update failed")
	}
}

// forget removes td if it is still the registered loop for driverID.
func (t *Tracker) forget(driverID string, td *trackedDriver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running[driverID] == td {
		delete(t.running, driverID)
		metrics.DriversOnline.Dec()
	}
}
