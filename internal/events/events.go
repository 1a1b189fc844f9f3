// Package events publishes ride lifecycle events for downstream consumers
// (billing, analytics, notifications).
package events

import (
	"context"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
)

// Event types.
const (
	RideRequested      = "ride.requested"
	RideAccepted       = "ride.accepted"
	RideStatusChanged  = "ride.status_changed"
	DriverOnlineChange = "driver.online_changed"
	DriverCreated      = "driver.created"
)

// Event is one lifecycle fact. Key is used as the partition key so all
// events of one ride (or driver) stay ordered.
type Event struct {
	Type     string           `json:"type"`
	Key      string           `json:"-"`
	RideID   string           `json:"ride_id,omitempty"`
	DriverID string           `json:"driver_id,omitempty"`
	UserID   string           `json:"user_id,omitempty"`
	Status   model.RideStatus `json:"status,omitempty"`
	Online   *bool            `json:"online,omitempty"`
	Price    int              `json:"price,omitempty"`
	At       time.Time        `json:"at"`
}

// ForRide builds an event keyed by the ride id.
func ForRide(eventType string, r *model.Ride) Event {
	return Event{
		Type:     eventType,
		Key:      r.ID,
		RideID:   r.ID,
		DriverID: r.DriverID,
		UserID:   r.UserID,
		Status:   r.Status,
		Price:    r.Price,
		At:       time.Now().UTC(),
	}
}

// ForDriver builds an event keyed by the driver id.
func ForDriver(eventType, driverID string, online *bool) Event {
	return Event{
		Type:     eventType,
		Key:      driverID,
		DriverID: driverID,
		Online:   online,
		At:       time.Now().UTC(),
	}
}

// Publisher sends events. Publishing is best effort: callers log failures
// and carry on, since the store write has already happened.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder buffering up to size events.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.ch <- e:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events drains and returns everything recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
