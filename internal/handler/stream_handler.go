package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/shiva/gaadisathi/internal/location"
	"github.com/shiva/gaadisathi/internal/metrics"
	"github.com/shiva/gaadisathi/internal/model"
	"github.com/shiva/gaadisathi/internal/repository"
	"github.com/shiva/gaadisathi/internal/service"
	"github.com/shiva/gaadisathi/pkg/geo"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is one server→client WebSocket message.
type Frame struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Frame types.
const (
	FrameDrivers   = "drivers"
	FrameRides     = "rides"
	FrameRide      = "ride"
	FrameError     = "error"
	FrameStreamEnd = "end"
)

// FixMessage is one client→server position on the driver location stream.
type FixMessage struct {
	Lat       float64 `json:"latitude"`
	Lon       float64 `json:"longitude"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// wsSession serializes writes; gorilla connections allow one writer.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}

func (s *wsSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *wsSession) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// ─── StreamHandler ──────────────────────────────────────────

// StreamHandler serves the live WebSocket streams.
type StreamHandler struct {
	discovery *service.DiscoveryService
	rides     *service.RideService
	drivers   *service.DriverService
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(discovery *service.DiscoveryService, rides *service.RideService, drivers *service.DriverService) *StreamHandler {
	return &StreamHandler{discovery: discovery, rides: rides, drivers: drivers}
}

// NearbyDrivers handles GET /ws/drivers/nearby?lat=..&lon=..&radius_km=5
//
// Sends a "drivers" frame with the full ranked list on every change.
func (h *StreamHandler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius_km", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream(w, r, "nearby_drivers", FrameDrivers, nil, func(ctx context.Context) (*repository.Subscription[[]geo.Ranked[model.Driver]], error) {
		return h.discovery.WatchNearbyDrivers(ctx, center, radius)
	})
}

// NearbyRides handles GET /ws/rides/nearby?lat=..&lon=..&radius_km=10
func (h *StreamHandler) NearbyRides(w http.ResponseWriter, r *http.Request) {
	center, err := queryLocation(r, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	radius, err := queryFloat(r, "radius_km", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream(w, r, "nearby_rides", FrameRides, nil, func(ctx context.Context) (*repository.Subscription[[]geo.Ranked[model.Ride]], error) {
		return h.discovery.WatchNearbyRides(ctx, center, radius)
	})
}

// Ride handles GET /ws/rides/{id}
//
// Sends a "ride" frame on every change; data is null once the ride is gone.
// The stream ends after a completed, cancelled or missing ride is sent.
func (h *StreamHandler) Ride(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	if _, err := h.rides.GetRide(r.Context(), rideID); err != nil {
		writeError(w, r, err)
		return
	}

	stream(w, r, "ride", FrameRide, rideFinished, func(ctx context.Context) (*repository.Subscription[*model.Ride], error) {
		return h.discovery.WatchRide(ctx, rideID)
	})
}

func rideFinished(ride *model.Ride) bool {
	return ride == nil || ride.Status.IsTerminal()
}

// stream opens a subscription, upgrades, and forwards every snapshot as a
// frame until either side goes away, or until last reports a snapshot as
// the final one. Open errors are answered as plain HTTP errors before the
// upgrade.
func stream[T any](w http.ResponseWriter, r *http.Request, kind, frameType string, last func(T) bool, open func(context.Context) (*repository.Subscription[T], error)) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := open(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("stream", kind).Debug("upgrade failed")
		return
	}
	defer conn.Close()

	metrics.ActiveSubscriptions.WithLabelValues(kind).Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues(kind).Dec()

	session := &wsSession{conn: conn}
	entry := log.WithFields(logrus.Fields{"stream": kind, "request_id": r.Header.Get("X-Request-ID")})
	entry.Debug("stream opened")

	// Subscribers send nothing; reading only services pings and detects
	// the client going away.
	go func() {
		defer cancel()
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-sub.C:
			if !ok {
				if err := sub.Err(); err != nil {
					entry.WithError(err).Warn("stream failed")
					_ = session.send(Frame{Type: FrameError, Error: err.Error()})
					session.close(websocket.CloseInternalServerErr, "stream failed")
					return
				}
				_ = session.send(Frame{Type: FrameStreamEnd})
				session.close(websocket.CloseNormalClosure, "")
				return
			}
			if err := session.send(Frame{Type: frameType, Data: snap}); err != nil {
				return
			}
			if last != nil && last(snap) {
				_ = session.send(Frame{Type: FrameStreamEnd})
				session.close(websocket.CloseNormalClosure, "")
				entry.Debug("stream finished")
				return
			}

		case <-ticker.C:
			if err := session.ping(); err != nil {
				return
			}

		case <-ctx.Done():
			entry.Debug("stream closed")
			return
		}
	}
}

// DriverLocation handles GET /ws/drivers/{id}/location[?online=true]
//
// The driver app streams FixMessage JSON; each valid fix feeds a
// ChannelSource tracked into the store (throttled, plus a periodic push).
// With online=true the driver also goes online once the stream opens.
// Closing the stream stops tracking but leaves presence unchanged.
func (h *StreamHandler) DriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]
	goOnline := r.URL.Query().Get("online") == "true"

	src := location.NewChannelSource()
	defer src.Close()

	// Ownership is checked before the upgrade so failures are plain HTTP.
	if err := h.drivers.Track(r.Context(), driverID, src); err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithField("stream", "driver_location").Debug("upgrade failed")
		return
	}
	defer conn.Close()

	metrics.ActiveSubscriptions.WithLabelValues("driver_location").Inc()
	defer metrics.ActiveSubscriptions.WithLabelValues("driver_location").Dec()

	session := &wsSession{conn: conn}
	dlog := log.WithField("driver_id", driverID)
	dlog.Info("driver location stream opened")

	if goOnline {
		go func() {
			if err := h.drivers.SetOnline(r.Context(), driverID, true, src); err != nil {
				_ = session.send(Frame{Type: FrameError, Error: err.Error()})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := session.ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				dlog.WithError(err).Warn("driver location stream error")
			}
			dlog.Info("driver location stream closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		fix, err := parseFix(raw)
		if err != nil {
			_ = session.send(Frame{Type: FrameError, Error: err.Error()})
			continue
		}
		src.Push(fix)
	}
}

func parseFix(raw []byte) (location.Fix, error) {
	var msg FixMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return location.Fix{}, fmt.Errorf("%w: malformed fix: %v", model.ErrInvalidInput, err)
	}
	loc := model.Location{Lat: msg.Lat, Lon: msg.Lon}
	if err := loc.Validate(); err != nil {
		return location.Fix{}, err
	}
	return location.Fix{Location: loc, AccuracyM: msg.AccuracyM, At: time.Now()}, nil
}
