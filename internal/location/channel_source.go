package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shiva/gaadisathi/internal/model"
)

// ChannelSource is a Source fed by pushed fixes, e.g. a driver app
// streaming its GPS over a WebSocket. CurrentPosition returns the latest
// fix, waiting for the first one if none has arrived yet.
type ChannelSource struct {
	mu       sync.Mutex
	latest   *Fix
	arrived  chan struct{} // closed on the first push
	watchers map[chan Fix]struct{}
	closed   bool
}

// NewChannelSource creates an empty source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{
		arrived:  make(chan struct{}),
		watchers: make(map[chan Fix]struct{}),
	}
}

// Push records a fix and fans it out to watchers. A watcher that has not
// read its previous fix gets it replaced.
func (s *ChannelSource) Push(fix Fix) {
	if fix.At.IsZero() {
		fix.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.latest == nil {
		close(s.arrived)
	}
	s.latest = &fix

	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- fix
	}
}

// CurrentPosition returns the latest pushed fix. Accuracy is ignored; the
// device decides its own accuracy.
func (s *ChannelSource) CurrentPosition(ctx context.Context, _ Accuracy) (Fix, error) {
	select {
	case <-s.arrived:
		s.mu.Lock()
		defer s.mu.Unlock()
		return *s.latest, nil
	case <-ctx.Done():
		return Fix{}, fmt.Errorf("%w: no position received: %v", model.ErrProviderUnavailable, ctx.Err())
	}
}

// Watch streams pushed fixes until ctx ends or the source is closed.
func (s *ChannelSource) Watch(ctx context.Context) (<-chan Fix, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: source closed", model.ErrProviderUnavailable)
	}
	ch := make(chan Fix, 1)
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close ends every watch stream. Further pushes are ignored.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}
