package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ChangeFeed broadcasts "collection changed" notices between server
// instances over Redis Pub/Sub. A notice carries no payload; listeners
// re-read whatever they watch.
type ChangeFeed struct {
	client *redis.Client
	prefix string
}

// NewChangeFeed creates a feed whose channels are named prefix + topic.
func NewChangeFeed(client *redis.Client, prefix string) *ChangeFeed {
	return &ChangeFeed{client: client, prefix: prefix}
}

// Notify publishes a change notice on topic.
func (f *ChangeFeed) Notify(ctx context.Context, topic string) error {
	if err := f.client.Publish(ctx, f.prefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("changefeed: publish %s: %w", topic, err)
	}
	return nil
}

// Listen subscribes to topics. The returned channel receives one value per
// notice (coalesced when the reader lags) and is closed when ctx ends.
// go-redis reconnects dropped Pub/Sub connections on its own.
func (f *ChangeFeed) Listen(ctx context.Context, topics ...string) (<-chan struct{}, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = f.prefix + t
	}

	ps := f.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so no notice published after
	// Listen returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("changefeed: subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
