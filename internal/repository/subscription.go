package repository

import (
	"context"
	"sync"
)

// Subscription is a live stream of full snapshots.
//
// C holds at most one undelivered snapshot: a newer snapshot replaces an
// unread older one, so a slow consumer always reads the latest state and
// never a backlog. C is closed when the stream ends; Err then reports why
// (nil after Cancel).
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	err    error
}

// NewSubscription creates an open subscription. The returned context is
// cancelled when the subscription ends; producers stop on it and release
// their watch resources.
func NewSubscription[T any](parent context.Context) (*Subscription[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan T, 1)
	s := &Subscription[T]{C: ch, ch: ch, ctx: ctx, cancel: cancel}

	go func() {
		<-ctx.Done()
		s.finish(nil)
	}()
	return s, ctx
}

// Publish offers a snapshot, replacing any undelivered one. It never blocks.
// Returns false once the subscription has ended.
func (s *Subscription[T]) Publish(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
	return true
}

// Fail ends the subscription with err.
func (s *Subscription[T]) Fail(err error) {
	s.finish(err)
	s.cancel()
}

// Cancel stops delivery and releases the underlying watch. Idempotent.
func (s *Subscription[T]) Cancel() {
	s.finish(nil)
	s.cancel()
}

// Done is closed when the subscription ends.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err reports the error that ended the stream, if any.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription[T]) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Map pipes every snapshot of src through fn. Cancelling the result cancels
// src; src ending ends the result with the same error.
func Map[T, U any](src *Subscription[T], fn func(T) U) *Subscription[U] {
	dst, ctx := NewSubscription[U](context.Background())

	go func() {
		defer src.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-src.C:
				if !ok {
					if err := src.Err(); err != nil {
						dst.Fail(err)
					} else {
						dst.Cancel()
					}
					return
				}
				dst.Publish(fn(v))
			}
		}
	}()
	return dst
}
