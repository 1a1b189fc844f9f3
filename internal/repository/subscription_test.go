package repository

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubscription_LatestWins(t *testing.T) {
	sub, _ := NewSubscription[int](context.Background())
	defer sub.Cancel()

	for i := 1; i <= 5; i++ {
		if !sub.Publish(i) {
			t.Fatalf("Publish(%d) = false on open subscription", i)
		}
	}
	if got := <-sub.C; got != 5 {
		t.Errorf("first read = %d, want 5 (latest)", got)
	}
	select {
	case v := <-sub.C:
		t.Errorf("backlog delivered %d", v)
	default:
	}
}

func TestSubscription_FailReportsErr(t *testing.T) {
	sub, ctx := NewSubscription[string](context.Background())
	boom := errors.New("watch broken")
	sub.Fail(boom)

	if _, ok := <-sub.C; ok {
		t.Error("channel still open after Fail")
	}
	if !errors.Is(sub.Err(), boom) {
		t.Errorf("Err = %v, want %v", sub.Err(), boom)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("producer context not cancelled")
	}
	if sub.Publish("late") {
		t.Error("Publish after Fail = true")
	}
}

func TestSubscription_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	sub, _ := NewSubscription[int](parent)
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("unexpected snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with its parent context")
	}
}

func TestMap_PipesAndPropagates(t *testing.T) {
	src, _ := NewSubscription[int](context.Background())
	dst := Map(src, func(v int) int { return v * 10 })

	src.Publish(4)
	select {
	case v := <-dst.C:
		if v != 40 {
			t.Errorf("mapped = %d, want 40", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no mapped snapshot")
	}

	boom := errors.New("gone")
	src.Fail(boom)
	select {
	case _, ok := <-dst.C:
		if ok {
			t.Fatal("unexpected snapshot after source failure")
		}
	case <-time.After(time.Second):
		t.Fatal("mapped subscription not closed")
	}
	if !errors.Is(dst.Err(), boom) {
		t.Errorf("dst.Err = %v, want %v", dst.Err(), boom)
	}
}

func TestMap_CancelReleasesSource(t *testing.T) {
	src, srcCtx := NewSubscription[int](context.Background())
	dst := Map(src, func(v int) int { return v })
	dst.Cancel()

	select {
	case <-srcCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("source not cancelled with mapped subscription")
	}
}
