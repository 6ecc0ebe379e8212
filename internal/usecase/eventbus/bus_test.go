package eventbus

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"taskgrid/internal/domain"
)

func TestPublishSubscribe(t *testing.T) {
	b := New(slog.Default())
	defer b.Close()

	got := make(chan domain.Event, 1)
	b.Subscribe(domain.EventTaskCompleted, func(_ context.Context, ev domain.Event) {
		got <- ev
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventTaskCompleted, Timestamp: time.Now()})

	select {
	case ev := <-got:
		if ev.Type != domain.EventTaskCompleted {
			t.Errorf("event type = %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestTypedDelivery(t *testing.T) {
	b := New(slog.Default())
	defer b.Close()

	var wrong atomic.Int64
	b.Subscribe(domain.EventTaskFailed, func(context.Context, domain.Event) {
		wrong.Add(1)
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventTaskCompleted})
	time.Sleep(50 * time.Millisecond)
	if wrong.Load() != 0 {
		t.Error("handler received an event of another type")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(slog.Default())
	defer b.Close()

	var calls atomic.Int64
	unsub := b.Subscribe(domain.EventWorkerRespawned, func(context.Context, domain.Event) {
		calls.Add(1)
	})
	unsub()

	b.Publish(context.Background(), domain.Event{Type: domain.EventWorkerRespawned})
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("handler invoked after unsubscribe")
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(slog.Default())
	defer b.Close()

	ok := make(chan struct{}, 1)
	b.Subscribe(domain.EventBatchSeeded, func(context.Context, domain.Event) {
		panic("bad handler")
	})
	b.Subscribe(domain.EventBatchSeeded, func(context.Context, domain.Event) {
		ok <- struct{}{}
	})

	b.Publish(context.Background(), domain.Event{Type: domain.EventBatchSeeded})

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("second handler not invoked after sibling panic")
	}
}

func TestCloseStopsPublish(t *testing.T) {
	b := New(slog.Default())

	var calls atomic.Int64
	b.Subscribe(domain.EventTaskCompleted, func(context.Context, domain.Event) {
		calls.Add(1)
	})

	b.Close()
	b.Publish(context.Background(), domain.Event{Type: domain.EventTaskCompleted})
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 0 {
		t.Error("publish delivered after Close")
	}
	// Idempotent.
	b.Close()
}
