package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/storage/memory"
	"github.com/rs/zerolog"
)

func newTestBus() *Bus {
	return New(memory.New(), time.Hour, zerolog.Nop())
}

func TestPublishSubscribeDeliversInOrder(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, []events.Kind{events.KindAny}, false, false)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := bus.Publish(ctx, events.CreatedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, events.DeletedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	first := <-sub.Events()
	second := <-sub.Events()

	if first.Kind != events.KindCreatedNamespace {
		t.Fatalf("expected first event created_namespace, got %s", first.Kind)
	}
	if second.Kind != events.KindDeletedNamespace {
		t.Fatalf("expected second event deleted_namespace, got %s", second.Kind)
	}
}

func TestSubscribeFilterExcludesNonMatchingKinds(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, []events.Kind{events.KindCreatedNamespace}, false, false)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if _, err := bus.Publish(ctx, events.DeletedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, events.CreatedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-sub.Events():
		if evt.Kind != events.KindCreatedNamespace {
			t.Fatalf("expected only created_namespace to pass filter, got %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}

func TestSlowSubscriberDisconnectsWithLagged(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, []events.Kind{events.KindAny}, false, false)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < DefaultQueueSize+5; i++ {
		if _, err := bus.Publish(ctx, events.CreatedNamespace{NamespaceID: "ns1"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	select {
	case <-sub.Lagged:
	default:
		t.Fatal("expected subscriber to be marked Lagged after overflowing its queue")
	}
}

func TestSubscribeHistoryReplaysPersistedEvents(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	if _, err := bus.Publish(ctx, events.CreatedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := bus.Publish(ctx, events.DeletedNamespace{NamespaceID: "ns1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub, err := bus.Subscribe(ctx, []events.Kind{events.KindAny}, true, false)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	first := <-sub.Events()
	second := <-sub.Events()

	if first.Kind != events.KindCreatedNamespace || second.Kind != events.KindDeletedNamespace {
		t.Fatalf("expected replay in oldest-first order, got %s then %s", first.Kind, second.Kind)
	}
}

func TestSubscribeHistoryLargerThanQueueSizeDoesNotDeadlock(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	const backlog = DefaultQueueSize + 20
	for i := 0; i < backlog; i++ {
		if _, err := bus.Publish(ctx, events.CreatedNamespace{NamespaceID: "ns1"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	done := make(chan *Subscription, 1)
	go func() {
		sub, err := bus.Subscribe(ctx, []events.Kind{events.KindAny}, true, false)
		if err != nil {
			t.Errorf("subscribe: %v", err)
			done <- nil
			return
		}
		done <- sub
	}()

	select {
	case sub := <-done:
		if sub == nil {
			return
		}
		defer sub.Close()
		for i := 0; i < backlog; i++ {
			<-sub.Events()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe with a backlog larger than DefaultQueueSize deadlocked")
	}
}
