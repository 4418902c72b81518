package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relayforge/relay/internal/domain"
)

func TestInProcessBus_PublishSubscribe(t *testing.T) {
	bus := NewInProcessBus(4)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var received []Event

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Subscribe(ctx, func(ctx context.Context, ev Event) error {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
			if len(received) == 2 {
				cancel()
			}
			return nil
		})
	}()

	ev1 := NewEvent(domain.Issue{ID: "ABC-1"}, "github", time.Unix(0, 0))
	ev2 := NewEvent(domain.Issue{ID: "ABC-2"}, "github", time.Unix(0, 0))
	if err := bus.Publish(context.Background(), ev1); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := bus.Publish(context.Background(), ev2); err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscriber")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Issue.ID != "ABC-1" || received[1].Issue.ID != "ABC-2" {
		t.Errorf("unexpected event order: %+v", received)
	}
}

func TestInProcessBus_PublishRespectsContextCancel(t *testing.T) {
	bus := NewInProcessBus(1)
	bus.Publish(context.Background(), NewEvent(domain.Issue{ID: "ABC-1"}, "github", time.Unix(0, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := bus.Publish(ctx, NewEvent(domain.Issue{ID: "ABC-2"}, "github", time.Unix(0, 0)))
	if err == nil {
		t.Error("expected error publishing to a full buffer with canceled context")
	}
}
