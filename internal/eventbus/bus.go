package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/relay/internal/domain"
)

// Event is one issue ready for the Orchestrator's processIssue pipeline.
// The full Issue travels with the event (rather than just its id) so an
// AMQP-backed consumer running in a separate process never needs its own
// tracker client just to re-fetch what the webhook already received.
type Event struct {
	ID        string
	Tracker   string
	Issue     domain.Issue
	Timestamp time.Time
}

// NewEvent stamps a fresh event id.
func NewEvent(issue domain.Issue, tracker string, now time.Time) Event {
	return Event{ID: uuid.NewString(), Tracker: tracker, Issue: issue, Timestamp: now}
}

// Handler processes one Event. Returning an error nacks the delivery,
// if the underlying transport supports redelivery.
type Handler func(ctx context.Context, ev Event) error

// Bus hands issue-ready events from producers (Webhook Ingress, Poller)
// to the Orchestrator's consumer loop.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// InProcessBus is the default Bus: a buffered channel, no external
// dependency, used whenever RABBITMQ_URL is unset. Grounded on the
// teacher's own "RabbitMQ not available, running in polling-only mode"
// degradation path.
type InProcessBus struct {
	ch chan Event
}

// NewInProcessBus constructs a buffered in-process Bus.
func NewInProcessBus(buffer int) *InProcessBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &InProcessBus{ch: make(chan Event, buffer)}
}

// Publish enqueues ev, blocking if the buffer is full and ctx permits.
func (b *InProcessBus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe runs handler for every event until ctx is canceled or the
// bus is closed. Handler errors are swallowed: there is no redelivery
// semantic for an in-process channel.
func (b *InProcessBus) Subscribe(ctx context.Context, handler Handler) error {
	for {
		select {
		case ev, ok := <-b.ch:
			if !ok {
				return nil
			}
			_ = handler(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains no in-flight events; it simply closes the channel so a
// blocked Subscribe returns.
func (b *InProcessBus) Close() error {
	close(b.ch)
	return nil
}
