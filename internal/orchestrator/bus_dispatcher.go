package orchestrator

import (
	"context"
	"log/slog"

	"github.com/relayforge/relay/internal/clock"
	"github.com/relayforge/relay/internal/domain"
	"github.com/relayforge/relay/internal/eventbus"
)

// BusDispatcher is an alternate Dispatcher that hands an issue off to the
// event bus instead of running processIssue inline, for deployments where
// the Orchestrator is a separate process/replica set from the Webhook
// Ingress and Poller. Webhook and Poller only depend on the Dispatch
// method, so either this or *Orchestrator itself can be wired in without
// either package knowing which topology it's running under.
type BusDispatcher struct {
	bus     eventbus.Bus
	tracker string
	clk     clock.Clock
	logger  *slog.Logger
}

// NewBusDispatcher constructs a BusDispatcher publishing to bus under the
// given tracker name (e.g. "linear", "github").
func NewBusDispatcher(bus eventbus.Bus, tracker string, clk clock.Clock, logger *slog.Logger) *BusDispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BusDispatcher{bus: bus, tracker: tracker, clk: clk, logger: logger}
}

// Dispatch publishes issue as an Event; it logs rather than returns an
// error, matching the Dispatcher contract.
func (d *BusDispatcher) Dispatch(ctx context.Context, issue domain.Issue) {
	ev := eventbus.NewEvent(issue, d.tracker, d.clk.Now())
	if err := d.bus.Publish(ctx, ev); err != nil {
		d.logger.Error("failed to publish issue event", "issue_id", issue.ID, "error", err)
	}
}

// Consume runs the Orchestrator's processIssue pipeline for every event
// the bus delivers, until ctx is canceled. It is the standalone-process
// counterpart to Dispatch: a relay-orchestrator binary built around
// BusDispatcher's producer side runs Consume as its main loop instead of
// serving HTTP or polling directly.
func (o *Orchestrator) Consume(ctx context.Context, bus eventbus.Bus) error {
	return bus.Subscribe(ctx, func(ctx context.Context, ev eventbus.Event) error {
		o.Dispatch(ctx, ev.Issue)
		return nil
	})
}
