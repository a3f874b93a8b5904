package broadcast

import (
	"context"
	"fmt"

	"github.com/mimimightyowl/live-poll-bot/internal/domain"
	"github.com/mimimightyowl/live-poll-bot/internal/logging"
	"github.com/mimimightyowl/live-poll-bot/internal/metrics"
	"github.com/mimimightyowl/live-poll-bot/internal/websocket"
)

// subscriberRegistry is the slice of the registry the engine needs.
type subscriberRegistry interface {
	Broadcast(pollID int64, data []byte) websocket.Delivery
}

// Engine pushes fresh results snapshots to every subscriber of a poll.
// Results are fetched per broadcast rather than carried as deltas, so every
// subscriber always sees a fully consistent snapshot.
type Engine struct {
	source   domain.ResultsSource
	registry subscriberRegistry
}

func NewEngine(source domain.ResultsSource, registry subscriberRegistry) *Engine {
	return &Engine{
		source:   source,
		registry: registry,
	}
}

// BroadcastPollUpdate fetches current results for pollID and delivers a
// poll_update envelope to every subscriber. A fetch failure aborts the
// whole broadcast; per-connection delivery failures are counted but never
// abort delivery to the remaining subscribers.
func (e *Engine) BroadcastPollUpdate(ctx context.Context, pollID int64) (websocket.Delivery, error) {
	snapshot, err := e.source.GetPollResults(ctx, pollID)
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues("fetch_failed").Inc()
		return websocket.Delivery{}, err
	}

	message, err := websocket.EncodePollUpdate(pollID, snapshot)
	if err != nil {
		metrics.BroadcastsTotal.WithLabelValues("encode_failed").Inc()
		return websocket.Delivery{}, fmt.Errorf("encoding poll update: %w", err)
	}

	log := logging.WithPoll(pollID)
	delivery := e.registry.Broadcast(pollID, message)
	if delivery.SubscriberCount() == 0 {
		// Normal case: a vote landed on a poll nobody is watching.
		metrics.BroadcastsTotal.WithLabelValues("no_subscribers").Inc()
		log.Debug("No subscribers for poll")
		return delivery, nil
	}

	metrics.BroadcastsTotal.WithLabelValues("sent").Inc()
	log.Info("Broadcast poll update", "sent", delivery.Sent, "failed", delivery.Failed)
	return delivery, nil
}
