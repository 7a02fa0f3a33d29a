// Package notify publishes committed events from the store outbox to sinks.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ssd-technologies/arbiter/internal/escrow"
)

// Source is the event outbox.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]escrow.Event, error)
	MarkDelivered(ctx context.Context, ids []string, at time.Time) error
}

// Sink receives events in commit order.
type Sink interface {
	Publish(ctx context.Context, events []escrow.Event) error
}

// Notifier moves events from a Source to its sinks. Delivery is
// at-least-once: a batch is marked delivered only after every sink accepted it.
type Notifier struct {
	src   Source
	sinks []Sink
	batch int
	log   zerolog.Logger
}

// New returns a notifier draining src in batches of batchSize.
func New(src Source, batchSize int, log zerolog.Logger, sinks ...Sink) *Notifier {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Notifier{
		src:   src,
		sinks: sinks,
		batch: batchSize,
		log:   log.With().Str("component", "notifier").Logger(),
	}
}

// Drain publishes pending events until the outbox is empty and returns how
// many were delivered.
func (n *Notifier) Drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		events, err := n.src.PendingEvents(ctx, n.batch)
		if err != nil {
			return delivered, fmt.Errorf("load pending events: %w", err)
		}
		if len(events) == 0 {
			return delivered, nil
		}
		for _, s := range n.sinks {
			if err := s.Publish(ctx, events); err != nil {
				return delivered, fmt.Errorf("publish events: %w", err)
			}
		}
		ids := make([]string, len(events))
		for i, ev := range events {
			ids[i] = ev.ID
		}
		if err := n.src.MarkDelivered(ctx, ids, time.Now()); err != nil {
			return delivered, fmt.Errorf("mark delivered: %w", err)
		}
		delivered += len(events)
		if len(events) < n.batch {
			return delivered, nil
		}
	}
}

// Run drains the outbox every interval until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			count, err := n.Drain(ctx)
			if err != nil {
				n.log.Error().Err(err).Int("delivered", count).Msg("drain outbox")
				continue
			}
			if count > 0 {
				n.log.Debug().Int("delivered", count).Msg("events published")
			}
		}
	}
}

// LogSink writes each event to a logger.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Publish(_ context.Context, events []escrow.Event) error {
	for _, ev := range events {
		s.Log.Info().
			Str("event_id", ev.ID).
			Str("type", ev.Type).
			Str("subject", ev.Subject).
			RawJSON("data", ev.Data).
			Int64("at", ev.At).
			Msg("event")
	}
	return nil
}
