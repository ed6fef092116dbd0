package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/log"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 100
)

// Handler consumes the events of a subscription. The context it gets
// carries the scope the cursor advance commits in.
type Handler interface {
	Handle(ctx context.Context, event eventstore.Descriptor) error
}

type HandlerFunc func(ctx context.Context, event eventstore.Descriptor) error

func (f HandlerFunc) Handle(ctx context.Context, event eventstore.Descriptor) error {
	return f(ctx, event)
}

// Worker feeds a catch-up subscription to a handler. Each record is handled
// and the cursor advanced past it in one scope, so a failed handler leaves
// the cursor where it was and the record is retried on the next poll.
type Worker struct {
	Subscription string
	Handler      Handler
	Registry     *Registry

	PollInterval time.Duration
	BatchSize    int
	// MaxFailures consecutive failed polls stop the worker. 0 never stops.
	MaxFailures int
}

// Run polls until ctx ends, returning nil then.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx = log.WithID(ctx)
	log.Info(ctx, "starting subscription worker", log.F{"subscription": w.Subscription, "interval": interval.String()})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	failures := 0

	for {
		n, err := w.Poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			log.Warn(ctx, "subscription poll failed", log.F{"subscription": w.Subscription, "error": err.Error(), "failures": failures})
			if w.MaxFailures > 0 && failures >= w.MaxFailures {
				return log.Error(ctx, fmt.Errorf("eventcore.subscription: %s stopped after %d failures: %w", w.Subscription, failures, err), log.F{})
			}
		default:
			failures = 0
			if n >= w.batchSize() {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return w.BatchSize
}

// Poll handles one batch, returning how many events were handled. It stops
// at the first failing record. Records the filter dropped at the end of the
// batch are skipped by advancing past them.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	batch, err := w.Registry.Read(ctx, w.Subscription, w.batchSize())
	if err != nil {
		return 0, err
	}

	events := batch.Events
	handled := 0
	for len(events) > 0 {
		n := 1
		for n < len(events) && events[n].EventID == events[0].EventID {
			n++
		}
		group := events[:n]
		events = events[n:]

		err := w.Registry.store.InScope(ctx, func(ctx context.Context) error {
			for _, e := range group {
				if err := w.Handler.Handle(ctx, e); err != nil {
					return fmt.Errorf("handling %s at playhead %d: %w", e.EventType, e.Playhead, err)
				}
			}
			return w.Registry.Advance(ctx, w.Subscription, group[0].EventID)
		})
		if err != nil {
			return handled, err
		}
		handled += n
	}

	if batch.Last.Valid && (len(batch.Events) == 0 || batch.Events[len(batch.Events)-1].EventID != batch.Last.UUID) {
		if err := w.Registry.Advance(ctx, w.Subscription, batch.Last.UUID); err != nil {
			return handled, err
		}
	}
	return handled, nil
}
