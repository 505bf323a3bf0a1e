// Package eventbus implements the Event Bus (C4): publish/subscribe fan-out
// over persisted, immutable events, with a bounded per-subscriber queue and
// a Lagged-disconnect policy so a slow subscriber never stalls publish for
// everyone else.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gofer-hq/gofer/internal/events"
	"github.com/gofer-hq/gofer/internal/gofererr"
	"github.com/gofer-hq/gofer/internal/storage"
)

// DefaultQueueSize bounds each subscriber's channel; a subscriber that can't
// keep up is dropped with Lagged rather than slowing down publish.
const DefaultQueueSize = 50

const DefaultRetention = 7 * 24 * time.Hour

// minPruneInterval bounds how often the pruner sweeps expired events.
const minPruneInterval = 60 * time.Second

// Subscription is a live attachment to the bus. Events delivers in publish
// order; if the subscriber is disconnected for falling behind, Lagged
// receives one value and the Events channel is closed.
type Subscription struct {
	id     string
	filter map[events.Kind]bool
	queue  chan events.Event
	Lagged chan struct{}

	bus *Bus
}

func (s *Subscription) Events() <-chan events.Event { return s.queue }

// Close detaches the subscription from the bus. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus fans published events out to live subscribers and persists them
// through the storage port for replay and durability.
type Bus struct {
	mu          sync.Mutex
	store       storage.EventStore
	retention   time.Duration
	subscribers map[string]*Subscription
	log         zerolog.Logger
}

func New(store storage.EventStore, retention time.Duration, log zerolog.Logger) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		store:       store,
		retention:   retention,
		subscribers: map[string]*Subscription{},
		log:         log.With().Str("component", "eventbus").Logger(),
	}
}

// Run starts the periodic pruner; it blocks until ctx is cancelled, so
// callers should invoke it in its own goroutine.
func (b *Bus) Run(ctx context.Context) {
	ticker := time.NewTicker(minPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.retention).UnixMilli()
			n, err := b.store.PruneEvents(ctx, cutoff)
			if err != nil {
				b.log.Error().Err(err).Msg("prune events failed")
				continue
			}
			if n > 0 {
				b.log.Debug().
					Str("pruned", humanize.Comma(n)).
					Str("retention", humanize.Time(time.Now().Add(-b.retention))).
					Msg("pruned expired events")
			}
		}
	}
}

// Publish persists details as a new Event and fans it out to every matching
// live subscriber, per publish order.
func (b *Bus) Publish(ctx context.Context, details events.Details) (events.Event, error) {
	evt := events.New(details)

	id, err := b.store.InsertEvent(ctx, evt)
	if err != nil {
		return events.Event{}, gofererr.Internal("could not persist event", err)
	}
	evt.ID = id

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		if !events.Matches(sub.filter, evt.Kind) {
			continue
		}

		select {
		case sub.queue <- evt:
		default:
			// Queue full: this subscriber is too slow. Disconnect it rather
			// than block every other subscriber (and publish itself) on it.
			b.disconnectLocked(sub)
		}
	}

	return evt, nil
}

// Subscribe attaches a new live subscriber. If history is true, persisted
// events are delivered first (newest-first if reverse, oldest-first
// otherwise), then the subscription switches to live delivery. The backlog
// is loaded before the subscription exists, so it is sized into a queue
// that can hold it in full rather than sent into a channel nothing is
// draining yet.
func (b *Bus) Subscribe(ctx context.Context, kinds []events.Kind, history, reverse bool) (*Subscription, error) {
	filter := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		filter[k] = true
	}

	var backlog []events.Event
	if history {
		var err error
		backlog, err = b.loadHistory(ctx, filter, reverse)
		if err != nil {
			return nil, err
		}
	}

	queueSize := DefaultQueueSize
	if len(backlog) > queueSize {
		queueSize = len(backlog)
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		queue:  make(chan events.Event, queueSize),
		Lagged: make(chan struct{}, 1),
		bus:    b,
	}

	for _, evt := range backlog {
		sub.queue <- evt
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// loadHistory pages through persisted events and returns every one matching
// filter, in the requested order.
func (b *Bus) loadHistory(ctx context.Context, filter map[events.Kind]bool, reverse bool) ([]events.Event, error) {
	const page = 100
	offset := 0
	var out []events.Event
	for {
		batch, err := b.store.ListEvents(ctx, offset, page, reverse)
		if err != nil {
			return nil, gofererr.Internal("could not list events for replay", err)
		}
		if len(batch) == 0 {
			return out, nil
		}
		for _, evt := range batch {
			if events.Matches(filter, evt.Kind) {
				out = append(out, evt)
			}
		}
		offset += len(batch)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub.id)
}

// disconnectLocked must be called with b.mu held.
func (b *Bus) disconnectLocked(sub *Subscription) {
	delete(b.subscribers, sub.id)
	select {
	case sub.Lagged <- struct{}{}:
	default:
	}
	close(sub.queue)
}
