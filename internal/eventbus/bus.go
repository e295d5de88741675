// Package eventbus implements the in-process publish/subscribe fan-out
// described in spec §4.2: one buffered channel per subscriber, a mutex-
// guarded subscriber map keyed by subscription id in which each subscriber
// filters on its source id (an empty source id receives every event), and
// DB-backed persistence so late subscribers can replay.
// Modelled on the teacher's services/oracle Dispatcher concurrency style:
// mutex-guarded state, a background goroutine, context.CancelFunc shutdown.
package eventbus

import (
	"context"
	"sync"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage"
)

// subscriberBufferSize bounds how many events a slow subscriber can fall
// behind by before new events are dropped for it (spec §4.2: "a subscriber
// that cannot keep up loses events rather than blocking publishers").
const subscriberBufferSize = 256

type subscriber struct {
	id       uint64
	sourceID string // empty means "receives every event" (wildcard)
	ch       chan domain.Event
}

// Bus is the process-local event bus. It persists every published event via
// the Events store before fanning it out, so TailEvents/Replay always agree
// with what subscribers have seen (spec P6: "no event is delivered to a
// live SSE subscriber without also being durably recorded").
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscriber
	nextSubID uint64
	events    storage.Events
	relay     *RedisRelay
}

// New returns a Bus backed by the given Events store for persistence and
// replay.
func New(events storage.Events) *Bus {
	return &Bus{subs: make(map[uint64]*subscriber), events: events}
}

// SetRelay attaches a RedisRelay so every local Publish is also mirrored to
// other controller replicas (spec §9 multi-controller deployment note).
func (b *Bus) SetRelay(relay *RedisRelay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = relay
}

// Publish persists event and fans it out to every subscriber whose
// sourceID matches (or who subscribed to the wildcard). It returns the
// persisted event (with SeqID assigned).
func (b *Bus) Publish(ctx context.Context, event domain.Event) (domain.Event, error) {
	stored, err := b.events.AppendEvent(ctx, event)
	if err != nil {
		return domain.Event{}, err
	}

	b.mu.RLock()
	relay := b.relay
	for _, sub := range b.subs {
		if sub.sourceID != "" && sub.sourceID != stored.SourceID {
			continue
		}
		select {
		case sub.ch <- stored:
		default:
			// Drop-newest: the subscriber is lagging, skip this event
			// rather than block the publisher or evict the subscriber.
		}
	}
	b.mu.RUnlock()

	if relay != nil {
		relay.Mirror(ctx, stored)
	}
	return stored, nil
}

// fanOutOnly delivers an already-persisted event to local subscribers
// without calling AppendEvent again; used by RedisRelay to fan out events
// that originated on another controller replica and share the same
// Postgres-backed events table.
func (b *Bus) fanOutOnly(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.sourceID != "" && sub.sourceID != event.SourceID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscription is a live handle returned by Subscribe; call Close to
// unregister and release the channel.
type Subscription struct {
	C     <-chan domain.Event
	bus   *Bus
	subID uint64
}

func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.subID]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.subID)
	}
}

// Subscribe registers a new listener for sourceID (empty string subscribes
// to every event) and returns a Subscription. Callers must call Close when
// done, typically via defer tied to the request context.
func (b *Bus) Subscribe(sourceID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	sub := &subscriber{id: b.nextSubID, sourceID: sourceID, ch: make(chan domain.Event, subscriberBufferSize)}
	b.subs[sub.id] = sub
	return &Subscription{C: sub.ch, bus: b, subID: sub.id}
}

// Replay returns every persisted event for sourceID with SeqID > afterSeq,
// letting an SSE client resume after a reconnect via Last-Event-Id (spec
// §4.6) without missing anything published while it was disconnected.
func (b *Bus) Replay(ctx context.Context, sourceID string, afterSeq int64) ([]domain.Event, error) {
	return b.events.TailEvents(ctx, sourceID, afterSeq)
}
