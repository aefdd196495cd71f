package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"kiln_control/internal/logger"
)

type Topic string

type Event = any

// Topics published inside the process.
const (
	TopicState Topic = "state" // supervisor.Snapshot
	TopicEvent Topic = "event" // supervisor.Event
	TopicPower Topic = "power" // sensor.PowerReading
)

// Stats counts bus traffic.
type Stats struct {
	Events   int64
	Sent     int64
	Replaced int64
	Dropped  int64
}

type subscriber struct {
	ch     chan Event
	latest bool // replace the pending value instead of queueing
}

// Bus is an in-memory pub/sub. Latest-value subscribers only ever hold the
// newest event; queued subscribers buffer up to their capacity and drop the
// oldest when full. Publish never blocks, so the regulation loop can call it.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[uint64]subscriber
	last      map[Topic]Event
	idCounter atomic.Uint64
	closed    atomic.Bool
	log       *logger.Logger

	events   atomic.Int64
	sent     atomic.Int64
	replaced atomic.Int64
	dropped  atomic.Int64
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		subs: make(map[Topic]map[uint64]subscriber),
		last: make(map[Topic]Event),
		log:  logger.OrNop(log),
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Events:   b.events.Load(),
		Sent:     b.sent.Load(),
		Replaced: b.replaced.Load(),
		Dropped:  b.dropped.Load(),
	}
}

// Publish stores ev as the last value of topic and delivers it to every subscriber.
func (b *Bus) Publish(topic Topic, ev Event) {
	if b.closed.Load() {
		return
	}
	b.events.Add(1)

	// delivery never blocks, so it is done under the lock; channels are
	// only closed while holding it too
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[topic] = ev
	for _, s := range b.subs[topic] {
		b.deliver(s, ev)
	}
}

// deliver never blocks: a full channel loses its oldest value.
func (b *Bus) deliver(s subscriber, ev Event) {
	select {
	case s.ch <- ev:
		b.sent.Add(1)
		return
	default:
	}

	select {
	case <-s.ch:
		b.replaced.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
		b.sent.Add(1)
	default:
		b.dropped.Add(1)
		b.log.Warnw("bus_event_dropped", "latest_only", s.latest)
	}
}

// Subscribe returns a latest-value channel for topic. With withLast the
// stored value is delivered first. The channel closes when ctx ends or
// unsubscribe is called.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, withLast bool) (<-chan Event, func()) {
	return b.subscribe(ctx, topic, 1, true, withLast)
}

// SubscribeQueue returns a buffered channel that keeps every event up to size.
func (b *Bus) SubscribeQueue(ctx context.Context, topic Topic, size int) (<-chan Event, func()) {
	if size < 1 {
		size = 1
	}
	return b.subscribe(ctx, topic, size, false, false)
}

func (b *Bus) subscribe(ctx context.Context, topic Topic, size int, latest, withLast bool) (<-chan Event, func()) {
	if b.closed.Load() {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	s := subscriber{ch: make(chan Event, size), latest: latest}
	id := b.idCounter.Add(1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]subscriber)
	}
	b.subs[topic][id] = s
	if last, ok := b.last[topic]; ok && withLast {
		b.deliver(s, last)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsub := func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[topic]; ok {
			if _, ok := m[id]; ok {
				delete(m, id)
				close(s.ch)
			}
			if len(m) == 0 {
				delete(b.subs, topic)
			}
		}
	}()

	return s.ch, unsub
}

// Last returns the last published event for topic.
func (b *Bus) Last(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		for _, s := range m {
			close(s.ch)
		}
	}
	b.subs = map[Topic]map[uint64]subscriber{}
	b.last = map[Topic]Event{}
}
