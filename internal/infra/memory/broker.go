package memory

import (
	"sync"

	"assessx-live/internal/domain"
	"github.com/rs/zerolog"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Broker is an in-process topic fan-out. Each topic has its own lock so
// publishing in one session never waits on another.
//
// Every subscriber gets a pending queue drained by its own goroutine. Roster
// snapshots replace a snapshot still waiting at the tail of that queue, so a
// burst of joins costs a slow reader one update instead of its subscription.
// Lifecycle events are never coalesced.
type Broker struct {
	buffer int
	log    zerolog.Logger

	mu     sync.RWMutex
	topics map[string]*topic
}

type topic struct {
	mu          sync.Mutex
	closed      bool
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	out  chan domain.Event
	wake chan struct{}
	quit chan struct{}

	// guarded by the topic lock
	pending []domain.Event
}

func NewBroker(buffer int, log zerolog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		buffer: buffer,
		log:    log.With().Str("component", "broker").Logger(),
		topics: make(map[string]*topic),
	}
}

// coalesces reports whether a newer event of this type makes an undelivered
// older one obsolete.
func coalesces(t domain.EventType) bool {
	return t == domain.EventRosterUpdate
}

// Publish queues event for every current subscriber without blocking. A
// subscriber whose queue is full of lifecycle events is dropped and its
// channel closed; the others keep receiving events in publish order.
func (b *Broker) Publish(name string, event domain.Event) {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subscribers {
		n := len(s.pending)
		switch {
		case n > 0 && coalesces(event.Type) && s.pending[n-1].Type == event.Type:
			s.pending[n-1] = event
		case n >= b.buffer:
			t.removeLocked(s)
			b.log.Warn().Str("topic", name).Str("event", string(event.Type)).Msg("dropping slow subscriber")
			continue
		default:
			s.pending = append(s.pending, event)
		}
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Broker) Subscribe(name string) (<-chan domain.Event, func()) {
	t := b.topicFor(name)
	s := &subscriber{
		out:  make(chan domain.Event),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	t.subscribers[s] = struct{}{}
	t.mu.Unlock()
	go t.forward(s)

	cancel := func() {
		t.mu.Lock()
		t.removeLocked(s)
		t.mu.Unlock()
	}
	return s.out, cancel
}

// forward moves queued events to the subscriber channel one at a time and
// closes it once the subscriber is removed.
func (t *topic) forward(s *subscriber) {
	defer close(s.out)
	for {
		t.mu.Lock()
		if len(s.pending) == 0 {
			t.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		if len(s.pending) == 0 {
			s.pending = nil
		}
		t.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}

func (t *topic) removeLocked(s *subscriber) {
	if _, ok := t.subscribers[s]; !ok {
		return
	}
	delete(t.subscribers, s)
	s.pending = nil
	close(s.quit)
}

// Close removes a topic and closes all of its subscriber channels.
func (b *Broker) Close(name string) {
	b.mu.Lock()
	t, ok := b.topics[name]
	delete(b.topics, name)
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for s := range t.subscribers {
		t.removeLocked(s)
	}
}

// Subscribers reports the number of subscribers on a topic.
func (b *Broker) Subscribers(name string) int {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

func (b *Broker) topicFor(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[name]; ok {
		return t
	}
	t = &topic{subscribers: make(map[*subscriber]struct{})}
	b.topics[name] = t
	return t
}
