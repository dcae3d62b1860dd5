package eventbus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// AllTopics subscribes to every published event.
const AllTopics = "*"

const defaultBufferSize = 64

// Subscriber is a channel that receives events for a specific topic.
// Use a buffered channel to avoid blocking the publisher.
type Subscriber chan domain.Event

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	domain.Publisher
	Subscribe(topic string, bufferSize int) (Subscriber, error)
	Unsubscribe(topic string, sub Subscriber) error
	Stop()
}

var _ EventBus = (*SimpleEventBus)(nil)

// SimpleEventBus is a basic in-memory event bus implementation using channels.
type SimpleEventBus struct {
	subscribers map[string]map[Subscriber]struct{} // topic -> set of subscribers
	mu          sync.RWMutex
	isStopped   bool
	bufferSize  int
	dropped     atomic.Uint64
	log         zerolog.Logger
}

// NewSimpleEventBus creates a new SimpleEventBus. bufferSize is used by
// Subscribe when the caller passes a non-positive size.
func NewSimpleEventBus(bufferSize int, log zerolog.Logger) *SimpleEventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &SimpleEventBus{
		subscribers: make(map[string]map[Subscriber]struct{}),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Publish sends an event to all subscribers of the event's topic and to
// AllTopics subscribers. Sends never block; a full subscriber misses the event.
func (b *SimpleEventBus) Publish(event domain.Event) {
	// Sends are non-blocking, so holding the read lock keeps Stop from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.isStopped {
		return
	}
	b.deliver(b.subscribers[event.Topic], event)
	if event.Topic != AllTopics {
		b.deliver(b.subscribers[AllTopics], event)
	}
}

func (b *SimpleEventBus) deliver(subs map[Subscriber]struct{}, event domain.Event) {
	for sub := range subs {
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
			b.log.Warn().Str("topic", event.Topic).Msg("event bus subscriber buffer full, event dropped")
		}
	}
}

// Subscribe creates a new subscriber channel for topic, or for every topic
// when topic is AllTopics.
func (b *SimpleEventBus) Subscribe(topic string, bufferSize int) (Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isStopped {
		return nil, fmt.Errorf("eventbus is stopped")
	}
	if bufferSize <= 0 {
		bufferSize = b.bufferSize
	}

	sub := make(Subscriber, bufferSize)
	if _, found := b.subscribers[topic]; !found {
		b.subscribers[topic] = make(map[Subscriber]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.log.Debug().Str("topic", topic).Int("subscribers", len(b.subscribers[topic])).Msg("subscriber added")
	return sub, nil
}

// Unsubscribe removes a subscriber channel from a topic.
// It's the subscriber's responsibility to close their channel.
func (b *SimpleEventBus) Unsubscribe(topic string, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subsMap, found := b.subscribers[topic]
	if !found {
		return fmt.Errorf("topic %s not found", topic)
	}
	if _, ok := subsMap[sub]; !ok {
		return fmt.Errorf("subscriber not found for topic %s", topic)
	}
	delete(subsMap, sub)
	if len(subsMap) == 0 {
		delete(b.subscribers, topic)
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *SimpleEventBus) Dropped() uint64 { return b.dropped.Load() }

// Stop signals the event bus to stop publishing and closes every subscriber
// channel so consumers ranging over them exit.
func (b *SimpleEventBus) Stop() {
	b.mu.Lock()
	if b.isStopped {
		b.mu.Unlock()
		return
	}
	b.isStopped = true
	subs := b.subscribers
	b.subscribers = make(map[string]map[Subscriber]struct{})
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			close(sub)
		}
	}
	b.log.Info().Uint64("dropped", b.dropped.Load()).Msg("SimpleEventBus stopped")
}
