package domain

import "time"

// Lifecycle topics published by the pool and the relay.
const (
	TopicUnitSubmitted = "unit.submitted"
	TopicUnitStarted   = "unit.started"
	TopicUnitCompleted = "unit.completed"
	TopicUnitFailed    = "unit.failed"
	TopicStreamOpened  = "stream.opened"
	TopicStreamClosed  = "stream.closed"
)

// Event represents a message passed through the event bus.
type Event struct {
	Topic     string // e.g. "unit.completed", "stream.closed"
	Data      any
	Timestamp time.Time
}

// NewEvent creates a new event.
func NewEvent(topic string, data any) Event {
	return Event{
		Topic:     topic,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// UnitEvent is the payload of unit.* topics.
type UnitEvent struct {
	UnitID   string
	Op       string
	Slot     int // -1 while queued
	Status   UnitStatus
	Waited   time.Duration // time spent queued
	Duration time.Duration // time spent running
	Err      error
}

// StreamEvent is the payload of stream.* topics.
type StreamEvent struct {
	StreamID  string
	Op        string
	State     StreamState
	Fragments int
	Duration  time.Duration
	Err       error
}

// Publisher is the narrow view of the event bus used by producers of events.
type Publisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// NopPublisher discards events.
var NopPublisher Publisher = nopPublisher{}
