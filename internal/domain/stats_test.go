package domain

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUnitStatsCollector(t *testing.T) {
	c := NewUnitStatsCollector()

	c.Record(NewEvent(TopicUnitSubmitted, UnitEvent{Status: Pending}))
	c.Record(NewEvent(TopicUnitCompleted, UnitEvent{Status: Completed, Duration: 3 * time.Second, Waited: time.Second}))
	c.Record(NewEvent(TopicUnitCompleted, UnitEvent{Status: Completed, Duration: time.Second}))
	c.Record(NewEvent(TopicUnitFailed, UnitEvent{Status: Failed, Waited: 2 * time.Second}))
	c.Record(NewEvent(TopicUnitFailed, UnitEvent{Status: Abandoned}))
	c.Record(NewEvent(TopicStreamOpened, StreamEvent{State: StreamOpen}))
	c.Record(NewEvent(TopicStreamClosed, StreamEvent{State: StreamClosedOK, Fragments: 4}))
	c.Record(NewEvent(TopicStreamClosed, StreamEvent{State: StreamClosedError, Fragments: 1}))
	c.Record(NewEvent("other", "ignored"))

	s := c.Stats()
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Abandoned)
	assert.Equal(t, 1, s.StreamsOK)
	assert.Equal(t, 1, s.StreamsFailed)
	assert.Equal(t, 5, s.Fragments)
	assert.Equal(t, 2*time.Second, s.AvgLatency)
	assert.Equal(t, time.Second, s.AvgWait)
}

func TestUnitStatsCollector_Consume(t *testing.T) {
	c := NewUnitStatsCollector()
	events := make(chan Event, 2)
	c.Consume(events)

	events <- NewEvent(TopicUnitCompleted, UnitEvent{Status: Completed})
	events <- NewEvent(TopicUnitFailed, UnitEvent{Status: Failed})
	close(events)

	assert.Eventually(t, func() bool {
		s := c.Stats()
		return s.Completed == 1 && s.Failed == 1
	}, time.Second, 5*time.Millisecond)

	var buf bytes.Buffer
	c.LogStats(zerolog.New(&buf))
	assert.Contains(t, buf.String(), `"completed":1`)
	assert.Contains(t, buf.String(), `"message":"unit stats"`)
}
