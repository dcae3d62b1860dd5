package domain

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UnitStats is a point-in-time summary of unit and stream outcomes.
type UnitStats struct {
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Abandoned     int           `json:"abandoned"`
	StreamsOK     int           `json:"streams_ok"`
	StreamsFailed int           `json:"streams_failed"`
	Fragments     int           `json:"fragments"`
	AvgLatency    time.Duration `json:"avg_latency"`
	AvgWait       time.Duration `json:"avg_wait"`
	Uptime        time.Duration `json:"uptime"`
}

// UnitStatsCollector aggregates lifecycle events.
type UnitStatsCollector struct {
	mu           sync.RWMutex
	completed    int
	failed       int
	abandoned    int
	streamsOK    int
	streamsFail  int
	fragments    int
	totalLatency time.Duration
	totalWait    time.Duration
	startTime    time.Time
}

// NewUnitStatsCollector creates a new collector.
func NewUnitStatsCollector() *UnitStatsCollector {
	return &UnitStatsCollector{startTime: time.Now()}
}

// Record folds a single event into the totals. Unknown payloads are ignored.
func (c *UnitStatsCollector) Record(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch data := event.Data.(type) {
	case UnitEvent:
		switch data.Status {
		case Completed:
			c.completed++
			c.totalLatency += data.Duration
			c.totalWait += data.Waited
		case Failed:
			c.failed++
			c.totalWait += data.Waited
		case Abandoned:
			c.abandoned++
		}
	case StreamEvent:
		if event.Topic != TopicStreamClosed {
			return
		}
		c.fragments += data.Fragments
		if data.State == StreamClosedOK {
			c.streamsOK++
		} else {
			c.streamsFail++
		}
	}
}

// Stats returns the current statistics.
func (c *UnitStatsCollector) Stats() UnitStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := UnitStats{
		Completed:     c.completed,
		Failed:        c.failed,
		Abandoned:     c.abandoned,
		StreamsOK:     c.streamsOK,
		StreamsFailed: c.streamsFail,
		Fragments:     c.fragments,
		Uptime:        time.Since(c.startTime),
	}
	if c.completed > 0 {
		s.AvgLatency = c.totalLatency / time.Duration(c.completed)
	}
	if ran := c.completed + c.failed; ran > 0 {
		s.AvgWait = c.totalWait / time.Duration(ran)
	}
	return s
}

// LogStats writes the current statistics at info level.
func (c *UnitStatsCollector) LogStats(log zerolog.Logger) {
	s := c.Stats()
	log.Info().
		Int("completed", s.Completed).
		Int("failed", s.Failed).
		Int("abandoned", s.Abandoned).
		Int("streams_ok", s.StreamsOK).
		Int("streams_failed", s.StreamsFailed).
		Int("fragments", s.Fragments).
		Dur("avg_latency", s.AvgLatency).
		Dur("avg_wait", s.AvgWait).
		Msg("unit stats")
}

// Consume records every event from events until the channel is closed.
func (c *UnitStatsCollector) Consume(events <-chan Event) {
	go func() {
		for event := range events {
			c.Record(event)
		}
	}()
}

// StartStatsMonitor logs stats every interval until stopCh is closed.
func (c *UnitStatsCollector) StartStatsMonitor(log zerolog.Logger, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.LogStats(log)
			case <-stopCh:
				return
			}
		}
	}()
}
