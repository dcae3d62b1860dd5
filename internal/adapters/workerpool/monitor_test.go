package workerpool

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats Stats

func (f fixedStats) Stats() Stats { return Stats(f) }

func fixedHost(c, m float64) HostSampler {
	return func(context.Context) (float64, float64, error) { return c, m, nil }
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoadMonitor_Sample(t *testing.T) {
	lm := NewLoadMonitor(fixedStats{Size: 4, Busy: 1, Queued: 3}, 0.9, 0.9, zerolog.Nop()).
		WithHostSampler(fixedHost(0.25, 0.5))

	s, err := lm.Sample(context.Background())

	require.NoError(t, err)
	assert.Equal(t, LoadSample{CPU: 0.25, Mem: 0.5, Slots: 0.25, Queued: 3}, s)
	assert.Equal(t, 0.9, lm.GetCPUThreshold())
	assert.Equal(t, 0.9, lm.GetMemThreshold())
}

func TestLoadMonitor_SampleHostError(t *testing.T) {
	lm := NewLoadMonitor(fixedStats{Size: 2, Busy: 2}, 0.9, 0.9, zerolog.Nop()).
		WithHostSampler(func(context.Context) (float64, float64, error) {
			return 0, 0, errors.New("no procfs")
		})

	s, err := lm.Sample(context.Background())

	assert.ErrorContains(t, err, "no procfs")
	assert.Equal(t, 1.0, s.Slots)
}

func TestLoadMonitor_Overloaded(t *testing.T) {
	lm := NewLoadMonitor(fixedStats{}, 0.8, 0.9, zerolog.Nop())

	tests := []struct {
		name string
		s    LoadSample
		want bool
	}{
		{"idle", LoadSample{CPU: 0.1, Mem: 0.2, Slots: 0.2}, false},
		{"cpu", LoadSample{CPU: 0.85}, true},
		{"memory", LoadSample{Mem: 0.95}, true},
		{"full pool, empty queue", LoadSample{Slots: 1}, false},
		{"full pool with backlog", LoadSample{Slots: 1, Queued: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lm.Overloaded(tt.s))
		})
	}
}

func TestLoadMonitor_RunWarns(t *testing.T) {
	var out syncBuffer
	lm := NewLoadMonitor(fixedStats{Size: 1, Busy: 1, Queued: 4}, 0.9, 0.9, zerolog.New(&out)).
		WithHostSampler(fixedHost(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		lm.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Pool under load")
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Contains(t, out.String(), `"queued":4`)
}
