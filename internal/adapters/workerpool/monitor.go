package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadSample is one reading of host and pool load. Fractions are 0.0 to 1.0.
type LoadSample struct {
	CPU    float64 `json:"cpu"`
	Mem    float64 `json:"mem"`
	Slots  float64 `json:"slots"` // busy slots over pool size
	Queued int     `json:"queued"`
}

// HostSampler reads CPU and memory usage fractions.
type HostSampler func(ctx context.Context) (cpuUsage, memUsage float64, err error)

// LoadMonitor tracks system resource usage next to pool occupancy.
type LoadMonitor struct {
	pool         interface{ Stats() Stats }
	cpuThreshold float64
	memThreshold float64
	host         HostSampler
	log          zerolog.Logger
}

// NewLoadMonitor creates a new LoadMonitor with given thresholds.
func NewLoadMonitor(pool interface{ Stats() Stats }, cpuThreshold, memThreshold float64, log zerolog.Logger) *LoadMonitor {
	return &LoadMonitor{
		pool:         pool,
		cpuThreshold: cpuThreshold,
		memThreshold: memThreshold,
		host:         gopsutilSampler,
		log:          log.With().Str("component", "load-monitor").Logger(),
	}
}

// WithHostSampler replaces the gopsutil reader.
func (lm *LoadMonitor) WithHostSampler(s HostSampler) *LoadMonitor {
	lm.host = s
	return lm
}

func gopsutilSampler(ctx context.Context) (float64, float64, error) {
	percent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, fmt.Errorf("cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("memory usage: %w", err)
	}
	var c float64
	if len(percent) > 0 {
		c = percent[0] / 100.0
	}
	return c, vm.UsedPercent / 100.0, nil
}

// Sample takes one reading. Host errors leave CPU and Mem at zero.
func (lm *LoadMonitor) Sample(ctx context.Context) (LoadSample, error) {
	st := lm.pool.Stats()
	s := LoadSample{Queued: st.Queued}
	if st.Size > 0 {
		s.Slots = float64(st.Busy) / float64(st.Size)
	}
	c, m, err := lm.host(ctx)
	if err != nil {
		return s, err
	}
	s.CPU, s.Mem = c, m
	return s, nil
}

// Overloaded reports whether s crosses a threshold or has every slot busy
// with work still queued.
func (lm *LoadMonitor) Overloaded(s LoadSample) bool {
	if s.CPU >= lm.cpuThreshold || s.Mem >= lm.memThreshold {
		return true
	}
	return s.Slots >= 1 && s.Queued > 0
}

// Run samples every interval until ctx is done, warning while overloaded.
func (lm *LoadMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := lm.Sample(ctx)
			if err != nil {
				lm.log.Debug().Err(err).Msg("Host sample failed")
			}
			if lm.Overloaded(s) {
				lm.log.Warn().
					Float64("cpu", s.CPU).
					Float64("mem", s.Mem).
					Float64("slots", s.Slots).
					Int("queued", s.Queued).
					Msg("Pool under load")
			}
		}
	}
}

// GetCPUThreshold returns the configured CPU threshold.
func (lm *LoadMonitor) GetCPUThreshold() float64 {
	return lm.cpuThreshold
}

// GetMemThreshold returns the configured Memory threshold.
func (lm *LoadMonitor) GetMemThreshold() float64 {
	return lm.memThreshold
}
