package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/imagesource"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/metrics"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/openaisdk"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/openrouter"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/tracing"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/vision"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/visionrelay/internal/config"
	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

// service wires the pool, the bus, the observers and the vision client.
type service struct {
	bus     *eventbus.SimpleEventBus
	pool    *workerpool.WorkerPool
	stats   *domain.UnitStatsCollector
	metrics *metrics.Metrics
	tracing *tracing.Provider
	vision  *vision.Client
	log     zerolog.Logger
}

func newService(cfg *config.Config, log zerolog.Logger) (*service, error) {
	log.Info().Msg("Initializing event bus...")
	bus := eventbus.NewSimpleEventBus(cfg.EventBus.BufferSize, log)

	pool, err := workerpool.NewWorkerPool(cfg.WorkerPool.Workers, cfg.WorkerPool.QueueSize,
		workerpool.WithLogger(log),
		workerpool.WithPublisher(bus),
	)
	if err != nil {
		bus.Stop()
		return nil, err
	}

	stats := domain.NewUnitStatsCollector()
	if sub, err := bus.Subscribe(eventbus.AllTopics, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to subscribe stats collector")
	} else {
		stats.Consume(sub)
	}

	m := metrics.New()
	m.RegisterPool(pool)
	if sub, err := bus.Subscribe(eventbus.AllTopics, 0); err != nil {
		log.Warn().Err(err).Msg("Failed to subscribe metrics")
	} else {
		m.Consume(sub)
	}

	tp, err := tracing.New(cfg.System.Tracing, os.Stdout)
	if err != nil {
		pool.Stop()
		bus.Stop()
		return nil, err
	}

	budget := cfg.Budget()
	sup := domain.NewSupervisor(pool, budget, log,
		domain.WithRelayBuffer(cfg.Relay.BufferSize),
		domain.WithRelayPublisher(bus),
		domain.WithTracer(tp.Tracer()),
	)

	transport := openrouter.New(cfg.Vision.CompletionsURL(), cfg.Vision.APIKey,
		openrouter.WithTimeout(budget.Network),
		openrouter.WithHeader("X-Title", "visionrelay"),
		openrouter.WithLogger(log),
	)
	images := imagesource.NewLoader(&http.Client{Timeout: budget.Encode}, cfg.Vision.MaxImageBytes, log).
		WithAllowedHosts(cfg.Vision.AllowedImageHosts)
	if len(cfg.Vision.AllowedImageHosts) == 0 {
		log.Warn().Msg("vision.allowedImageHosts is empty; image URLs may point at any host")
	}

	opts := []vision.Option{
		vision.WithModel(cfg.Vision.Model),
		vision.WithSystemPrompt(cfg.Vision.SystemPrompt),
		vision.WithMaxHistory(cfg.Vision.MaxHistory),
		vision.WithLogger(log),
	}
	if cfg.Vision.Completer == "sdk" {
		log.Info().Msg("Single-shot calls use the OpenAI SDK completer")
		opts = append(opts, vision.WithCompleter(openaisdk.New(openaisdk.Config{
			BaseURL: strings.TrimRight(cfg.Vision.BaseURL, "/") + "/",
			APIKey:  cfg.Vision.APIKey,
			Timeout: budget.Network,
		}, log)))
	}
	if cfg.Vision.APIKey == "" {
		log.Warn().Msg("No API key configured; upstream calls will be rejected")
	}

	return &service{
		bus:     bus,
		pool:    pool,
		stats:   stats,
		metrics: m,
		tracing: tp,
		vision:  vision.NewClient(sup, transport, images, opts...),
		log:     log,
	}, nil
}

// close stops the pool before the bus so final events are still delivered.
func (r *service) close() {
	r.pool.Stop()
	r.bus.Stop()
	r.stats.LogStats(r.log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.log.Warn().Err(err).Msg("Failed to flush traces")
	}
}
