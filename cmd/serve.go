package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/httpapi"
	"github.com/ZanzyTHEbar/visionrelay/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/visionrelay/internal/config"
	"github.com/ZanzyTHEbar/visionrelay/internal/logging"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr          string
		statsInterval time.Duration
		shutdownWait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Addr = addr
			}
			return serve(c, statsInterval, shutdownWait)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "How often to log unit stats and sample load (0 disables)")
	cmd.Flags().DurationVar(&shutdownWait, "shutdown-timeout", 15*time.Second, "Grace period for in-flight requests")
	return cmd
}

func serve(c *cli, statsInterval, shutdownWait time.Duration) error {
	log := c.log
	log.Info().Msg("Starting visionrelay...")

	svc, err := newService(c.cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	uploadDir, err := os.MkdirTemp("", "visionrelay-uploads-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(uploadDir)

	gin.SetMode(c.cfg.Server.Mode)
	router := httpapi.NewRouter(httpapi.Options{
		Vision:    svc.vision,
		Pool:      svc.pool,
		Stats:     svc.stats,
		Metrics:   svc.metrics,
		UploadDir: uploadDir,
		MaxUpload: c.cfg.Vision.MaxImageBytes,
		Log:       log,
	})

	srv := &http.Server{
		Addr:              c.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopStats := make(chan struct{})
	defer close(stopStats)
	if statsInterval > 0 {
		svc.stats.StartStatsMonitor(log, statsInterval, stopStats)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := os.Stat(c.configFile); err == nil && c.logLevel == "" {
		go func() {
			err := config.Watch(ctx, c.configFile, log, func(next *config.Config) {
				lvl := logging.SetLevel(next.System.LogLevel)
				log.Info().Str("level", lvl.String()).Msg("Log level applied")
			})
			if err != nil {
				log.Warn().Err(err).Msg("Config reload disabled")
			}
		}()
	}

	if statsInterval > 0 {
		monitor := workerpool.NewLoadMonitor(svc.pool,
			c.cfg.WorkerPool.CPUThreshold, c.cfg.WorkerPool.MemThreshold, log)
		go monitor.Run(ctx, statsInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("model", svc.vision.Model()).
			Int("workers", svc.pool.Size()).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown incomplete")
	}
	log.Info().Msg("visionrelay shutdown complete")
	return nil
}
