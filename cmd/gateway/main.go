// Command gateway runs a WebSocket gateway instance: client ingest, dual-VAD
// speech sessions, job dispatch, and result routing.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/gateway"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/metrics"
	"github.com/buiilding/Nova-Voice/internal/vad"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis unreachable", "error", err)
		os.Exit(1)
	}

	coarse, err := vad.NewEnergyFrameClassifier(cfg.WebRTCSensitivity)
	if err != nil {
		logger.Error("coarse vad init failed", "error", err)
		os.Exit(1)
	}
	detector, err := vad.NewDetector(coarse, vad.NewEnergyWindowScorer(), cfg.SileroSensitivity)
	if err != nil {
		logger.Error("vad init failed", "error", err)
		os.Exit(1)
	}

	service := gateway.New(cfg, client, detector)
	exporter := metrics.NewExporter(cfg.MetricsAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(ctx) })
	g.Go(func() error {
		if err := exporter.Start(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return exporter.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}
