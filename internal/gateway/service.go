package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/buiilding/Nova-Voice/internal/config"
	"github.com/buiilding/Nova-Voice/internal/logger"
	"github.com/buiilding/Nova-Voice/internal/session"
	"github.com/buiilding/Nova-Voice/internal/stream"
	"github.com/buiilding/Nova-Voice/internal/vad"
)

// Service is one gateway instance: the WebSocket server plus all per-client
// machinery behind it. Instances are stateless apart from connected sockets;
// all durable state lives in Redis.
type Service struct {
	cfg      *config.Config
	instance string
	server   *http.Server
}

// InstanceID builds the identifier stamped into job envelopes published by
// this process.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "gateway"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// New wires a gateway service from its dependencies.
func New(cfg *config.Config, redisClient *redis.Client, detector *vad.Detector) *Service {
	instance := InstanceID()

	store := session.NewStore(redisClient,
		session.WithTTL(cfg.SessionExpiration),
		session.WithDefaultLanguages(cfg.DefaultSourceLanguage, cfg.DefaultTargetLanguage),
	)
	flows := NewRegistry()
	jobs := stream.NewStream(redisClient, config.AudioJobsStream)
	bus := stream.NewResultBus(redisClient)

	dispatcher := NewDispatcher(cfg, jobs, flows, instance)
	engine := NewEngine(cfg, detector, store, dispatcher)
	router := NewRouter(store, flows, dispatcher)
	handler := NewHandler(engine, router, flows, store, bus)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)

	return &Service{
		cfg:      cfg,
		instance: instance,
		server: &http.Server{
			Addr:              cfg.GatewayAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Instance returns the service's instance identifier.
func (s *Service) Instance() string {
	return s.instance
}

// Run serves WebSocket connections until the context is cancelled, then
// shuts the server down gracefully.
func (s *Service) Run(ctx context.Context) error {
	logger.Info("gateway listening", "addr", s.cfg.GatewayAddr, "instance", s.instance)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
