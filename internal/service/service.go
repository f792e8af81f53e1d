// Package service wires one worker process: a workflow worker, an activity
// worker on the common queue and an activity worker on this process's own
// affinity queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"image-processing-flow/internal/activities"
	"image-processing-flow/internal/affinity"
	"image-processing-flow/internal/config"
	"image-processing-flow/internal/logging"
	"image-processing-flow/internal/metrics"
	"image-processing-flow/internal/objectstore"
	"image-processing-flow/internal/pipeline"
	"image-processing-flow/internal/workflows"
	"net/http"
	"os"
	"sync"
	"time"
)

type Service struct {
	cfg    config.Config
	logger zerolog.Logger

	client   client.Client
	redis    *redis.Client
	registry *affinity.Registry
	metrics  *metrics.Recorder
	token    pipeline.AffinityToken
	hostname string

	store     *activities.Store
	transform *activities.Transform
	affinity  *activities.Affinity

	workers   []worker.Worker
	server    *http.Server
	cancel    context.CancelFunc
	// keepAlive tracks only the announcement refresher; wg tracks the rest.
	keepAlive sync.WaitGroup
	wg        sync.WaitGroup
	stop      sync.Once
}

// New dials Temporal and Redis and builds every component. Nothing polls
// until Start.
func New(cfg config.Config, logger zerolog.Logger) (*Service, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create temporal client: %w", err)
	}

	store, err := objectstore.New(cfg.Storage)
	if err != nil {
		c.Close()
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	s, err := newService(cfg, logger, c, rdb, store)
	if err != nil {
		c.Close()
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

func newService(cfg config.Config, logger zerolog.Logger, c client.Client, rdb *redis.Client, store objectstore.Store) (*Service, error) {
	hostname := cfg.Worker.Hostname
	if hostname == "" {
		var err error
		if hostname, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("unable to resolve hostname: %w", err)
		}
	}

	ws, err := activities.NewWorkspace(cfg.Worker.LocalDir)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	token := affinity.NewToken(cfg.Temporal.CommonQueue, hostname)
	registry := affinity.NewRegistry(rdb,
		affinity.WithPrefix(cfg.Redis.Prefix),
		affinity.WithTTL(cfg.Worker.AffinityTTL),
	)

	return &Service{
		cfg:      cfg,
		logger:   logger.With().Str("affinity", string(token)).Logger(),
		client:   c,
		redis:    rdb,
		registry: registry,
		metrics:  m,
		token:    token,
		hostname: hostname,
		store: activities.NewStore(store, ws, token, activities.StoreOptions{
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			PresignExpiry:     cfg.Worker.PresignExpiry,
			Metrics:           m,
		}),
		transform: activities.NewTransform(ws, m),
		affinity:  activities.NewAffinity(registry),
	}, nil
}

func (s *Service) Token() pipeline.AffinityToken {
	return s.token
}

// register places each workflow and activity on the queue it is scheduled
// on: the orchestrator on the workflow queue, downloads and affinity checks
// on the common queue, and everything touching local files on this
// process's own queue.
func (s *Service) register(wf, common, host worker.Registry) {
	p := &workflows.Pipeline{CommonQueue: s.cfg.Temporal.CommonQueue}
	wf.RegisterWorkflowWithOptions(p.ProcessImage, workflow.RegisterOptions{Name: workflows.WorkflowName})

	common.RegisterActivity(s.store)
	common.RegisterActivity(s.affinity)

	host.RegisterActivity(s.store)
	host.RegisterActivity(s.transform)
}

// Start announces this worker, starts all three workers and the metrics
// endpoint. Workers are stopped again if any fails to start.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.Announce(ctx, s.token, s.hostname); err != nil {
		return fmt.Errorf("unable to announce worker: %w", err)
	}
	s.metrics.Announced(true)

	wf := worker.New(s.client, s.cfg.Temporal.WorkflowQueue, worker.Options{})
	common := worker.New(s.client, s.cfg.Temporal.CommonQueue, worker.Options{})
	host := worker.New(s.client, string(s.token), worker.Options{})
	s.register(wf, common, host)

	for _, w := range []worker.Worker{wf, common, host} {
		if err := w.Start(); err != nil {
			s.Stop()
			return fmt.Errorf("unable to start worker: %w", err)
		}
		s.workers = append(s.workers, w)
	}

	s.startKeepAlive()

	if s.cfg.Metrics.Addr != "" {
		s.startMetrics()
	}

	s.logger.Info().
		Str("workflow_queue", s.cfg.Temporal.WorkflowQueue).
		Str("common_queue", s.cfg.Temporal.CommonQueue).
		Msg("workers started")
	return nil
}

func (s *Service) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.keepAlive.Add(1)
	go func() {
		defer s.keepAlive.Done()
		s.registry.KeepAlive(ctx, s.token, s.hostname, s.keepAliveInterval(), func(err error) {
			s.logger.Warn().Err(err).Msg("failed to refresh affinity announcement")
		})
	}()
}

func (s *Service) keepAliveInterval() time.Duration {
	if interval := s.cfg.Worker.AffinityTTL / 3; interval > 0 {
		return interval
	}
	return 10 * time.Second
}

func (s *Service) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.server = &http.Server{
		Addr:              s.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.cfg.Metrics.Addr).Msg("metrics server failed")
		}
	}()
}

// Stop stops polling, withdraws the announcement so pending runs bound to
// this worker fail fast, and releases every connection. Only the first call
// has an effect.
func (s *Service) Stop() {
	s.stop.Do(s.shutdown)
}

func (s *Service) shutdown() {
	for i := len(s.workers) - 1; i >= 0; i-- {
		s.workers[i].Stop()
	}
	s.workers = nil

	if s.cancel != nil {
		s.cancel()
	}
	// A refresh still in flight would re-announce after the withdraw.
	s.keepAlive.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("metrics server shutdown failed")
		}
	}
	if err := s.registry.Withdraw(ctx, s.token); err != nil {
		s.logger.Warn().Err(err).Msg("failed to withdraw affinity announcement")
	}
	s.metrics.Announced(false)
	s.wg.Wait()

	if err := s.redis.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close redis client")
	}
	s.client.Close()
	s.logger.Info().Msg("workers stopped")
}
