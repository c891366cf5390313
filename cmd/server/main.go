// Package main runs the outcome service:
// - HTTP API (submissions, preview, history, due follow-ups)
// - Live outcome feed (websocket)
// - Follow-up reminder scheduler
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"control-tower/internal/api"
	"control-tower/internal/config"
	"control-tower/internal/domain"
	"control-tower/internal/feed"
	"control-tower/internal/followup"
	"control-tower/internal/observability"
	"control-tower/internal/storage"
	chstore "control-tower/internal/storage/clickhouse"
	"control-tower/internal/storage/memory"
	"control-tower/internal/storage/migrations"
	pgstore "control-tower/internal/storage/postgres"
	"control-tower/internal/submission"
)

// Server holds all components of the service.
type Server struct {
	cfg    *config.Config
	stores *allStores
	logger zerolog.Logger

	hub       *feed.Hub
	adapter   *submission.Adapter
	scheduler *followup.Scheduler

	mu         sync.Mutex
	started    time.Time
	submitted  int
	lastRecord time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	outcomeStore storage.OutcomeStore
	factStore    storage.OutcomeFactStore
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred store cleanup always runs.
func run(args []string) error {
	if err := config.LoadEnvFile(); err != nil {
		return err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Optional YAML settings file")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (overrides config)")
	useMemory := fs.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *useMemory {
		os.Setenv("USE_MEMORY", "true")
	}
	if *httpAddr != "" {
		os.Setenv("HTTP_ADDR", *httpAddr)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.With().Str("component", "server").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	server := newServer(cfg, stores, logger)

	// Closed when Run returns
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func newServer(cfg *config.Config, stores *allStores, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		stores: stores,
		logger: logger,
	}

	s.hub = feed.NewHub(&feed.Config{
		BufferSize:   cfg.Feed.BufferSize,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}, logger)

	s.adapter = submission.NewAdapter(submission.Options{
		Store: stores.outcomeStore,
		Publishers: []submission.Publisher{
			submission.FactPublisher{Store: stores.factStore},
			s.hub,
		},
		FollowupWindow: cfg.FollowupWindow(),
		Logger:         logger,
		OnSubmitted:    s.onSubmitted,
	})

	s.scheduler = followup.New(followup.Options{
		Store:    stores.outcomeStore,
		Notifier: s.hub,
		Interval: cfg.ScanInterval(),
		Logger:   logger,
	})

	return s
}

// createStores creates the outcome and fact stores, running migrations for
// the database backends.
func createStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*allStores, func(), error) {
	if cfg.UseMemory {
		logger.Warn().Msg("using in-memory storage, records are lost on exit")
		return &allStores{
			outcomeStore: memory.NewOutcomeStore(),
			factStore:    memory.NewOutcomeFactStore(),
		}, func() {}, nil
	}

	timeout := cfg.ConnectTimeoutDuration()

	// PostgreSQL
	pool, err := pgstore.NewPoolWithRetry(ctx, cfg.PostgresDSN, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info().Strs("versions", applied).Msg("applied postgres migrations")
	}

	// ClickHouse
	var chConn *chstore.Conn
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = timeout
	err = backoff.Retry(func() error {
		var err error
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			logger.Warn().Err(err).Msg("clickhouse not ready, retrying")
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL is the system of record
		outcomeStore: pgstore.NewOutcomeStore(pool),
		// ClickHouse holds analytics facts
		factStore: chstore.NewOutcomeFactStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Run starts the HTTP server and scheduler and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()

	handler := &api.Handler{
		Submitter:  s.adapter,
		Store:      s.stores.outcomeStore,
		Facts:      s.stores.factStore,
		Classifier: s.cfg.Classifier(),
		Feed:       s.hub,
		Limiter:    rate.NewLimiter(rate.Limit(s.cfg.RateLimit.PerSecond), s.cfg.RateLimit.Burst),
		Status:     func() any { return s.status() },
		Logger:     s.logger,
	}

	httpServer := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		s.logger.Info().Str("addr", s.cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		err := s.scheduler.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("followup scheduler: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case runErr = <-errCh:
	}

	// Close the feed first: hijacked websocket connections are not tracked by Shutdown.
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("http shutdown")
	}

	return runErr
}

func (s *Server) onSubmitted(r *domain.OutcomeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	s.lastRecord = r.RecordedAt
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string          `json:"status"`
	Uptime          string          `json:"uptime"`
	Storage         string          `json:"storage"`
	Submitted       int             `json:"submitted"`
	LastRecordedAt  time.Time       `json:"last_recorded_at,omitempty"`
	FeedSubscribers int             `json:"feed_subscribers"`
	Followups       followup.Status `json:"followups"`
}

func (s *Server) status() StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	backend := "postgres+clickhouse"
	if s.cfg.UseMemory {
		backend = "memory"
	}

	return StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).Round(time.Second).String(),
		Storage:         backend,
		Submitted:       s.submitted,
		LastRecordedAt:  s.lastRecord,
		FeedSubscribers: s.hub.Subscribers(),
		Followups:       s.scheduler.Status(),
	}
}
