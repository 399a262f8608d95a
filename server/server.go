// Package server provides the HTTP service of the gosdm delivery machine.
//
// The server accepts pushes, plans goals for them through the analyzer,
// advances active lifecycles on a cron schedule and exposes their state.
//
// # Endpoints
//
//   - GET /health - Returns "ok" while the lifecycle store is reachable
//   - GET /api/status - Build info, lifecycle counts and the next tick
//   - GET /lifecycles - Lifecycle listing, ?active=true for active ones only
//   - GET /lifecycles/{id} - One lifecycle with its goals
//   - GET /lifecycles/{id}/logs - Captured goal logs and progress lines
//   - POST /pushes - Plans goals for a push
//   - POST /lifecycles/{id}/cancel - Cancels a lifecycle
//   - POST /tick - Advances active lifecycles immediately
//   - GET /config - Returns the redacted delivery configuration as YAML or JSON
//   - POST /reload - Reloads the delivery configuration from disk
//   - POST /store/reload - Re-reads the disk store (disk store only)
//   - GET /metrics - Prometheus metrics
//
// # Architecture
//
// Config-derived dependencies (the delivery config and the analyzer with
// its goal sets) are swapped atomically on reload. The runner keeps its
// lifecycles across reloads; active lifecycles use the rebuilt goal
// definitions from their next event. The store, metrics and GitHub status
// publisher are fixed at startup.
//
// # Example
//
//	srv, err := server.New("/etc/gosdm/delivery.yaml",
//	    server.WithListenAddr(":8080"),
//	    server.WithCron("tick:@every 15s;prune:0 3 * * *"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/nomis52/gosdm/config"
	"github.com/nomis52/gosdm/ghstatus"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/kube"
	"github.com/nomis52/gosdm/metrics"
	"github.com/nomis52/gosdm/readiness"
	"github.com/nomis52/gosdm/server/cron"
	"github.com/nomis52/gosdm/server/handlers"
	"github.com/nomis52/gosdm/server/runner"
	"github.com/nomis52/gosdm/workflows"
	"github.com/nomis52/gosdm/workflows/testdeploy"
)

const (
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultListenAddr      = ":8080"
)

// serverDeps holds config-derived dependencies that are swapped atomically on reload.
type serverDeps struct {
	config   *config.Config
	analyzer *interpret.Analyzer
}

// Server is the HTTP server of the delivery machine.
type Server struct {
	addr       string
	configPath string
	cronSpec   string
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	deps       atomic.Pointer[serverDeps]

	// target overrides the cluster built from the kubernetes config section.
	target kube.Target
	store  runner.Store

	registry    *metrics.ScrapeRegistry
	publisher   *runner.AsyncObserver
	runner      *runner.Runner
	cronManager *cron.CronTriggerManager
	httpServer  *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithCron configures the jobs the server runs on a schedule, in the form
// "tick:@every 15s;prune:0 3 * * *". The available jobs are tick and prune.
func WithCron(spec string) Option {
	return func(s *Server) error {
		s.cronSpec = spec
		return nil
	}
}

// WithListenAddr configures the address the server listens on.
// Default is ":8080".
func WithListenAddr(addr string) Option {
	return func(s *Server) error {
		s.addr = addr
		return nil
	}
}

// WithTarget deploys to t instead of the cluster named in the configuration.
func WithTarget(t kube.Target) Option {
	return func(s *Server) error {
		s.target = t
		return nil
	}
}

// WithStore persists lifecycles in st instead of the store named in the
// configuration.
func WithStore(st runner.Store) Option {
	return func(s *Server) error {
		s.store = st
		return nil
	}
}

// WithLogger replaces the server's JSON logger on stderr.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// New creates a new Server with the given delivery config path and options.
// It loads the configuration and initializes all dependencies.
func New(configPath string, opts ...Option) (*Server, error) {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelInfo)

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})

	s := &Server{
		addr:       defaultListenAddr,
		configPath: configPath,
		logger:     slog.New(handler),
		logLevel:   logLevel,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	cfg := s.Config()

	if s.store == nil {
		st, err := openStore(context.Background(), cfg.Store, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = st
	}

	registry, err := metrics.NewScrapeRegistry()
	if err != nil {
		return nil, fmt.Errorf("creating metrics registry: %w", err)
	}
	s.registry = registry
	lifecycleMetrics, err := metrics.NewLifecycleMetrics(registry)
	if err != nil {
		return nil, err
	}

	runnerOpts := []runner.Option{
		runner.WithStore(s.store),
		runner.WithRetention(cfg.Store.Retention),
		runner.WithAsyncDispatch(context.Background()),
		runner.WithObserver(runner.NewTransitionLog(s.logger)),
		runner.WithObserver(lifecycleMetrics),
	}
	if cfg.GitHub.Token != "" {
		gh, err := ghstatus.NewClient(context.Background(), cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		publisher := ghstatus.NewPublisher(gh,
			ghstatus.WithContextPrefix(cfg.GitHub.ContextPrefix),
			ghstatus.WithTargetURL(cfg.GitHub.TargetURL),
			ghstatus.WithLogger(s.logger))
		s.publisher = runner.NewAsyncObserver(publisher, runner.DefaultObserverQueue, s.logger)
		runnerOpts = append(runnerOpts, runner.WithObserver(s.publisher))
	}

	s.runner, err = runner.New(s.logger, s.deps.Load().analyzer, runnerOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	if s.cronSpec != "" {
		jobs := map[string]cron.Job{
			"tick": s.runner.Run,
			"prune": func() error {
				n, err := s.runner.Prune(context.Background())
				if n > 0 {
					s.logger.Info("pruned lifecycles", "count", n)
				}
				return err
			},
		}
		s.cronManager, err = cron.NewCronTriggerManager(s.cronSpec, jobs, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating cron triggers: %w", err)
		}
	}

	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogLevel changes the server's log level at runtime.
func (s *Server) SetLogLevel(level slog.Level) {
	s.logLevel.Set(level)
}

// Reload reads the delivery config from disk and rebuilds the goal sets.
func (s *Server) Reload() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}

	target := s.target
	if target == nil {
		client, err := kube.NewClientFromConfig(cfg.Kubernetes.Kubeconfig, cfg.Kubernetes.Context,
			kube.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("connecting to cluster: %w", err)
		}
		target = client
	}

	checker := readiness.NewClient(
		readiness.WithHTTPClient(&http.Client{Timeout: cfg.Verify.Timeout}),
		readiness.WithRateLimit(cfg.Verify.RateLimit, cfg.Verify.Burst),
		readiness.WithLogger(s.logger),
	)

	interp, err := testdeploy.NewInterpreter(workflows.Params{
		Config:    &cfg,
		Logger:    s.logger,
		Target:    target,
		Readiness: checker,
	})
	if err != nil {
		return err
	}

	analyzer := interpret.NewAnalyzer(
		interpret.WithInterpreter(interp),
		interpret.WithDisabledRepos(cfg.Delivery.DisabledRepos...),
		interpret.WithLogger(s.logger),
	)

	if s.runner != nil {
		if err := s.runner.SetAnalyzer(analyzer); err != nil {
			return err
		}
	}

	s.deps.Store(&serverDeps{
		config:   &cfg,
		analyzer: analyzer,
	})

	s.logger.Info("configuration loaded", "config_path", s.configPath, "workspace_id", cfg.WorkspaceID)

	return nil
}

// Config returns the current configuration.
func (s *Server) Config() *config.Config {
	return s.deps.Load().config
}

// Runner returns the lifecycle runner.
func (s *Server) Runner() *runner.Runner {
	return s.runner
}

// NextRun returns the next scheduled cron run, or nil if no cron is configured.
func (s *Server) NextRun() *time.Time {
	if s.cronManager == nil {
		return nil
	}
	next := s.cronManager.NextRun()
	if next.IsZero() {
		return nil
	}
	return &next
}

// Summary counts stored lifecycles by outcome.
func (s *Server) Summary(ctx context.Context) (runner.Summary, error) {
	return s.runner.Summary(ctx)
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// Lifecycles left active by a previous process are restored first, and the
// cron triggers are started if configured.
func (s *Server) Run(ctx context.Context) error {
	if err := s.runner.Restore(ctx); err != nil {
		s.logger.Warn("failed to restore some lifecycles", "error", err)
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	if s.cronManager != nil {
		s.logger.Info("starting cron triggers",
			"next_run", s.cronManager.NextRun(),
		)
		s.cronManager.Start(ctx)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", s.addr,
			"config_path", s.configPath,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case err := <-errCh:
		s.release()
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		s.release()
		return err
	}
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.Handle("GET /health", handlers.NewHealthHandler(s.logger, s.runner))
	mux.Handle("GET /api/status", handlers.NewAPIStatusHandler(s.logger, s))
	mux.Handle("GET /lifecycles", handlers.NewListLifecyclesHandler(s.runner))
	mux.Handle("GET /lifecycles/{id}", handlers.NewLifecycleHandler(s.runner))
	mux.Handle("GET /lifecycles/{id}/logs", handlers.NewLogsHandler(s.runner))
	mux.Handle("POST /pushes", handlers.NewPushHandler(s.logger, s.runner))
	mux.Handle("POST /lifecycles/{id}/cancel", handlers.NewCancelHandler(s.logger, s.runner))
	mux.Handle("POST /tick", handlers.NewTickHandler(s.logger, s.runner))
	mux.Handle("GET /config", handlers.NewConfigHandler(s))
	mux.Handle("POST /reload", handlers.NewReloadHandler(s.logger, s, s))
	mux.Handle("GET /metrics", s.registry.Handler())

	if rs, ok := s.store.(handlers.ReloadableStore); ok {
		mux.Handle("POST /store/reload", handlers.NewStoreReloadHandler(s.logger, rs))
	}
}

// release flushes queued status updates and closes the lifecycle store.
func (s *Server) release() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close lifecycle store", "error", err)
		}
	}
}

// openStore builds the lifecycle store named by cfg.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (runner.Store, error) {
	switch cfg.Type {
	case config.StoreDisk:
		st, err := runner.NewDiskStore(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorePostgres:
		st, err := runner.OpenPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreMemory, "":
		return runner.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}
