// Package app wires the SignBridge service together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/config"
	"github.com/ayusman/signbridge/internal/detector"
	"github.com/ayusman/signbridge/internal/health"
	"github.com/ayusman/signbridge/internal/observe"
	"github.com/ayusman/signbridge/internal/plugin"
	"github.com/ayusman/signbridge/internal/server"
	"github.com/ayusman/signbridge/internal/session"
	"github.com/ayusman/signbridge/internal/smoothing"
	"github.com/ayusman/signbridge/internal/store"
	"golang.org/x/sync/errgroup"
)

// Option customises New.
type Option func(*App)

// WithLogger sets the root logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithDetector replaces the configured landmark provider.
func WithDetector(d detector.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithVersion sets the version reported in metrics.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// App owns every long-lived component of the service.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	store      *store.Store
	classifier classify.Classifier
	detector   detector.Detector
	provider   *observe.Provider
	metrics    *observe.Metrics
	hooks      *plugin.Hooks
	sessions   *session.Manager
	health     *health.Handler
	server     *server.Server

	closers []func(context.Context) error
}

// New builds the service from cfg. Any failure here is fatal: a classifier
// or detector that cannot be built stops startup.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}

	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.store, err = store.New(cfg.Store.Path); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.store.Close() })

	if a.classifier, err = a.buildClassifier(); err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	if a.detector == nil {
		if a.detector, err = a.buildDetector(); err != nil {
			return nil, fmt.Errorf("start detector: %w", err)
		}
	}
	a.onClose(func(context.Context) error { return a.detector.Close() })

	if a.provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: a.version}); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a.onClose(a.provider.Shutdown)
	if a.metrics, err = observe.NewMetrics(a.provider.MeterProvider()); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	if a.hooks, err = a.buildHooks(); err != nil {
		return nil, fmt.Errorf("load hooks: %w", err)
	}
	a.onClose(a.hooks.Close)

	pipeline := session.NewPipeline(nil, a.detector, a.classifier, cfg.Session.Workers)
	a.sessions = session.NewManager(sessionConfig(cfg), pipeline,
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
		session.WithCommitHandler(a.handleCommit),
	)
	a.onClose(a.sessions.Shutdown)

	a.health = health.New(health.Checker{
		Name:  "store",
		Check: func(context.Context) error { return a.store.Ping() },
	})

	a.server = server.New(server.Config{
		StaticDir:      cfg.Server.StaticDir,
		ReadLimitBytes: cfg.Server.ReadLimitBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Store:          a.store,
		Sessions:       a.sessions,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.provider.Handler(),
		Logger:         a.logger,
	})

	return a, nil
}

func (a *App) buildClassifier() (classify.Classifier, error) {
	cc := a.cfg.Classifier
	if cc.Kind != config.ClassifierPrototype {
		a.logger.Info("using heuristic classifier")
		return classify.NewHeuristic(nil), nil
	}

	stored, err := a.store.Prototypes().List()
	if err != nil {
		return nil, err
	}
	protos := make([]classify.Prototype, 0, len(stored))
	for _, p := range stored {
		protos = append(protos, classify.Prototype{Token: classify.Token(p.Token), Vector: p.Vector})
	}

	m, err := classify.NewPrototypeMatcher(protos, classify.Metric(cc.Metric), cc.RejectDistance)
	if err != nil {
		return nil, err
	}
	if err := a.store.Settings().Set(store.SettingPrototypesChanged, "false"); err != nil {
		a.logger.Warn("failed to clear prototype change flag", "error", err)
	}
	a.logger.Info("using prototype classifier", "prototypes", len(protos), "metric", cc.Metric)
	return m, nil
}

func (a *App) buildDetector() (detector.Detector, error) {
	dc := a.cfg.Detector
	if dc.Kind == config.DetectorMock {
		a.logger.Warn("using mock detector; every frame reads as no hand")
		return detector.NewMockDetector(), nil
	}

	d, err := detector.NewMediaPipeDetector(detector.Config{
		Script:          dc.Script,
		Python:          dc.Python,
		MaxHands:        dc.MaxHands,
		MinConfidence:   dc.MinConfidence,
		MinTrackingConf: dc.MinTrackingConfidence,
		IdleTimeout:     dc.IdleTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("using MediaPipe hand detection")
	return d, nil
}

func (a *App) buildHooks() (*plugin.Hooks, error) {
	mgr := plugin.NewManager(a.cfg.Hooks.Dir, a.logger)
	if err := mgr.Discover(); err != nil {
		return nil, err
	}
	if n := len(mgr.List()); n > 0 {
		a.logger.Info("commit hooks loaded", "count", n, "dir", mgr.PluginDir())
	}
	return plugin.NewHooks(mgr, plugin.NewExecutor(a.cfg.Hooks.TimeoutMS), plugin.DefaultMaxInFlight, a.logger), nil
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := cfg.Smoothing
	return session.Config{
		QueueSize:        cfg.Session.QueueSize,
		MaxFPS:           cfg.Session.MaxFPS,
		IncludeLandmarks: cfg.Session.IncludeLandmarks,
		Smoothing: smoothing.Config{
			Window:         sc.Window,
			MinConfidence:  sc.MinConfidence,
			VoteThreshold:  sc.VoteThreshold,
			StableDuration: time.Duration(sc.StableMS) * time.Millisecond,
			Cooldown:       time.Duration(sc.CooldownMS) * time.Millisecond,
		},
	}
}

// handleCommit appends c to the transcript and notifies hooks.
func (a *App) handleCommit(_ context.Context, c session.Commit) {
	rec := &store.Commit{
		SessionID:  c.SessionID,
		Token:      string(c.Token),
		Confidence: c.Confidence,
		TS:         c.TS,
		StableMS:   c.StableMS,
	}
	if err := a.store.Commits().Create(rec); err != nil {
		a.logger.Error("failed to store commit", "session_id", c.SessionID, "token", c.Token, "error", err)
	}

	a.hooks.Notify(plugin.Request{
		Action:     plugin.ActionCommit,
		Token:      string(c.Token),
		SessionID:  c.SessionID,
		TS:         c.TS,
		Confidence: c.Confidence,
	})
}

// Handler returns the HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Store returns the open store.
func (a *App) Store() *store.Store {
	return a.store
}

// Run listens on the configured address and serves until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		_ = a.Close(context.Background())
		return fmt.Errorf("listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx ends or the server fails, then
// shuts every component down in reverse start order.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Serve(ln)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		a.health.SetDraining()

		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		err := a.server.Shutdown(sctx)
		return errors.Join(err, a.Close(sctx))
	})

	err := g.Wait()
	if err != nil {
		a.logger.Error("stopped with error", "error", err)
	} else {
		a.logger.Info("stopped")
	}
	return err
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component in reverse start order. Serve calls it on
// shutdown; call it directly only when Serve or Run never ran.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
