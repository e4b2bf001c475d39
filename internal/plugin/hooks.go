package plugin

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrent hook runs when Hooks is created with
// a non-positive limit.
const DefaultMaxInFlight = 8

// Hooks fans requests out to every plugin that handles them. Runs happen in
// the background; Notify never blocks the caller.
type Hooks struct {
	manager  *Manager
	executor *Executor
	logger   *slog.Logger
	sem      *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHooks creates a runner over the plugins known to manager. At most
// maxInFlight runs execute at once; requests beyond that are dropped.
func NewHooks(manager *Manager, executor *Executor, maxInFlight int, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight < 1 {
		maxInFlight = DefaultMaxInFlight
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hooks{
		manager:  manager,
		executor: executor,
		logger:   logger.With("component", "hooks"),
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Notify starts a run of req on every matching plugin and returns the
// number of runs started.
func (h *Hooks) Notify(req Request) int {
	if h.ctx.Err() != nil {
		return 0
	}

	started := 0
	for _, p := range h.manager.List() {
		if !p.Handles(req.Action, req.Token) {
			continue
		}
		if !h.sem.TryAcquire(1) {
			h.logger.Warn("hook saturated, skipping", "plugin", p.Manifest.Name, "token", req.Token)
			continue
		}

		h.wg.Add(1)
		started++
		go func(p *Plugin) {
			defer h.wg.Done()
			defer h.sem.Release(1)
			h.run(p, req)
		}(p)
	}
	return started
}

func (h *Hooks) run(p *Plugin, req Request) {
	log := h.logger.With("plugin", p.Manifest.Name, "token", req.Token, "session_id", req.SessionID)

	resp, err := h.executor.Execute(h.ctx, p, &req)
	switch {
	case err != nil:
		log.Warn("hook failed", "error", err)
	case !resp.Success:
		log.Warn("hook reported failure", "error", resp.Error)
	default:
		log.Debug("hook completed")
	}
}

// Wait blocks until every started run has finished.
func (h *Hooks) Wait() {
	h.wg.Wait()
}

// Close stops accepting requests, kills outstanding runs and waits for them
// to exit or ctx to end.
func (h *Hooks) Close(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
