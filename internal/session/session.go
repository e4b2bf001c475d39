// Package session runs one recognition pipeline per connected client.
//
// Each Session owns a smoothing.Machine and a single worker goroutine that
// consumes a bounded frame queue, so frames are applied strictly in arrival
// order. When the queue is full the oldest pending frame is discarded.
// Detection is bounded across all sessions by the shared Pipeline.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/signbridge/internal/classify"
	"github.com/ayusman/signbridge/internal/observe"
	"github.com/ayusman/signbridge/internal/protocol"
	"github.com/ayusman/signbridge/internal/smoothing"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned by operations on a closed session or manager.
	ErrClosed = errors.New("session closed")
	// ErrUnknownSession is returned by Close for an id that is not open.
	ErrUnknownSession = errors.New("unknown session")
	// ErrRateLimited is returned by Submit when a frame exceeds the
	// session's frame budget. The frame is dropped.
	ErrRateLimited = errors.New("frame rate exceeded")
)

// DefaultQueueSize is the per-session pending frame capacity.
const DefaultQueueSize = 4

// Sender delivers predictions to the session's client.
type Sender interface {
	Send(ctx context.Context, p protocol.Prediction) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p protocol.Prediction) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, p protocol.Prediction) error {
	return f(ctx, p)
}

// Commit describes one committed word.
type Commit struct {
	SessionID  string
	Token      classify.Token
	Confidence float64
	TS         int64
	StableMS   int64
}

// CommitHandler is notified of every commit. It runs on the session worker
// and must not block.
type CommitHandler func(ctx context.Context, c Commit)

// Config tunes sessions created by a Manager.
type Config struct {
	QueueSize        int
	MaxFPS           float64 // 0 disables rate limiting
	IncludeLandmarks bool
	Smoothing        smoothing.Config
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// WithCommitHandler registers a handler for commits.
func WithCommitHandler(h CommitHandler) Option {
	return func(m *Manager) { m.onCommit = h }
}

// Manager creates, tracks and tears down sessions.
type Manager struct {
	cfg      Config
	pipeline *Pipeline
	logger   *slog.Logger
	metrics  *observe.Metrics
	onCommit CommitHandler

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a Manager running frames through p.
func NewManager(cfg Config, p *Pipeline, opts ...Option) *Manager {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	m := &Manager{
		cfg:      cfg,
		pipeline: p,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Open starts a session that sends predictions through sender. An empty id
// is replaced with a random UUID. The session lives until Close, Shutdown,
// ctx cancellation or a send failure.
func (m *Manager) Open(ctx context.Context, id string, sender Sender) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.sessions[id]; ok {
		return nil, fmt.Errorf("session %s already open", id)
	}

	sctx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		id:      id,
		mgr:     m,
		ctx:     sctx,
		cancel:  cancel,
		sender:  sender,
		queue:   make(chan protocol.Frame, m.cfg.QueueSize),
		done:    make(chan struct{}),
		machine: smoothing.New(m.cfg.Smoothing),
		logger:  m.logger.With("session_id", id),
		started: time.Now(),
	}
	if m.cfg.MaxFPS > 0 {
		burst := int(m.cfg.MaxFPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.MaxFPS), burst)
	}

	m.sessions[id] = s
	m.metrics.ActiveSessions.Add(ctx, 1)
	go s.run()

	s.logger.Info("session opened")
	return s, nil
}

// Get returns the open session with id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down the session with id and waits for its worker to exit.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	s.stop()
	return nil
}

// Shutdown closes every session and refuses new ones. It returns ctx.Err()
// if workers are still running when ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		open = append(open, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.cancel(ErrClosed)
	}
	for _, s := range open {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// release forgets s once its worker has exited.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
	m.metrics.ActiveSessions.Add(context.Background(), -1)
}

// Session is one client's recognition stream.
type Session struct {
	id      string
	mgr     *Manager
	ctx     context.Context
	cancel  context.CancelCauseFunc
	sender  Sender
	limiter *rate.Limiter
	logger  *slog.Logger
	started time.Time

	submitMu sync.Mutex
	queue    chan protocol.Frame
	done     chan struct{}

	// worker-owned
	machine *smoothing.Machine
	lastTS  int64
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session's worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is running.
func (s *Session) Err() error {
	return context.Cause(s.ctx)
}

// HandleMessage parses one inbound message and submits it. Malformed
// messages are logged and dropped.
func (s *Session) HandleMessage(data []byte) error {
	met := s.mgr.metrics
	met.FramesReceived.Add(s.ctx, 1)

	f, err := protocol.ParseFrame(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame", "error", err)
		met.RecordDrop(s.ctx, observe.DropMalformed)
		return err
	}
	return s.Submit(f)
}

// Submit queues a validated frame. When the queue is full the oldest
// pending frame is discarded to make room.
func (s *Session) Submit(f protocol.Frame) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	met := s.mgr.metrics

	if s.limiter != nil && !s.limiter.Allow() {
		met.RecordDrop(s.ctx, observe.DropRateLimit)
		return ErrRateLimited
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	select {
	case s.queue <- f:
		return nil
	default:
	}

	select {
	case old := <-s.queue:
		met.RecordDrop(s.ctx, observe.DropBackpressure)
		s.logger.Debug("queue full, dropped oldest frame", "ts", old.TS)
	default:
	}

	select {
	case s.queue <- f:
	default:
		// The worker cannot add to the queue, so this only happens if
		// capacity is zero.
		met.RecordDrop(s.ctx, observe.DropBackpressure)
	}
	return nil
}

func (s *Session) stop() {
	s.cancel(ErrClosed)
	<-s.done
}

func (s *Session) run() {
	defer func() {
		s.cancel(ErrClosed)
		s.mgr.release(s)
		s.logger.Info("session closed", "duration", time.Since(s.started).Round(time.Millisecond))
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case f := <-s.queue:
			if err := s.process(f); err != nil {
				s.logger.Warn("send failed, closing session", "error", err)
				s.cancel(fmt.Errorf("send: %w", err))
				return
			}
		}
	}
}

// process applies one frame. Only send failures are returned; every other
// problem drops the frame.
func (s *Session) process(f protocol.Frame) error {
	met := s.mgr.metrics
	ctx := s.ctx

	if f.TS <= s.lastTS {
		s.logger.Warn("dropping out-of-order frame", "ts", f.TS, "last_ts", s.lastTS)
		met.RecordDrop(ctx, observe.DropOutOfOrder)
		return nil
	}

	start := time.Now()
	a, err := s.mgr.pipeline.Analyze(ctx, f)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrDecode):
			s.logger.Warn("dropping undecodable frame", "ts", f.TS, "error", err)
			met.RecordDrop(ctx, observe.DropDecode)
		default:
			s.logger.Warn("dropping frame after detector error", "ts", f.TS, "error", err)
			met.RecordDrop(ctx, observe.DropDetector)
		}
		return nil
	}

	s.lastTS = f.TS
	d := s.machine.Update(a.Result, time.UnixMilli(f.TS))
	met.PipelineDuration.Record(ctx, time.Since(start).Seconds())

	p := protocol.NewPrediction(f.TS)
	p.Token = string(d.Token)
	p.Confidence = d.Confidence
	p.StableMS = d.StableDuration.Milliseconds()
	p.Commit = d.Commit
	if s.mgr.cfg.IncludeLandmarks && a.Hand != nil {
		p.Landmarks = a.Hand.Points[:]
	}

	if err := s.sender.Send(ctx, p); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	met.Predictions.Add(ctx, 1)

	if d.Commit {
		met.RecordCommit(ctx, string(d.StableToken))
		s.logger.Info("commit", "token", d.StableToken, "ts", f.TS, "stable_ms", p.StableMS)
		if s.mgr.onCommit != nil {
			s.mgr.onCommit(ctx, Commit{
				SessionID:  s.id,
				Token:      d.StableToken,
				Confidence: d.Confidence,
				TS:         f.TS,
				StableMS:   p.StableMS,
			})
		}
	}
	return nil
}
