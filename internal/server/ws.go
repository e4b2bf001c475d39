package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/signbridge/internal/protocol"
	"github.com/ayusman/signbridge/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionHeader carries the session id on the upgrade response so clients
// can fetch their transcript.
const SessionHeader = "X-Session-Id"

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler upgrades clients to WebSocket and runs one recognition
// session per connection.
type StreamHandler struct {
	sessions  *session.Manager
	upgrader  websocket.Upgrader
	readLimit int64
	logger    *slog.Logger
}

// NewStreamHandler creates a StreamHandler. An empty allowedOrigins list
// accepts any origin; "*" does the same explicitly.
func NewStreamHandler(mgr *session.Manager, readLimit int64, allowedOrigins []string, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		sessions:  mgr,
		readLimit: readLimit,
		logger:    logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	conn, err := h.upgrader.Upgrade(w, r, http.Header{SessionHeader: {id}})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}

	sess, err := h.sessions.Open(r.Context(), id, &wsSender{conn: conn})
	if err != nil {
		h.logger.Warn("rejecting connection", "remote", r.RemoteAddr, "error", err)
		closeWith(conn, websocket.CloseTryAgainLater, "server shutting down")
		return
	}
	log := h.logger.With("session_id", sess.ID(), "remote", r.RemoteAddr)
	log.Info("client connected")

	stopPing := make(chan struct{})
	go h.keepAlive(conn, sess, stopPing)

	h.readLoop(conn, sess, log)
	close(stopPing)

	if err := h.sessions.Close(sess.ID()); err != nil && !errors.Is(err, session.ErrUnknownSession) {
		log.Warn("closing session", "error", err)
	}
	log.Info("client disconnected", "cause", sess.Err())
}

// readLoop feeds inbound messages to sess until the client goes away or the
// session ends.
func (h *StreamHandler) readLoop(conn *websocket.Conn, sess *session.Session, log *slog.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-sess.Done():
				default:
					log.Debug("read failed", "error", err)
				}
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := sess.HandleMessage(data); errors.Is(err, session.ErrClosed) {
			return
		}
	}
}

// keepAlive pings the client and closes the connection once the session
// ends, which unblocks the read loop.
func (h *StreamHandler) keepAlive(conn *websocket.Conn, sess *session.Session, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-sess.Done():
			if errors.Is(sess.Err(), session.ErrClosed) {
				closeWith(conn, websocket.CloseGoingAway, "session closed")
			}
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// wsSender writes predictions as JSON text messages. Only the session
// worker calls Send.
type wsSender struct {
	conn *websocket.Conn
}

func (s *wsSender) Send(ctx context.Context, p protocol.Prediction) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(p)
}
