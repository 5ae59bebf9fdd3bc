package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
	"github.com/voicewire/gateway/internal/pipeline"
	"github.com/voicewire/gateway/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler manages duplex WebSocket sessions with admission control.
type Handler struct {
	cfg           SessionConfig
	maxConcurrent int
	sem           chan struct{}

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHandler creates a session handler with shared backends and a
// concurrency limit.
func NewHandler(cfg SessionConfig, maxConcurrent int) *Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	return &Handler{
		cfg:           cfg,
		maxConcurrent: maxConcurrent,
		sem:           make(chan struct{}, maxConcurrent),
		sessions:      make(map[string]*Session),
	}
}

// SessionInfo is the admin view of one live session.
type SessionInfo struct {
	ID      string      `json:"id"`
	State   frame.State `json:"state"`
	Started time.Time   `json:"started"`
}

// Sessions lists currently active sessions.
func (h *Handler) Sessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, SessionInfo{ID: s.ID, State: s.State(), Started: s.Started})
	}
	return out
}

// ServeHTTP upgrades the connection and runs a session until the client
// disconnects. Returns 503 at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.runSession(r, conn)
}

func (h *Handler) runSession(r *http.Request, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := h.sessionConfig(r)

	var writeMu sync.Mutex
	sess := NewSession(cfg, func(f frame.Frame) {
		data, err := wire.Encode(f)
		if err != nil {
			// Internal lifecycle events have no wire form.
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("write frame", "error", err)
		}
	})

	h.track(sess)
	defer h.untrack(sess)

	slog.Info("session started", "session_id", sess.ID,
		"stt_engine", cfg.STTEngine, "llm_engine", cfg.LLMEngine, "tts_engine", cfg.TTSEngine)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()

	h.readLoop(conn, sess)

	sess.Flush()
	cancel()
	<-done

	slog.Info("session ended", "session_id", sess.ID)
}

// readLoop decodes incoming messages and feeds them to the session.
// Malformed messages are dropped and counted; they never end the session.
func (h *Handler) readLoop(conn *websocket.Conn, sess *Session) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("connection closed", "session_id", sess.ID, "error", err)
			return
		}

		if msgType != websocket.TextMessage {
			metrics.MessagesDropped.WithLabelValues("binary").Inc()
			continue
		}

		f, err := wire.Decode(data)
		if err != nil {
			h.dropMessage(sess.ID, err)
			continue
		}
		sess.Submit(f)
	}
}

func (h *Handler) dropMessage(sessionID string, err error) {
	reason := "malformed"
	var encErr *wire.InvalidEncodingError
	if errors.As(err, &encErr) {
		reason = "bad_encoding"
	}
	metrics.MessagesDropped.WithLabelValues(reason).Inc()
	slog.Warn("message dropped", "session_id", sessionID, "reason", reason, "error", err)
}

// sessionConfig resolves per-session overrides from query parameters on
// top of the handler's defaults.
func (h *Handler) sessionConfig(r *http.Request) SessionConfig {
	cfg := h.cfg
	q := r.URL.Query()
	if v := q.Get("stt_engine"); v != "" {
		cfg.STTEngine = v
	}
	if v := q.Get("llm_engine"); v != "" {
		cfg.LLMEngine = v
	}
	if v := q.Get("llm_model"); v != "" {
		cfg.LLMModel = v
	}
	if v := q.Get("tts_engine"); v != "" {
		cfg.TTSEngine = v
	}
	if v := q.Get("voice"); v != "" {
		cfg.TTSOpts = pipeline.TTSOptions{Speed: cfg.TTSOpts.Speed, Voice: v}
	}
	if v := q.Get("persona"); v != "" {
		cfg.Persona = v
	}
	return cfg
}

func (h *Handler) track(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = s
}

func (h *Handler) untrack(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID)
}
