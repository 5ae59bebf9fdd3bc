package ws

import (
	"log/slog"
	"net/http"

	"github.com/voicewire/gateway/internal/transcript"
)

// TranscriptHandler streams committed conversation turns to observer
// WebSocket clients. Each subscriber first receives the full backlog,
// then live entries in publish order.
type TranscriptHandler struct {
	hub *transcript.Hub
}

// NewTranscriptHandler creates the observer endpoint.
func NewTranscriptHandler(hub *transcript.Hub) *TranscriptHandler {
	return &TranscriptHandler{hub: hub}
}

func (h *TranscriptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("transcript upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub.ID)

	slog.Info("transcript subscriber connected", "subscriber", sub.ID)

	// Detect client disconnect; observers never send meaningful data.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, entry := range h.hub.Backlog() {
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}

	for {
		select {
		case <-closed:
			slog.Info("transcript subscriber disconnected", "subscriber", sub.ID)
			return
		case entry, ok := <-sub.C:
			if !ok {
				// Dropped by the hub for falling behind.
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
