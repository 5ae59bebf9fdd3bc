package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicewire/gateway/internal/pipeline"
	"github.com/voicewire/gateway/internal/transcript"
	"github.com/voicewire/gateway/internal/ws"
)

type deps struct {
	cfg        config
	sttRouter  *pipeline.STTRouter
	llmRouter  *pipeline.AgentLLM
	ttsRouter  *pipeline.TTSRouter
	hub        *transcript.Hub
	wsHandler  *ws.Handler
	transcript http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws", d.wsHandler)
	mux.Handle("/ws/transcripts", d.transcript)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("GET /api/sessions", d.handleSessions)
	mux.HandleFunc("GET /api/engines", d.handleEngines)
	mux.HandleFunc("GET /api/transcripts", d.handleTranscripts)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"sessions":    d.wsHandler.Sessions(),
		"subscribers": d.hub.SubscriberCount(),
	})
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"stt": map[string]any{"engines": d.sttRouter.Engines(), "default": d.cfg.sttEngine},
		"llm": map[string]any{"engines": d.llmRouter.Engines(), "default": d.cfg.llmEngine},
		"tts": map[string]any{"engines": d.ttsRouter.Engines(), "default": d.cfg.ttsEngine},
	})
}

// handleTranscripts returns the full backlog for clients that do not hold
// a live subscription.
func (d deps) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"entries": d.hub.Backlog()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
