package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/voicewire/gateway/internal/orders"
	"github.com/voicewire/gateway/internal/pipeline"
	"github.com/voicewire/gateway/internal/transcript"
	"github.com/voicewire/gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	sttRouter := pipeline.NewSTTRouter(map[string]pipeline.Transcriber{
		"whisper": pipeline.NewWhisperTranscriber(cfg.whisperURL, cfg.sttPoolSize),
	}, "whisper")

	llmRouter := pipeline.NewAgentLLM(cfg.llmEngine, cfg.llmMaxTokens)
	llmRouter.RegisterRaw("ollama",
		pipeline.NewOllamaLLMClient(cfg.ollamaURL, cfg.ollamaModel, cfg.llmMaxTokens, cfg.llmPoolSize),
		cfg.ollamaModel)
	if cfg.anthropicKey != "" {
		llmRouter.RegisterRaw("anthropic",
			pipeline.NewAnthropicLLMClient(cfg.anthropicKey, cfg.anthropicURL, "claude-3-5-haiku-latest", cfg.llmMaxTokens, cfg.llmPoolSize),
			"claude-3-5-haiku-latest")
	}
	if cfg.openaiKey != "" {
		params := agents.OpenAIProviderParams{APIKey: param.NewOpt(cfg.openaiKey)}
		if cfg.openaiURL != "" {
			params.BaseURL = param.NewOpt(cfg.openaiURL)
		}
		llmRouter.Register("openai", agents.NewOpenAIProvider(params), cfg.openaiModel)
	}

	ttsHTTP := pipeline.NewPooledHTTPClient(cfg.ttsPoolSize, 30*time.Second)
	ttsBackends := map[string]pipeline.TTSSynthesizer{
		"fast":    pipeline.NewPiperSynthesizer(cfg.piperURL, "en_US-lessac-low", ttsHTTP),
		"quality": pipeline.NewPiperSynthesizer(cfg.piperURL, "en_US-lessac-medium", ttsHTTP),
	}
	if cfg.kokoroURL != "" {
		ttsBackends["kokoro"] = pipeline.NewOpenAISynthesizer(cfg.kokoroURL, "kokoro", "af_heart", ttsHTTP)
	}
	if cfg.elevenlabsAPIKey != "" {
		ttsBackends["elevenlabs"] = pipeline.NewElevenLabsSynthesizer(cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, ttsHTTP)
	}
	ttsRouter := pipeline.NewTTSRouter(ttsBackends, cfg.ttsEngine)

	store := openOrderStore(cfg)
	hub := transcript.NewHub(cfg.transcriptQueueSize)

	wsHandler := ws.NewHandler(ws.SessionConfig{
		STT:               sttRouter,
		LLM:               llmRouter,
		TTS:               ttsRouter,
		Store:             store,
		Hub:               hub,
		VADConfig:         cfg.vadConfig,
		NoSpeechThreshold: cfg.noSpeechThreshold,
		LookupTimeout:     cfg.lookupTimeout,
		Persona:           cfg.persona,
		STTEngine:         cfg.sttEngine,
		LLMEngine:         cfg.llmEngine,
		LLMModel:          cfg.llmModel,
		TTSEngine:         cfg.ttsEngine,
	}, cfg.maxConcurrentSessions)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:        cfg,
		sttRouter:  sttRouter,
		llmRouter:  llmRouter,
		ttsRouter:  ttsRouter,
		hub:        hub,
		wsHandler:  wsHandler,
		transcript: ws.NewTranscriptHandler(hub),
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting", "addr", addr, "max_concurrent", cfg.maxConcurrentSessions)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// openOrderStore prefers Postgres when configured, then the JSON sample
// file, then an empty in-memory store so the gateway still answers calls.
func openOrderStore(cfg config) orders.Store {
	if cfg.ordersDatabaseURL != "" {
		store, err := orders.Open(cfg.ordersDatabaseURL)
		if err != nil {
			slog.Error("open orders database", "error", err)
			os.Exit(1)
		}
		slog.Info("orders store ready", "backend", "postgres")
		return store
	}

	store, err := orders.LoadFile(cfg.ordersFile)
	if err != nil {
		slog.Warn("load orders file, lookups will miss", "path", cfg.ordersFile, "error", err)
		return orders.NewMemStore(nil)
	}
	slog.Info("orders store ready", "backend", "file", "orders", store.Len())
	return store
}
