package main

import (
	"os"
	"strconv"
	"time"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/prompts"
)

type config struct {
	port                  string
	persona               string
	maxConcurrentSessions int
	vadConfig             audio.VADConfig
	noSpeechThreshold     float64
	lookupTimeout         time.Duration
	transcriptQueueSize   int

	whisperURL  string
	sttEngine   string
	sttPoolSize int

	ollamaURL    string
	ollamaModel  string
	anthropicKey string
	anthropicURL string
	openaiKey    string
	openaiURL    string
	openaiModel  string
	llmEngine    string
	llmModel     string
	llmMaxTokens int
	llmPoolSize  int

	piperURL          string
	kokoroURL         string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string
	ttsEngine         string
	ttsPoolSize       int

	ordersDatabaseURL string
	ordersFile        string
}

func loadConfig() config {
	vad := audio.DefaultVADConfig()
	vad.SpeechThresholdDB = envFloat("VAD_SPEECH_THRESHOLD_DB", vad.SpeechThresholdDB)

	return config{
		port:                  envStr("GATEWAY_PORT", "8000"),
		persona:               envStr("PERSONA", prompts.DefaultPersona),
		maxConcurrentSessions: envInt("MAX_CONCURRENT_SESSIONS", 100),
		vadConfig:             vad,
		noSpeechThreshold:     envFloat("NO_SPEECH_THRESHOLD", 0.6),
		lookupTimeout:         time.Duration(envInt("ORDER_LOOKUP_TIMEOUT_MS", 3000)) * time.Millisecond,
		transcriptQueueSize:   envInt("TRANSCRIPT_QUEUE_SIZE", 64),

		whisperURL:  envStr("WHISPER_SERVER_URL", "http://localhost:8080"),
		sttEngine:   envStr("STT_ENGINE", "whisper"),
		sttPoolSize: envInt("STT_POOL_SIZE", 50),

		ollamaURL:    envStr("OLLAMA_URL", "http://localhost:11434"),
		ollamaModel:  envStr("OLLAMA_MODEL", "llama3.2:3b"),
		anthropicKey: envStr("ANTHROPIC_API_KEY", ""),
		anthropicURL: envStr("ANTHROPIC_URL", "https://api.anthropic.com"),
		openaiKey:    envStr("OPENAI_API_KEY", ""),
		openaiURL:    envStr("OPENAI_BASE_URL", ""),
		openaiModel:  envStr("OPENAI_MODEL", "gpt-4o-mini"),
		llmEngine:    envStr("LLM_ENGINE", "ollama"),
		llmModel:     envStr("LLM_MODEL", ""),
		llmMaxTokens: envInt("LLM_MAX_TOKENS", 150),
		llmPoolSize:  envInt("LLM_POOL_SIZE", 50),

		piperURL:          envStr("PIPER_URL", "http://localhost:5100"),
		kokoroURL:         envStr("KOKORO_URL", ""),
		elevenlabsAPIKey:  envStr("ELEVENLABS_API_KEY", ""),
		elevenlabsVoiceID: envStr("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		elevenlabsModelID: envStr("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ttsEngine:         envStr("TTS_ENGINE", "fast"),
		ttsPoolSize:       envInt("TTS_POOL_SIZE", 50),

		ordersDatabaseURL: envStr("ORDERS_DATABASE_URL", ""),
		ordersFile:        envStr("ORDERS_FILE", "samples/orders.json"),
	}
}

func envStr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}
