package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
)

// rawPCMSampleRate is assumed for backends that return headerless PCM.
const rawPCMSampleRate = 22050

// TTSOptions holds per-call TTS tuning parameters.
type TTSOptions struct {
	Speed float64
	Voice string
}

// TTSSynthesizer produces audio from text.
type TTSSynthesizer interface {
	SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error)
}

// TTSResult holds synthesized audio with timing.
type TTSResult struct {
	Audio     []byte  `json:"-"`
	LatencyMs float64 `json:"latency_ms"`
}

// TTSRouter dispatches to the correct TTS backend based on engine name.
// Wraps the generic Router with a TTS-specific Synthesize method that adds timing metrics.
type TTSRouter struct {
	*Router[TTSSynthesizer]
}

// NewTTSRouter creates a router with registered TTS backends and a fallback default.
func NewTTSRouter(backends map[string]TTSSynthesizer, fallback string) *TTSRouter {
	return &TTSRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes to the correct backend, synthesizes audio, and records latency metrics.
func (r *TTSRouter) Synthesize(ctx context.Context, text, engine string, opts TTSOptions) (*TTSResult, error) {
	start := time.Now()

	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}

	audioData, err := backend.SynthesizeAudio(ctx, text, opts)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("tts").Observe(latency.Seconds())

	return &TTSResult{
		Audio:     audioData,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

// TTSStage turns streamed assistant text into speech. Tokens accumulate in
// a sentence buffer so synthesis starts as soon as the first sentence
// completes rather than waiting for the whole response. Each synthesized
// sentence is emitted as an audio frame ahead of the text that produced it;
// the final turn flushes the remainder and closes with a bot speech-end
// event.
type TTSStage struct {
	tts    *TTSRouter
	engine string
	opts   TTSOptions

	buf      sentenceBuffer
	speaking bool
}

// NewTTSStage creates the synthesis stage.
func NewTTSStage(tts *TTSRouter, engine string, opts TTSOptions) *TTSStage {
	return &TTSStage{tts: tts, engine: engine, opts: opts}
}

func (s *TTSStage) Name() string { return "tts" }

func (s *TTSStage) Process(ctx context.Context, f frame.Frame) ([]frame.Frame, error) {
	// A user speech-start routed to this direction means barge-in: the
	// client started talking over the bot, so drop any pending text.
	if ev, ok := f.(frame.ControlEvent); ok && ev.Kind == frame.ControlUserSpeechStart {
		s.Reset()
		return []frame.Frame{f}, nil
	}

	turn, ok := f.(frame.TextTurn)
	if !ok || turn.Role != frame.RoleAssistant {
		return []frame.Frame{f}, nil
	}

	var out []frame.Frame

	// Synthesis failures never swallow the text: the turn is returned
	// alongside the error so the context and transcript still see it.
	if !turn.Final {
		sentence := s.buf.Add(turn.Text)
		if sentence != "" {
			frames, err := s.speak(ctx, sentence)
			if err != nil {
				return []frame.Frame{turn}, err
			}
			out = append(out, frames...)
		}
		return append(out, turn), nil
	}

	remainder := s.buf.Flush()
	flushErr := error(nil)
	if remainder != "" {
		frames, err := s.speak(ctx, remainder)
		if err != nil {
			flushErr = err
		} else {
			out = append(out, frames...)
		}
	}
	out = append(out, turn)
	if s.speaking {
		out = append(out, frame.ControlEvent{Kind: frame.ControlBotSpeechEnd})
		s.speaking = false
	}
	return out, flushErr
}

// Reset drops buffered text, for barge-in cancellation mid-response.
func (s *TTSStage) Reset() {
	s.buf.Flush()
	s.speaking = false
}

func (s *TTSStage) speak(ctx context.Context, text string) ([]frame.Frame, error) {
	result, err := s.tts.Synthesize(ctx, text, s.engine, s.opts)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	// Most backends return WAV; ElevenLabs returns headerless PCM.
	wav, err := audio.ParseWAV(result.Audio)
	if err != nil {
		wav = &audio.WAVData{PCM: result.Audio, SampleRate: rawPCMSampleRate, Channels: 1}
	}

	var out []frame.Frame
	if !s.speaking {
		s.speaking = true
		out = append(out, frame.ControlEvent{Kind: frame.ControlBotSpeechStart})
	}
	return append(out, frame.AudioChunk{
		PCM:        wav.PCM,
		SampleRate: wav.SampleRate,
		Channels:   wav.Channels,
	}), nil
}

// --- Piper backend (local neural TTS via piper-tts, returns WAV) ---

type piperSynthesizer struct {
	url    string
	voice  string
	client *http.Client
}

func NewPiperSynthesizer(url, voice string, client *http.Client) TTSSynthesizer {
	return &piperSynthesizer{url: url, voice: voice, client: client}
}

func (p *piperSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voice := p.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	body, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("marshal piper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create piper request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doTTSRequest(p.client, req)
}

// --- OpenAI-compatible backend (any server exposing /v1/audio/speech) ---

type openaiSynthesizer struct {
	url    string
	model  string
	voice  string
	client *http.Client
}

func NewOpenAISynthesizer(url, model, voice string, client *http.Client) TTSSynthesizer {
	return &openaiSynthesizer{url: url, model: model, voice: voice, client: client}
}

func (o *openaiSynthesizer) SynthesizeAudio(ctx context.Context, text string, opts TTSOptions) ([]byte, error) {
	voice := o.voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	body, err := json.Marshal(struct {
		Input          string  `json:"input"`
		Model          string  `json:"model"`
		Voice          string  `json:"voice"`
		Speed          float64 `json:"speed,omitempty"`
		ResponseFormat string  `json:"response_format"`
	}{Input: text, Model: o.model, Voice: voice, Speed: opts.Speed, ResponseFormat: "wav"})
	if err != nil {
		return nil, fmt.Errorf("marshal openai tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create openai tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return doTTSRequest(o.client, req)
}

// --- ElevenLabs backend (cloud API via api.elevenlabs.io, returns raw PCM) ---

type elevenlabsSynthesizer struct {
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

func NewElevenLabsSynthesizer(apiKey, voiceID, modelID string, client *http.Client) TTSSynthesizer {
	return &elevenlabsSynthesizer{apiKey: apiKey, voiceID: voiceID, modelID: modelID, client: client}
}

func (e *elevenlabsSynthesizer) SynthesizeAudio(ctx context.Context, text string, _ TTSOptions) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	url := fmt.Sprintf("https://api.elevenlabs.io/v1/text-to-speech/%s?output_format=pcm_22050", e.voiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "audio/wav")

	return doTTSRequest(e.client, req)
}

// --- shared HTTP helper ---

func doTTSRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
