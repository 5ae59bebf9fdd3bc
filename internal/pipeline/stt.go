package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
)

// targetSampleRate is what the transcription backends consume.
const targetSampleRate = 16000

// Transcriber produces a transcript from one speech segment.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (*TranscribeResult, error)
}

// TranscribeResult holds the transcription output.
type TranscribeResult struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	LatencyMs    float64 `json:"latency_ms"`
}

// STTRouter dispatches to the correct transcription backend by engine name.
type STTRouter struct {
	*Router[Transcriber]
}

// NewSTTRouter creates a router with registered backends and a fallback.
func NewSTTRouter(backends map[string]Transcriber, fallback string) *STTRouter {
	return &STTRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the requested backend.
func (r *STTRouter) Transcribe(ctx context.Context, samples []float32, engine string) (*TranscribeResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Transcribe(ctx, samples)
}

// VADStage watches the inbound audio stream for speech. It emits a
// speech-start control event at onset, buffers the utterance, and on
// offset emits the speech-end event followed by the captured segment as a
// single audio frame for the transcription stage. Silence produces nothing.
type VADStage struct {
	vad *audio.VAD
}

// NewVADStage creates the voice-activity stage.
func NewVADStage(cfg audio.VADConfig) *VADStage {
	return &VADStage{vad: audio.NewVAD(cfg)}
}

func (s *VADStage) Name() string { return "vad" }

func (s *VADStage) Process(_ context.Context, f frame.Frame) ([]frame.Frame, error) {
	chunk, ok := f.(frame.AudioChunk)
	if !ok {
		return []frame.Frame{f}, nil
	}

	samples := audio.DecodePCM16(chunk.PCM)
	samples = audio.Resample(samples, chunk.SampleRate, targetSampleRate)

	result := s.vad.Process(samples)

	var out []frame.Frame
	if result.SpeechStarted {
		out = append(out, frame.ControlEvent{Kind: frame.ControlUserSpeechStart})
	}
	if result.SpeechEnded {
		metrics.SpeechSegments.Inc()
		out = append(out,
			frame.ControlEvent{Kind: frame.ControlUserSpeechEnd},
			frame.AudioChunk{
				PCM:        audio.EncodePCM16(result.Audio),
				SampleRate: targetSampleRate,
				Channels:   1,
			},
		)
	}
	return out, nil
}

// Flush drains any speech still buffered in the VAD, for session teardown.
func (s *VADStage) Flush() []frame.Frame {
	remaining := s.vad.Flush()
	if len(remaining) == 0 {
		return nil
	}
	metrics.SpeechSegments.Inc()
	return []frame.Frame{
		frame.ControlEvent{Kind: frame.ControlUserSpeechEnd},
		frame.AudioChunk{
			PCM:        audio.EncodePCM16(remaining),
			SampleRate: targetSampleRate,
			Channels:   1,
		},
	}
}

// STTStage transcribes completed speech segments into final user turns.
// Transcripts that look like recognizer noise are dropped, not forwarded.
type STTStage struct {
	stt    *STTRouter
	engine string

	// noSpeechThreshold drops segments the recognizer itself doubts.
	noSpeechThreshold float64
}

// NewSTTStage creates the transcription stage.
func NewSTTStage(stt *STTRouter, engine string, noSpeechThreshold float64) *STTStage {
	if noSpeechThreshold <= 0 {
		noSpeechThreshold = 0.6
	}
	return &STTStage{stt: stt, engine: engine, noSpeechThreshold: noSpeechThreshold}
}

func (s *STTStage) Name() string { return "stt" }

func (s *STTStage) Process(ctx context.Context, f frame.Frame) ([]frame.Frame, error) {
	chunk, ok := f.(frame.AudioChunk)
	if !ok {
		return []frame.Frame{f}, nil
	}

	samples := audio.DecodePCM16(chunk.PCM)
	result, err := s.stt.Transcribe(ctx, samples, s.engine)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" || result.NoSpeechProb > s.noSpeechThreshold || isNoiseTranscript(text) {
		metrics.TranscriptsFiltered.Inc()
		slog.Debug("transcript filtered", "text", text, "no_speech_prob", result.NoSpeechProb)
		return nil, nil
	}

	slog.Info("transcript", "text", text, "stt_ms", result.LatencyMs)
	return []frame.Frame{frame.TextTurn{Role: frame.RoleUser, Text: text, Final: true}}, nil
}

// noisePatterns are common recognizer hallucinations from background noise.
var noisePatterns = map[string]bool{
	"crunching": true, "static": true, "silence": true, "noise": true,
	"inaudible": true, "unintelligible": true, "background noise": true,
	"music": true, "typing": true, "breathing": true, "sigh": true,
	"cough": true, "sneeze": true, "laughter": true, "applause": true,
	"you": true, "the": true, "a": true, "um": true, "uh": true,
	"hmm": true, "ah": true, "oh": true, "mhm": true,
}

// isNoiseTranscript reports whether the output is likely background noise.
func isNoiseTranscript(text string) bool {
	// Wrapped annotations like *crunching*, [noise], (static).
	if strings.HasPrefix(text, "*") && strings.HasSuffix(text, "*") {
		return true
	}
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		return true
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") {
		return true
	}
	return noisePatterns[strings.ToLower(text)]
}

// MultipartTranscriber sends audio as multipart WAV to any
// whisper-compatible HTTP endpoint.
type MultipartTranscriber struct {
	url      string
	endpoint string
	label    string
	client   *http.Client
}

// NewWhisperTranscriber creates a client for whisper.cpp's /inference endpoint.
func NewWhisperTranscriber(url string, poolSize int) *MultipartTranscriber {
	return &MultipartTranscriber{
		url:      url,
		endpoint: "/inference",
		label:    "whisper",
		client:   NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Transcribe sends float32 samples (16kHz mono) as multipart WAV.
func (c *MultipartTranscriber) Transcribe(ctx context.Context, samples []float32) (*TranscribeResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s status %d: %s", c.label, resp.StatusCode, respBody)
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.label, err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("stt").Observe(latency.Seconds())

	return &TranscribeResult{
		Text:         result.Text,
		NoSpeechProb: result.NoSpeechProb,
		LatencyMs:    float64(latency.Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

func buildMultipartAudio(samples []float32) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, targetSampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}
