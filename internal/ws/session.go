package ws

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voicewire/gateway/internal/audio"
	"github.com/voicewire/gateway/internal/frame"
	"github.com/voicewire/gateway/internal/metrics"
	"github.com/voicewire/gateway/internal/orders"
	"github.com/voicewire/gateway/internal/pipeline"
	"github.com/voicewire/gateway/internal/prompts"
	"github.com/voicewire/gateway/internal/transcript"
)

// ChatBackend streams chat completions for an engine name. Satisfied by
// both pipeline.LLMRouter and pipeline.AgentLLM.
type ChatBackend interface {
	Chat(ctx context.Context, turns []pipeline.Turn, model, engine string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error)
}

// SessionConfig holds the shared backends and per-session settings.
type SessionConfig struct {
	STT   *pipeline.STTRouter
	LLM   ChatBackend
	TTS   *pipeline.TTSRouter
	Store orders.Store
	Hub   *transcript.Hub

	VADConfig         audio.VADConfig
	NoSpeechThreshold float64
	LookupTimeout     time.Duration

	Persona   string
	STTEngine string
	LLMEngine string
	LLMModel  string
	TTSEngine string
	TTSOpts   pipeline.TTSOptions
}

// Session owns one duplex conversation: an inbound pipeline that turns
// client audio into final user turns, an outbound pipeline that turns
// model output into speech, and the language-model bridge between them.
// Each pipeline runs on its own goroutine; the bridge runs one
// cancellable goroutine per response.
type Session struct {
	ID      string
	Started time.Time

	cfg      SessionConfig
	agg      *pipeline.ContextAggregator
	machine  *pipeline.StateMachine
	inbound  *pipeline.Pipeline
	outbound *pipeline.Pipeline
	vad      *pipeline.VADStage

	mu         sync.Mutex
	cancelResp context.CancelFunc
	responding bool

	wg sync.WaitGroup
}

// NewSession wires both pipelines. All frames leaving the outbound
// pipeline are handed to send; the caller is responsible for encoding
// and delivery.
func NewSession(cfg SessionConfig, send pipeline.Sink) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		Started: time.Now().UTC(),
		cfg:     cfg,
		agg:     pipeline.NewContextAggregator(prompts.ForSession(cfg.Persona)),
		machine: pipeline.NewStateMachine(),
		vad:     pipeline.NewVADStage(cfg.VADConfig),
	}

	s.outbound = pipeline.New("outbound", []pipeline.Stage{
		pipeline.NewTTSStage(cfg.TTS, cfg.TTSEngine, cfg.TTSOpts),
		pipeline.NewBotStateStage(s.machine),
		pipeline.NewAssistantContextStage(s.agg),
		pipeline.NewTranscriptStage(cfg.Hub, s.ID, frame.RoleAssistant),
	}, send)

	s.inbound = pipeline.New("inbound", []pipeline.Stage{
		pipeline.NewAudioLogStage(),
		s.vad,
		pipeline.NewStateStage(s.machine),
		pipeline.NewSTTStage(cfg.STT, cfg.STTEngine, cfg.NoSpeechThreshold),
		pipeline.NewKnowledgeInjector(cfg.Store, cfg.LookupTimeout),
		pipeline.NewUserContextStage(s.agg),
		pipeline.NewTranscriptStage(cfg.Hub, s.ID, frame.RoleUser),
	}, s.inboundSink)

	return s
}

// Run processes both directions until ctx is canceled, then waits for any
// in-flight response goroutine to finish.
func (s *Session) Run(ctx context.Context) {
	var pipes sync.WaitGroup
	pipes.Add(2)
	go func() {
		defer pipes.Done()
		s.inbound.Run(ctx)
	}()
	go func() {
		defer pipes.Done()
		s.outbound.Run(ctx)
	}()
	pipes.Wait()

	s.cancelResponse(false)
	s.wg.Wait()
}

// Submit feeds a decoded frame into the inbound pipeline.
func (s *Session) Submit(f frame.Frame) {
	s.inbound.Submit(f)
}

// State returns the session's current conversation state.
func (s *Session) State() frame.State {
	return s.machine.Current()
}

// Flush drains speech still buffered in the VAD, for teardown.
func (s *Session) Flush() {
	for _, f := range s.vad.Flush() {
		s.inbound.Submit(f)
	}
}

// inboundSink routes frames that completed the inbound traversal. State
// changes and errors are forwarded outbound so the client sees them; a
// speech onset cancels any response in flight; a final user turn starts
// the next response.
func (s *Session) inboundSink(f frame.Frame) {
	switch v := f.(type) {
	case frame.ControlEvent:
		switch v.Kind {
		case frame.ControlStateChange, frame.ControlError:
			s.outbound.Submit(v)
		case frame.ControlUserSpeechStart:
			if s.cancelResponse(true) {
				// Reset pending synthesis on the outbound side too.
				s.outbound.Submit(v)
			}
		}
	case frame.TextTurn:
		if v.Role == frame.RoleUser && v.Final {
			s.startResponse()
		}
	}
}

// startResponse snapshots the conversation and streams one completion on
// its own goroutine. Tokens are submitted outbound as partial assistant
// turns; the closing final turn carries the full accumulated text so the
// context and transcript stay consistent even when the stream is cut
// short by barge-in.
func (s *Session) startResponse() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.cancelResp != nil {
		s.cancelResp()
	}
	s.cancelResp = cancel
	s.responding = true
	s.mu.Unlock()

	turns := s.agg.Snapshot()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		start := time.Now()

		var full strings.Builder
		result, err := s.cfg.LLM.Chat(ctx, turns, s.cfg.LLMModel, s.cfg.LLMEngine, func(token string) {
			full.WriteString(token)
			s.outbound.Submit(frame.TextTurn{Role: frame.RoleAssistant, Text: token})
		})

		switch {
		case err == nil:
			slog.Info("response complete", "session_id", s.ID,
				"llm_ms", result.LatencyMs, "ttft_ms", result.TimeToFirstTokenMs)
		case errors.Is(err, context.Canceled):
			slog.Info("response canceled", "session_id", s.ID, "partial_chars", full.Len())
		default:
			slog.Error("llm failed", "session_id", s.ID, "error", err)
			s.outbound.Submit(frame.Error("llm: " + err.Error()))
		}

		// Always close the turn, even empty or cut short: downstream
		// stages rely on the final turn to commit context and settle state.
		s.outbound.Submit(frame.TextTurn{Role: frame.RoleAssistant, Text: full.String(), Final: true})

		s.mu.Lock()
		s.responding = false
		s.mu.Unlock()

		metrics.TurnDuration.Observe(time.Since(start).Seconds())
	}()
}

// cancelResponse stops any in-flight completion. It reports whether one
// was actually interrupted; bargeIn controls whether that counts toward
// the barge-in metric.
func (s *Session) cancelResponse(bargeIn bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelResp == nil {
		return false
	}
	s.cancelResp()
	s.cancelResp = nil
	if !s.responding {
		return false
	}
	if bargeIn {
		metrics.BargeIns.Inc()
	}
	return true
}
