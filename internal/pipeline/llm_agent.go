package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/voicewire/gateway/internal/frame"
)

// llmBackend is one registered engine: either an SDK model provider or a
// direct HTTP client, never both.
type llmBackend struct {
	provider agents.ModelProvider
	raw      LLMChatClient
	model    string
}

// AgentLLM routes chat requests by engine name. SDK-backed engines run
// through openai-agents-go; raw engines (Ollama, Anthropic) keep their
// own streaming clients. An unknown engine name falls back to the
// configured default.
type AgentLLM struct {
	backends  map[string]llmBackend
	fallback  string
	maxTokens int
}

// NewAgentLLM creates a new AgentLLM with the given fallback engine and max tokens.
func NewAgentLLM(fallback string, maxTokens int) *AgentLLM {
	return &AgentLLM{
		backends:  make(map[string]llmBackend),
		fallback:  fallback,
		maxTokens: maxTokens,
	}
}

// Register adds an SDK provider and default model for the given engine name.
func (a *AgentLLM) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.backends[engine] = llmBackend{provider: provider, model: defaultModel}
}

// RegisterRaw adds a direct HTTP client for engines that bypass the SDK.
func (a *AgentLLM) RegisterRaw(engine string, client LLMChatClient, defaultModel string) {
	a.backends[engine] = llmBackend{raw: client, model: defaultModel}
}

// Engines returns the names of all registered backends, sorted.
func (a *AgentLLM) Engines() []string {
	names := make([]string, 0, len(a.backends))
	for name := range a.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a backend is registered for the given engine name.
func (a *AgentLLM) Has(engine string) bool {
	_, ok := a.backends[engine]
	return ok
}

// Chat streams a completion from the backend registered for engine,
// falling back to the default engine when the name is unknown.
func (a *AgentLLM) Chat(ctx context.Context, turns []Turn, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	backend, ok := a.backends[engine]
	if !ok {
		backend, ok = a.backends[a.fallback]
	}
	if !ok {
		return nil, fmt.Errorf("no llm backend for engine %q", engine)
	}
	if model == "" {
		model = backend.model
	}

	if backend.raw != nil {
		return backend.raw.Chat(ctx, turns, model, onToken)
	}
	return a.runAgent(ctx, backend.provider, turns, model, onToken)
}

func (a *AgentLLM) runAgent(ctx context.Context, provider agents.ModelProvider, turns []Turn, model string, onToken TokenCallback) (*LLMResult, error) {
	instructions, input := splitTurns(turns)

	agent := agents.New("assistant").
		WithInstructions(instructions).
		WithModel(model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, input)
	if err != nil {
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	sr := consumeAgentStream(events, onToken)
	if streamErr := <-errCh; streamErr != nil {
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}
	return sr.toLLMResult(start), nil
}

// consumeAgentStream drains the SDK event channel, forwarding text deltas
// as tokens. Providers that skip deltas deliver the text only on the
// completed event; that is used as the single token when nothing streamed.
func consumeAgentStream(events <-chan agents.StreamEvent, onToken TokenCallback) streamResult {
	var sr streamResult
	var text strings.Builder

	emit := func(token string) {
		if sr.ttft.IsZero() {
			sr.ttft = time.Now()
		}
		if onToken != nil {
			onToken(token)
		}
		text.WriteString(token)
	}

	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		switch raw.Data.Type {
		case "response.output_text.delta":
			emit(raw.Data.Delta)
		case "response.completed":
			if text.Len() > 0 {
				continue
			}
			for _, item := range raw.Data.Response.Output {
				if item.Type != "message" {
					continue
				}
				for _, part := range item.Content {
					if part.Type == "output_text" && part.Text != "" {
						emit(part.Text)
					}
				}
			}
		}
	}

	sr.text = text.String()
	return sr
}

// splitTurns separates system turns into agent instructions and renders the
// remaining dialogue as the run input, most recent turn last.
func splitTurns(turns []Turn) (instructions, input string) {
	var sys, dialogue []string
	for _, t := range turns {
		if t.Role == frame.RoleSystem {
			sys = append(sys, t.Content)
			continue
		}
		dialogue = append(dialogue, string(t.Role)+": "+t.Content)
	}
	return strings.Join(sys, "\n\n"), strings.Join(dialogue, "\n")
}
