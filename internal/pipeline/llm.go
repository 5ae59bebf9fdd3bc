package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicewire/gateway/internal/metrics"
)

// LLMChatClient produces streaming chat completions from the accumulated
// conversation. The turns slice is a snapshot and already carries the
// system persona plus any injected knowledge notes.
type LLMChatClient interface {
	Chat(ctx context.Context, turns []Turn, model string, onToken TokenCallback) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing.
type LLMResult struct {
	Text               string  `json:"text"`
	Thinking           string  `json:"thinking,omitempty"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
}

// TokenCallback is called for each streamed token.
type TokenCallback func(token string)

// LLMRouter dispatches to the correct LLM backend based on engine name.
type LLMRouter struct {
	*Router[LLMChatClient]
}

// NewLLMRouter creates a router with registered LLM backends and a fallback default.
func NewLLMRouter(backends map[string]LLMChatClient, fallback string) *LLMRouter {
	return &LLMRouter{Router: NewRouter(backends, fallback)}
}

// Chat routes to the correct backend and streams a chat completion.
func (r *LLMRouter) Chat(ctx context.Context, turns []Turn, model, engine string, onToken TokenCallback) (*LLMResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Chat(ctx, turns, model, onToken)
}

// streamResult accumulates a streamed completion: the visible text, any
// thinking tokens, and the arrival time of the first visible token.
type streamResult struct {
	text     string
	thinking string
	ttft     time.Time
}

func (sr *streamResult) toLLMResult(start time.Time) *LLMResult {
	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	res := &LLMResult{
		Text:      sr.text,
		Thinking:  sr.thinking,
		LatencyMs: float64(latency.Milliseconds()),
	}
	if !sr.ttft.IsZero() {
		res.TimeToFirstTokenMs = float64(sr.ttft.Sub(start).Milliseconds())
	}
	return res
}

// --- Ollama backend ---

// OllamaLLMClient streams chat completions from a local Ollama server
// using its newline-delimited JSON chat endpoint.
type OllamaLLMClient struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaLLMClient creates an Ollama HTTP client.
func NewOllamaLLMClient(url, model string, maxTokens, poolSize int) *OllamaLLMClient {
	return &OllamaLLMClient{
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Chat sends the conversation to Ollama and streams the response.
func (c *OllamaLLMClient) Chat(ctx context.Context, turns []Turn, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	payload, err := c.buildRequest(turns, model)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	sr := readOllamaStream(resp.Body, onToken)
	return sr.toLLMResult(start), nil
}

func (c *OllamaLLMClient) buildRequest(turns []Turn, model string) ([]byte, error) {
	if model == "" {
		model = c.model
	}

	messages := make([]ollamaMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, ollamaMessage{Role: string(t.Role), Content: t.Content})
	}

	payload, err := json.Marshal(ollamaRequest{
		Model:    model,
		Stream:   true,
		Options:  ollamaOptions{NumPredict: c.maxTokens},
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}
	return payload, nil
}

// readOllamaStream consumes the NDJSON response body. Lines that fail to
// decode are skipped; the "done" marker ends the stream.
func readOllamaStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	var text, thinking strings.Builder

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Done {
			break
		}
		if chunk.Message.Thinking != "" {
			thinking.WriteString(chunk.Message.Thinking)
			continue
		}
		token := chunk.Message.Content
		if token == "" {
			continue
		}
		if sr.ttft.IsZero() {
			sr.ttft = time.Now()
		}
		if onToken != nil {
			onToken(token)
		}
		text.WriteString(token)
	}

	sr.text = text.String()
	sr.thinking = thinking.String()
	return sr
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
