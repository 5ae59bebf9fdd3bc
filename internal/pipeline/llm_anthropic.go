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

	"github.com/voicewire/gateway/internal/frame"
)

// AnthropicLLMClient streams chat completions from the Anthropic Messages API.
type AnthropicLLMClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicLLMClient creates an Anthropic streaming client.
func NewAnthropicLLMClient(apiKey, url, model string, maxTokens, poolSize int) *AnthropicLLMClient {
	return &AnthropicLLMClient{
		apiKey:    apiKey,
		url:       url,
		model:     model,
		maxTokens: maxTokens,
		client:    NewPooledHTTPClient(poolSize, 120*time.Second),
	}
}

func (c *AnthropicLLMClient) Chat(ctx context.Context, turns []Turn, model string, onToken TokenCallback) (*LLMResult, error) {
	start := time.Now()

	useModel := c.model
	if model != "" {
		useModel = model
	}

	resp, err := c.postMessages(ctx, turns, useModel)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	sr := consumeAnthropicStream(resp.Body, onToken)
	return sr.toLLMResult(start), nil
}

func (c *AnthropicLLMClient) postMessages(ctx context.Context, turns []Turn, model string) (*http.Response, error) {
	// The Messages API takes system text as a top-level field, so system
	// turns (persona and injected notes) are lifted out of the dialogue.
	var system []string
	messages := make([]anthropicMessage, 0, len(turns))
	for _, t := range turns {
		if t.Role == frame.RoleSystem {
			system = append(system, t.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(t.Role), Content: t.Content})
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		Stream:    true,
		System:    strings.Join(system, "\n\n"),
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, errBody)
	}
	return resp, nil
}

// consumeAnthropicStream reads the SSE event stream until message_stop,
// forwarding text deltas as they arrive. Thinking deltas accumulate
// separately and are never spoken.
func consumeAnthropicStream(body io.Reader, onToken TokenCallback) streamResult {
	var sr streamResult
	var text, thinking strings.Builder
	var eventType string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()

		if after, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = after
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		switch eventType {
		case "message_stop":
			sr.text, sr.thinking = text.String(), thinking.String()
			return sr
		case "content_block_delta":
			var ev anthropicDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch {
			case ev.Delta.Type == "thinking_delta":
				thinking.WriteString(ev.Delta.Thinking)
			case ev.Delta.Text != "":
				if sr.ttft.IsZero() {
					sr.ttft = time.Now()
				}
				if onToken != nil {
					onToken(ev.Delta.Text)
				}
				text.WriteString(ev.Delta.Text)
			}
		}
	}

	sr.text, sr.thinking = text.String(), thinking.String()
	return sr
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta anthropicDelta `json:"delta"`
}

type anthropicDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}
