// Package llm calls an OpenAI-compatible chat-completions endpoint with a
// closed tool set. One call per inbound user message, bounded retry, tight
// deadline; the model is an oracle behind a typed function-calling envelope.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kfirel/hiker/pkg/config"
	"github.com/kfirel/hiker/pkg/httpclient"
	"github.com/kfirel/hiker/pkg/resilience"
)

// ErrBusy is returned when the concurrency cap is reached; the caller replies
// with the localized busy string instead of queueing unboundedly.
var ErrBusy = errors.New("model endpoint saturated")

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

// Tool describes one function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ToolCall is a structured call produced by the model.
type ToolCall struct {
	Name      string
	Arguments json.RawMessage
}

// Result is the model's answer: free text, a tool call, or both.
type Result struct {
	Text     string
	ToolCall *ToolCall
}

// Client is the chat-completions adapter.
type Client struct {
	http    *httpclient.Client
	apiKey  string
	model   string
	retries int
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	sem     chan struct{}
}

// NewClient creates the adapter from configuration.
func NewClient(cfg *config.LLMConfig) *Client {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}

	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "llm",
		Timeout:          time.Minute,
		FailureThreshold: 5,
	}, nil)

	return &Client{
		http:    httpclient.NewClient(cfg.BaseURL, cfg.LLMTimeout()),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		retries: cfg.Retries,
		timeout: cfg.LLMTimeout(),
		breaker: breaker,
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Complete issues a single chat completion over the system prompt, bounded
// history and the inbound user text. Returns ErrBusy without waiting when the
// concurrency cap is reached.
func (c *Client) Complete(ctx context.Context, system string, history []Message, userText string, tools []Tool) (*Result, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	default:
		return nil, ErrBusy
	}

	retry := resilience.RetryConfig{
		MaxAttempts:       c.retries + 1,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		EnableJitter:      true,
		// Each attempt carries its own deadline, so a timed-out attempt
		// surfaces as context.DeadlineExceeded. That is the failure the retry
		// budget exists for; give up only when the caller itself is gone or
		// the breaker is open.
		RetryableChecker: func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			return !errors.Is(err, resilience.ErrCircuitOpen)
		},
	}

	result, err := resilience.RetryWithName(ctx, retry, func(ctx context.Context) (interface{}, error) {
		return c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return c.complete(ctx, system, history, userText, tools)
		})
	}, "llm")
	if err != nil {
		return nil, err
	}
	return result.(*Result), nil
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []Message     `json:"messages"`
	Tools      []wireTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, system string, history []Message, userText string, tools []Tool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userText})

	req := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
		for _, t := range tools {
			req.Tools = append(req.Tools, wireTool{
				Type: "function",
				Function: wireFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}

	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}

	body, err := c.http.Post(ctx, "/v1/chat/completions", req, headers)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	msg := resp.Choices[0].Message
	result := &Result{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		// The contract is a single call per message; extras are dropped.
		first := msg.ToolCalls[0].Function
		result.ToolCall = &ToolCall{
			Name:      first.Name,
			Arguments: json.RawMessage(first.Arguments),
		}
	}
	return result, nil
}
