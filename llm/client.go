// Package llm wraps the OpenAI-compatible completion endpoint behind a
// circuit breaker. Extraction, enhancement and consistency checks all go
// through this client; when the upstream model misbehaves the breaker
// opens and callers degrade to OCR-only behavior instead of queueing
// timeouts.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
)

// ErrUnavailable is returned while the circuit breaker is open. No
// request is sent upstream; callers treat the model as absent.
var ErrUnavailable = errors.New("llm unavailable")

// Usage reports token consumption of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is a completed chat call.
type Result struct {
	Content string
	Usage   Usage
}

// Completer is the subset of the OpenAI client the package needs.
// Satisfied by *openai.Client and by test doubles.
type Completer interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is a breaker-guarded chat client.
type Client struct {
	api         Completer
	breaker     *gobreaker.CircuitBreaker
	model       string
	visionModel string
}

// NewClient builds a client from configuration.
func NewClient(cfg config.LLMConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return NewClientWithCompleter(openai.NewClientWithConfig(apiCfg), cfg)
}

// NewClientWithCompleter creates a client on an injected completer.
// Used by tests.
func NewClientWithCompleter(api Completer, cfg config.LLMConfig) *Client {
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			common.Logger.WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("llm circuit breaker state changed")
		},
	})

	return &Client{
		api:         api,
		breaker:     breaker,
		model:       cfg.Model,
		visionModel: cfg.VisionModel,
	}
}

// Available reports whether the breaker currently admits calls.
func (c *Client) Available() bool {
	return c.breaker.State() != gobreaker.StateOpen
}

// Complete sends a chat request and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, user string) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
	}
	return c.execute(ctx, req)
}

// CompleteJSON sends a chat request with JSON response formatting and
// strips any markdown fences from the reply.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	result, err := c.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Content = StripFences(result.Content)
	return result, nil
}

// CompleteVision sends a prompt together with page images in PNG form.
func (c *Client) CompleteVision(ctx context.Context, system, user string, images [][]byte) (*Result, error) {
	model := c.visionModel
	if model == "" {
		model = c.model
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: user},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0,
	}
	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, req openai.ChatCompletionRequest) (*Result, error) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.api.CreateChatCompletion(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	resp := raw.(openai.ChatCompletionResponse)
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}
	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// StripFences removes a surrounding markdown code fence from a model
// reply, tolerating a language tag after the opening fence.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		first := strings.TrimSpace(trimmed[:idx])
		if first != "" && !strings.ContainsAny(first, "{[") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
