// Package ai issues Builder and Auditor LLM calls and runs exactly one
// attempt round at a time for the phase executor.
package ai

import (
	"context"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/autopack-ai/autopack/internal/types"
)

// Model tiers. Builder rounds need the stronger model; auditor rounds only
// review a patch and run on the cost-efficient tier.
const (
	ModelSonnet = "claude-sonnet-4-5-20250929"
	ModelHaiku  = "claude-3-5-haiku-20241022"
)

// BuilderModel returns the builder model, honoring AUTOPACK_MODEL_BUILDER
func BuilderModel() string {
	if m := os.Getenv("AUTOPACK_MODEL_BUILDER"); m != "" {
		return m
	}
	return ModelSonnet
}

// AuditorModel returns the auditor model, honoring AUTOPACK_MODEL_AUDITOR
func AuditorModel() string {
	if m := os.Getenv("AUTOPACK_MODEL_AUDITOR"); m != "" {
		return m
	}
	return ModelHaiku
}

// Client is the LLM call boundary. The executor tests substitute a scripted
// fake; production uses AnthropicClient.
type Client interface {
	Complete(ctx context.Context, req types.LLMRequest) (*types.LLMResult, error)
}

// AnthropicClient implements Client against the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates a client from the given API key, falling back
// to ANTHROPIC_API_KEY.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Complete issues one Messages API call with the enforced token ceiling
func (c *AnthropicClient) Complete(ctx context.Context, req types.LLMRequest) (*types.LLMResult, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, err
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	stopReason := string(resp.StopReason)
	return &types.LLMResult{
		Success:      true,
		PatchContent: text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		ModelUsed:    req.Model,
		StopReason:   stopReason,
		Truncated:    stopReason == "max_tokens",
	}, nil
}
