// SPDX-License-Identifier: AGPL-3.0-or-later

package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Backend sends one system+user exchange to a chat model and returns the raw
// reply text.
type Backend interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIBackend implements Backend with github.com/sashabaranov/go-openai.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a backend. An empty BaseURL keeps the library
// default; any OpenAI-compatible server can be targeted by setting it.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.Model == "" {
		return nil, errors.New("classifier model is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// Model returns the configured model name.
func (b *OpenAIBackend) Model() string { return b.model }

// Complete asks for a JSON object reply at temperature zero.
func (b *OpenAIBackend) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature:         0,
		MaxCompletionTokens: 64,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", errContract)
	}
	return resp.Choices[0].Message.Content, nil
}
