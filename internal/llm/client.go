// Package llm generates answers to spoken questions through a chat
// completion model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyAnswer is returned when the model produces no usable text.
var ErrEmptyAnswer = errors.New("llm: model returned empty answer")

const systemPrompt = "You are a voice assistant. Answer the question directly and " +
	"concisely in plain prose suitable for reading aloud. No markdown, no lists, " +
	"no code blocks."

// Client answers questions. Implementations must be safe for
// concurrent use.
type Client interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Config configures the OpenAI-backed client.
type Config struct {
	APIKey  string
	BaseURL string // optional override for compatible endpoints
	Model   string
}

// OpenAI is the production Client backed by the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a client from config. Model defaults to GPT-4o mini.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Answer asks the model one question and returns its answer text.
func (c *OpenAI) Answer(ctx context.Context, question string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyAnswer
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
