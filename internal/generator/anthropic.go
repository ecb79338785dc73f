package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// promptFunc sends one request; swapped out in tests.
type promptFunc func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error)

// Anthropic generates text through the Anthropic Messages API.
type Anthropic struct {
	prompt promptFunc
}

// NewAnthropic creates an Anthropic generator. An API key is required.
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("API key required: use --api-key flag or ANTHROPIC_API_KEY environment variable")
	}

	return &Anthropic{
		prompt: func(systemPrompt, userPrompt string, settings types.RequestSettings) (string, error) {
			response, err := anthropic.PromptWithSettings(systemPrompt, userPrompt, "", apiKey, settings)
			if err != nil {
				return "", err
			}
			if len(response.Content) == 0 {
				return "", ErrEmptyResponse
			}
			return response.Content[0].Text, nil
		},
	}, nil
}

// Generate sends prompt as the user turn. The llmkit call is not context aware, so ctx is only
// checked before the request goes out.
func (a *Anthropic) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	settings := types.RequestSettings{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	text, err := a.prompt(opts.System, prompt, settings)
	if err != nil {
		return "", fmt.Errorf("anthropic %s: %w", opts.Model, classify(err))
	}
	return text, nil
}
