// Package generator wraps the text-generation backends behind a single interface and classifies
// their failures so the call gate can tell rate limits from everything else.
package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aktagon/news-digest/internal/config"
)

// ErrRateLimited marks a failure the caller may retry after backing off.
var ErrRateLimited = errors.New("rate limited")

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("no content in response")

// Options selects the model and sampling for one call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
}

// OptionsFor builds call options from the agent settings configured for task.
func OptionsFor(cfg *config.Config, task config.Task) Options {
	agent := cfg.Agent(task)
	return Options{
		Model:       agent.Model,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// IsRateLimited reports whether err was classified as a rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// RateLimitError carries the backend error that was classified as a rate limit.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	return []error{ErrRateLimited, e.Err}
}

// rateLimitMarkers are substrings backends put in throttling errors that carry no typed status.
var rateLimitMarkers = []string{
	"429",
	"rate_limit",
	"rate limit",
	"too many requests",
	"overloaded",
	"resource_exhausted",
	"resource exhausted",
}

// classify wraps err as a RateLimitError when it looks like throttling.
func classify(err error) error {
	if err == nil || IsRateLimited(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return &RateLimitError{Err: err}
		}
	}
	return err
}

// IsRateLimitStatus reports whether an HTTP status code means "slow down".
func IsRateLimitStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == 529
}

// New constructs the backend named by generator.provider.
func New(ctx context.Context, cfg *config.Config) (Generator, error) {
	switch cfg.Settings.Generator.Provider {
	case "vertex":
		return NewVertex(ctx, cfg.Settings.Generator.Vertex.Project, cfg.Settings.Generator.Vertex.Location)
	case "anthropic", "":
		return NewAnthropic(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Settings.Generator.Provider)
	}
}
