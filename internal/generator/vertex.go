package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Vertex generates text with Gemini models on Vertex AI.
type Vertex struct {
	client *genai.Client
}

// NewVertex creates a Vertex AI client for project and location.
func NewVertex(ctx context.Context, projectID, location string) (*Vertex, error) {
	if projectID == "" || location == "" {
		return nil, errors.New("NewVertex: projectID and location cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Vertex{client: client}, nil
}

// Generate runs one GenerateContent call with a model configured from opts.
func (v *Vertex) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := v.client.GenerativeModel(opts.Model)
	model.SetTemperature(float32(opts.Temperature))
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	if opts.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("vertex %s: %w", opts.Model, classifyGoogle(err))
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// Only the first candidate is used.
		break
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}

// Close releases the underlying client.
func (v *Vertex) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}

// classifyGoogle checks the typed REST and gRPC statuses before falling back to string markers.
func classifyGoogle(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && IsRateLimitStatus(apiErr.Code) {
		return &RateLimitError{Err: err}
	}
	if status.Code(err) == codes.ResourceExhausted {
		return &RateLimitError{Err: err}
	}
	return classify(err)
}
