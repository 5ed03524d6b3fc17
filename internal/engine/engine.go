// Package engine adapts the genkit generation API for the chat
// controller and the finalizer.
package engine

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// StreamFunc receives one response fragment. Returning an error aborts
// the generation.
type StreamFunc func(ctx context.Context, fragment string) error

// Engine produces model responses from assembled message sequences.
type Engine struct {
	g     *genkit.Genkit
	model string
	retry RetryConfig
}

// New wraps an initialized genkit instance with a fixed model name.
func New(g *genkit.Genkit, model string) *Engine {
	return &Engine{g: g, model: model, retry: DefaultRetryConfig()}
}

// Stream generates a response, invoking fn for each fragment as it
// arrives. The full accumulated text is returned when the generation
// completes.
func (e *Engine) Stream(ctx context.Context, msgs []*ai.Message, fn StreamFunc) (string, error) {
	resp, err := genkit.Generate(ctx, e.g,
		ai.WithModelName(e.model),
		ai.WithMessages(msgs...),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return fn(ctx, chunk.Text())
		}),
	)
	if err != nil {
		return "", fmt.Errorf("streaming generation failed: %w", err)
	}
	return resp.Text(), nil
}

// Invoke generates a complete response without streaming, retrying
// transient provider failures with backoff. Used for summarization
// where fragments have no consumer. Stream does not retry: forwarded
// fragments cannot be taken back.
func (e *Engine) Invoke(ctx context.Context, msgs []*ai.Message) (string, error) {
	text, err := withRetry(ctx, e.retry, func() (string, error) {
		resp, err := genkit.Generate(ctx, e.g,
			ai.WithModelName(e.model),
			ai.WithMessages(msgs...),
		)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return text, nil
}
