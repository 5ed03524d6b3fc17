package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient error substrings by category,
// matched case-insensitively. String matching because genkit and the
// provider SDKs expose no typed errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and worth retrying.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(lower, sub) {
				return true
			}
		}
	}
	return false
}

// withRetry runs fn with exponential backoff on transient errors.
// Non-retryable errors fail immediately.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() (string, error)) (string, error) {
	var lastErr error
	delay := cfg.InitialInterval

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		text, err := fn()
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !retryableError(err) {
			return "", err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return "", fmt.Errorf("after %d retries: %w", cfg.MaxRetries, lastErr)
}
