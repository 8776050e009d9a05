package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ppiankov/convergence/internal/logging"
)

// StatusError is a non-200 answer from an HTTP provider
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status of a provider error, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// Retryable reports whether err is a rate limit or a server error
func Retryable(err error) bool {
	code := StatusCode(err)
	return code == http.StatusTooManyRequests || code >= 500
}

// retryingProvider retries rate-limited and failed calls with exponential
// backoff
type retryingProvider struct {
	Provider
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// sleepFunc is swapped out in tests
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// WithRetry wraps p so Complete retries up to maxRetries times
func WithRetry(p Provider, maxRetries int, logger *zap.Logger) Provider {
	return &retryingProvider{
		Provider:   p,
		maxRetries: maxRetries,
		backoff:    2 * time.Second,
		logger:     logging.Component(logger, "llm"),
	}
}

func (r *retryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	backoff := r.backoff
	for attempt := 0; ; attempt++ {
		resp, err := r.Provider.Complete(ctx, req)
		if err == nil || attempt >= r.maxRetries || !Retryable(err) {
			return resp, err
		}

		r.logger.Warn("llm call failed, retrying",
			zap.String("provider", r.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("status", StatusCode(err)),
			zap.Duration("backoff", backoff))
		if err := sleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}
