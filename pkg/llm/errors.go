package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docqa/internal/models"
)

// classifyError tags a provider error with ErrProviderAuth or
// ErrProviderTransient. Errors that are neither are returned unchanged and
// are not retried.
func classifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, models.ErrProviderAuth), errors.Is(err, models.ErrProviderTransient),
		errors.Is(err, models.ErrDimensionMismatch):
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ollama.ErrEmptyResponse) || errors.Is(err, ollama.ErrIncompleteEmbedding) {
		return fmt.Errorf("%w: %w", models.ErrProviderTransient, err)
	}

	// The Ollama client does not export its status error, so fall back to
	// the message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "invalid api key"):
		return fmt.Errorf("%w: %w", models.ErrProviderAuth, err)
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "overloaded"), strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "too many requests"), strings.Contains(msg, "eof"):
		return fmt.Errorf("%w: %w", models.ErrProviderTransient, err)
	}
	return err
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", models.ErrProviderAuth, err)
	case code == http.StatusRequestTimeout, code == http.StatusConflict,
		code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", models.ErrProviderTransient, err)
	default:
		return err
	}
}

const (
	defaultRetryBase = 200 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
)

// retryDelay doubles base per attempt, capped at five seconds.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = defaultRetryBase
	}
	if attempt >= 16 {
		return maxRetryDelay
	}
	d := base << attempt
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
