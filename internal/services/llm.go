package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"studygen/internal/logging"
)

// Completer issues one chat-completion call and returns the raw text of
// the first choice. Callers must not expect any structure in the result.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// NewOpenAIClient builds a client for any OpenAI-compatible endpoint.
func NewOpenAIClient(apiKey, endpoint string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	return openai.NewClientWithConfig(cfg)
}

type OpenAICompleter struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewOpenAICompleter(client *openai.Client, model string) *OpenAICompleter {
	return &OpenAICompleter{
		client:      client,
		model:       model,
		temperature: 0.4,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c == nil || c.client == nil || c.model == "" {
		return "", fmt.Errorf("%w: openai completer is not configured", ErrGenerationFailed)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   maxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", ErrGenerationFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

// RetryCompleter retries transient failures of the wrapped Completer with
// exponential backoff. One attempt means no retry.
type RetryCompleter struct {
	next     Completer
	attempts int
	backoff  time.Duration
	log      *logrus.Entry
}

func NewRetryCompleter(next Completer, attempts int, backoff time.Duration) *RetryCompleter {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryCompleter{
		next:     next,
		attempts: attempts,
		backoff:  backoff,
		log:      logging.New("llm"),
	}
}

func (r *RetryCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	wait := r.backoff
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		out, err := r.next.Complete(ctx, system, user, maxTokens)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == r.attempts || !retryable(err) {
			break
		}

		r.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("completion failed, retrying")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrGenerationFailed, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return "", lastErr
}

// retryable reports whether a completion error is worth another attempt.
// Client errors other than rate limiting are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
