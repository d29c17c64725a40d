package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"studygen/internal/testutil"
)

func TestOpenAICompleterReturnsFirstChoice(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Content: `[{"question":"Q1","answer":"A1"}]`})
	completer := NewOpenAICompleter(NewOpenAIClient("test-key", srv.BaseURL()), "test-model")

	out, err := completer.Complete(context.Background(), "system text", "user text", 2048)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `[{"question":"Q1","answer":"A1"}]` {
		t.Fatalf("unexpected completion %q", out)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.Model != "test-model" || req.MaxTokens != 2048 {
		t.Fatalf("unexpected request model=%q max_tokens=%d", req.Model, req.MaxTokens)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
	if !strings.Contains(string(req.Messages[1].Content), "user text") {
		t.Fatalf("user message not forwarded: %s", req.Messages[1].Content)
	}
}

func TestOpenAICompleterDoesNotValidateContent(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Content: "this is not json"})
	completer := NewOpenAICompleter(NewOpenAIClient("k", srv.BaseURL()), "m")

	out, err := completer.Complete(context.Background(), "s", "u", 10)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "this is not json" {
		t.Fatalf("unexpected completion %q", out)
	}
}

func TestOpenAICompleterFailure(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Status: http.StatusUnauthorized})
	completer := NewOpenAICompleter(NewOpenAIClient("bad", srv.BaseURL()), "m")

	_, err := completer.Complete(context.Background(), "s", "u", 10)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestRetryCompleterRetriesServerErrors(t *testing.T) {
	srv := testutil.NewChatServer(t,
		testutil.Reply{Status: http.StatusInternalServerError},
		testutil.Reply{Status: http.StatusTooManyRequests},
		testutil.Reply{Content: "ok"},
	)
	inner := NewOpenAICompleter(NewOpenAIClient("k", srv.BaseURL()), "m")
	completer := NewRetryCompleter(inner, 3, time.Millisecond)

	out, err := completer.Complete(context.Background(), "s", "u", 10)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected completion %q", out)
	}
	if n := len(srv.Requests()); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestRetryCompleterStopsOnClientErrors(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Status: http.StatusBadRequest})
	inner := NewOpenAICompleter(NewOpenAIClient("k", srv.BaseURL()), "m")
	completer := NewRetryCompleter(inner, 4, time.Millisecond)

	_, err := completer.Complete(context.Background(), "s", "u", 10)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("client errors must not be retried, got %d attempts", n)
	}
}

func TestRetryCompleterSingleAttemptByDefault(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Status: http.StatusServiceUnavailable})
	inner := NewOpenAICompleter(NewOpenAIClient("k", srv.BaseURL()), "m")
	completer := NewRetryCompleter(inner, 0, time.Millisecond)

	if _, err := completer.Complete(context.Background(), "s", "u", 10); err == nil {
		t.Fatal("expected failure")
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestVisionServiceSendsDataURI(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Content: "  A labelled diagram of a plant cell.  "})
	vision := NewVisionService(NewOpenAIClient("k", srv.BaseURL()), "vision-model")

	out, err := vision.DescribeImage(context.Background(), []byte("fake-png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if out != "A labelled diagram of a plant cell." {
		t.Fatalf("unexpected description %q", out)
	}

	req := srv.Requests()[0]
	if req.MaxTokens != visionMaxTokens {
		t.Fatalf("expected max_tokens %d, got %d", visionMaxTokens, req.MaxTokens)
	}
	if !strings.Contains(req.Raw, "data:image/png;base64,") {
		t.Fatalf("image not sent as data URI: %s", req.Raw)
	}
	if !strings.Contains(req.Raw, "educational content") {
		t.Fatalf("fixed instruction missing: %s", req.Raw)
	}
}

func TestVisionServiceFailureIsNotRetried(t *testing.T) {
	srv := testutil.NewChatServer(t, testutil.Reply{Status: http.StatusBadGateway})
	vision := NewVisionService(NewOpenAIClient("k", srv.BaseURL()), "vision-model")

	_, err := vision.DescribeImage(context.Background(), []byte("img"), "image/jpeg")
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestRetryable(t *testing.T) {
	if retryable(context.Canceled) {
		t.Fatal("cancellation must not be retried")
	}
	if retryable(context.DeadlineExceeded) {
		t.Fatal("deadline must not be retried")
	}
	if !retryable(errors.New("connection reset")) {
		t.Fatal("transport errors should be retried")
	}
}
