package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Reply is one canned answer of a ChatServer.
type Reply struct {
	Status  int
	Content string
}

// ChatMessage mirrors the request message; Content stays raw because it
// is either a string or a list of parts.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type ChatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []ChatMessage `json:"messages"`
	Raw       string        `json:"-"`
}

// ChatServer is a fake OpenAI-compatible chat completions endpoint.
// Replies are served in order; the last one repeats.
type ChatServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []ChatRequest
	replies  []Reply
}

func NewChatServer(t testing.TB, replies ...Reply) *ChatServer {
	t.Helper()
	if len(replies) == 0 {
		replies = []Reply{{Status: http.StatusOK, Content: "[]"}}
	}
	s := &ChatServer{replies: replies}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value for the client's endpoint setting.
func (s *ChatServer) BaseURL() string {
	return s.URL + "/v1"
}

func (s *ChatServer) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

func (s *ChatServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req ChatRequest
	_ = json.Unmarshal(body, &req)
	req.Raw = string(body)

	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req)
	reply := s.replies[min(idx, len(s.replies)-1)]
	s.mu.Unlock()

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if status != http.StatusOK {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": fmt.Sprintf("fake failure %d", status),
				"type":    "server_error",
			},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      fmt.Sprintf("chatcmpl-%d", idx),
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    "assistant",
				"content": reply.Content,
			},
		}},
	})
}
