package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeOpenAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			if r.Header.Get("Authorization") == "Bearer limited" {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"llama3:8b",
"choices":[{"index":0,"message":{"role":"assistant","content":"func Validate() {}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":7,"completion_tokens":5,"total_tokens":12}}`))
		case strings.HasSuffix(r.URL.Path, "/models"):
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"llama3:8b","object":"model","created":1,"owned_by":"library"},{"id":"codellama:13b","object":"model","created":1,"owned_by":"library"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	srv := newFakeOpenAIServer(t)
	defer srv.Close()

	a, err := NewLocalAdapter(srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	resp, err := a.Generate(context.Background(), "llama3:8b", "write a validator")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "func Validate() {}" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAICompatibleListModels(t *testing.T) {
	srv := newFakeOpenAIServer(t)
	defer srv.Close()

	a, _ := NewLocalAdapter(srv.URL+"/v1", "")
	ids, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "llama3:8b" || ids[1] != "codellama:13b" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestOpenAICompatibleClassifiesErrors(t *testing.T) {
	srv := newFakeOpenAIServer(t)
	defer srv.Close()

	a, _ := NewOpenRouterAdapter(srv.URL+"/v1", "limited")
	_, err := a.Generate(context.Background(), "x", "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if KindOf(err) != KindRateLimit {
		t.Fatalf("kind = %s, want rate_limit (%v)", KindOf(err), err)
	}
	if !IsTransient(err) {
		t.Fatalf("rate limit should be transient")
	}
}

func TestAdapterConstructorsRequireCredentials(t *testing.T) {
	if _, err := NewOpenRouterAdapter("", ""); err == nil {
		t.Errorf("expected openrouter key error")
	}
	if _, err := NewAnthropicAdapter(""); err == nil {
		t.Errorf("expected anthropic key error")
	}
	if _, err := NewLocalAdapter("", ""); err == nil {
		t.Errorf("expected local base URL error")
	}
}
