package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestOpenAIAnswer(t *testing.T) {
	srv := completionServer(t, "  The answer is 42.  ")
	defer srv.Close()

	client, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	answer, err := client.Answer(context.Background(), "what is the answer")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != "The answer is 42." {
		t.Errorf("answer = %q", answer)
	}
}

func TestOpenAIEmptyAnswer(t *testing.T) {
	srv := completionServer(t, "   ")
	defer srv.Close()

	client, err := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	if _, err := client.Answer(context.Background(), "q"); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("got %v, want ErrEmptyAnswer", err)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{}); err == nil {
		t.Error("expected error for missing api key")
	}
}

func TestMock(t *testing.T) {
	m := &Mock{Answers: map[string]string{"q": "a"}}

	answer, err := m.Answer(context.Background(), "q")
	if err != nil || answer != "a" {
		t.Errorf("Answer = %q, %v", answer, err)
	}

	if _, err := m.Answer(context.Background(), "unknown"); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("unknown question: got %v, want ErrEmptyAnswer", err)
	}

	if calls := m.Calls(); len(calls) != 2 {
		t.Errorf("calls = %v", calls)
	}
}
