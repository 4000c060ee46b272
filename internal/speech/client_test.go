package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{
		Endpoint:   srv.URL,
		Voice:      "test-voice",
		HTTPClient: srv.Client(),
	}, NewCooldown())
	// Tests should not be paced by the client-side limiter.
	c.limiter.SetLimit(1e6)
	return c, srv
}

func audioJSON(t *testing.T, audio []byte, mime string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"audio":     base64.StdEncoding.EncodeToString(audio),
		"mime_type": mime,
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func TestSynthesizePassthrough(t *testing.T) {
	audio := []byte("not really mp3 but opaque to the client")
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Text != "hello" || req.Voice != "test-voice" {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write(audioJSON(t, audio, "audio/mpeg")) //nolint:errcheck
	})

	res, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.MIMEType != "audio/mpeg" {
		t.Errorf("mime = %q, want audio/mpeg", res.MIMEType)
	}
	if res.SourceMIME != "" {
		t.Errorf("source mime = %q, want empty for non-PCM", res.SourceMIME)
	}
	if string(res.Data) != string(audio) {
		t.Error("audio bytes were modified in passthrough")
	}
}

func TestSynthesizeConvertsRawPCM(t *testing.T) {
	pcm := make([]byte, 480)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioJSON(t, pcm, "audio/L16;codec=pcm;rate=24000")) //nolint:errcheck
	})

	res, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.MIMEType != MIMEWAV {
		t.Errorf("mime = %q, want %q", res.MIMEType, MIMEWAV)
	}
	if res.SourceMIME != "audio/L16;codec=pcm;rate=24000" {
		t.Errorf("source mime = %q", res.SourceMIME)
	}
	got, rate := SplitWAV(res.Data)
	if rate != 24000 || len(got) != len(pcm) {
		t.Errorf("container round trip: %d bytes at %d Hz", len(got), rate)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	})
	if _, err := c.Synthesize(context.Background(), ""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestSynthesizeRateLimitSetsCooldownAndRetries(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"retry_after_ms": 50}`)
			return
		}
		w.Write(audioJSON(t, []byte{1, 2}, "audio/wav")) //nolint:errcheck
	})

	start := time.Now()
	res, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res == nil || len(res.Data) == 0 {
		t.Fatal("no audio after retry")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if elapsed := time.Since(start); elapsed < 45*time.Millisecond {
		t.Errorf("retried after %s, want >= ~50ms cooldown", elapsed)
	}
}

func TestSynthesizeRateLimitRetryAfterHeader(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(audioJSON(t, []byte{1}, "audio/wav")) //nolint:errcheck
	})

	// Cancel instead of sitting out the full second.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Synthesize(ctx, "hello")
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want deadline exceeded while cooling down", err)
	}
	if rem := c.Cooldown().Remaining(); rem < 500*time.Millisecond {
		t.Errorf("cooldown remaining = %s, want close to 1s", rem)
	}
}

func TestSynthesizeTerminalFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad voice", http.StatusBadRequest)
	})

	_, err := c.Synthesize(context.Background(), "hello")
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 (no retries)", calls.Load())
	}
	if IsRetryable(err) {
		t.Error("terminal failure reported as retryable")
	}
}

func TestSynthesizeEmptyAudioTerminal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"audio": "", "mime_type": "audio/wav"}`)
	})
	if _, err := c.Synthesize(context.Background(), "hello"); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("err = %v, want ErrEmptyAudio", err)
	}
}

func TestSynthesizeSharedCooldownDelaysAllCallers(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioJSON(t, []byte{1}, "audio/wav")) //nolint:errcheck
	})
	c.Cooldown().Set(40 * time.Millisecond)

	start := time.Now()
	if _, err := c.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Errorf("request issued after %s despite active cooldown", elapsed)
	}
}

func TestIsRetryableTaxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&RateLimitedError{RetryAfter: time.Second}, true},
		{&TransientError{Err: errors.New("conn reset")}, true},
		{ErrSynthesisFailed, false},
		{ErrEmptyAudio, false},
		{fmt.Errorf("wrapped: %w", &TransientError{Err: errors.New("x")}), true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSynthesizeTransientFaultRetried(t *testing.T) {
	if testing.Short() {
		t.Skip("retry delay makes this test slow")
	}
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection mid-response to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("response writer does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatal(err)
			}
			conn.Close() //nolint:errcheck
			return
		}
		w.Write(audioJSON(t, []byte{1, 2}, "audio/wav")) //nolint:errcheck
	})

	res, err := c.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Data) == 0 {
		t.Fatal("no audio after transient retry")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}
