package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// Retry policy constants.
const (
	// MaxAttempts bounds how many times a unit is sent to the service.
	// Rate-limit responses do not consume an attempt; they extend the
	// shared cooldown and the request is reissued once it expires.
	MaxAttempts = 4

	// baseCooldown is the delay applied after a rate-limit response that
	// carried no server-suggested delay. It doubles on each consecutive
	// rate limit for the same unit.
	baseCooldown = time.Second

	// Transient faults are retried after a short jittered delay.
	transientDelayMin = 500 * time.Millisecond
	transientDelayMax = time.Second
)

// Synthesizer converts one unit of answer text into one playable audio
// resource.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*AudioResource, error)
}

// ClientConfig configures the HTTP synthesis client.
type ClientConfig struct {
	// Endpoint is the full URL of the synthesis service.
	Endpoint string

	// APIKey authenticates requests; sent as a bearer token.
	APIKey string

	// Voice names the fixed target voice for all requests.
	Voice string

	// SpeakingRate adjusts the voice speed; 1.0 is normal.
	SpeakingRate float64

	// HTTPClient, when nil, defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Client is an HTTP client for the remote speech-synthesis service. All
// callers sharing a Client share its cooldown: a rate-limit response seen
// by one flow delays every flow.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	cooldown *Cooldown
	limiter  *rate.Limiter
}

// NewClient creates a synthesis client around the given shared cooldown.
func NewClient(cfg ClientConfig, cooldown *Cooldown) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.SpeakingRate <= 0 {
		cfg.SpeakingRate = 1.0
	}
	if cooldown == nil {
		cooldown = NewCooldown()
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		cooldown: cooldown,
		// Client-side ceiling: one request per 200ms with a small burst,
		// independent of server-driven cooldowns.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 2),
	}
}

// Cooldown exposes the shared cooldown so the pipeline can report
// perceptible delays to the UI.
func (c *Client) Cooldown() *Cooldown {
	return c.cooldown
}

// Synthesize sends one text unit to the service and returns its playable
// audio. Rate limits extend the shared cooldown and are reissued once it
// expires; transient network faults are retried up to MaxAttempts with a
// jittered delay; any other failure is terminal for the unit.
func (c *Client) Synthesize(ctx context.Context, text string) (*AudioResource, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	attempt := 1
	rateLimits := 0
	for {
		if err := c.cooldown.Wait(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := c.request(ctx, text)
		if err == nil {
			return res, nil
		}

		var rl *RateLimitedError
		if errors.As(err, &rl) {
			delay := rl.RetryAfter
			if delay <= 0 {
				delay = baseCooldown << rateLimits
			}
			rateLimits++
			c.cooldown.Set(delay)
			log.Warn("synthesis rate limited", "delay", delay, "hits", rateLimits)
			continue
		}

		var tr *TransientError
		if errors.As(err, &tr) {
			if attempt >= MaxAttempts {
				log.Error("synthesis gave up after transient faults", "attempts", attempt, "err", err)
				return nil, err
			}
			attempt++
			delay := transientDelayMin +
				time.Duration(rand.Int63n(int64(transientDelayMax-transientDelayMin)))
			log.Debug("synthesis transient fault, retrying", "attempt", attempt, "delay", delay, "err", tr.Err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}

		return nil, err
	}
}

type synthesisRequest struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	SpeakingRate float64 `json:"speaking_rate"`
}

type synthesisResponse struct {
	Audio    []byte `json:"audio"`
	MIMEType string `json:"mime_type"`
}

type rateLimitBody struct {
	RetryAfterMs int64 `json:"retry_after_ms"`
}

// request performs a single HTTP round trip, mapping the response onto
// the error taxonomy.
func (c *Client) request(ctx context.Context, text string) (*AudioResource, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:         text,
		Voice:        c.cfg.Voice,
		SpeakingRate: c.cfg.SpeakingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSynthesisFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var sr synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode synthesis response: %w", err)}
	}
	if len(sr.Audio) == 0 {
		return nil, ErrEmptyAudio
	}

	if IsRawPCM(sr.MIMEType) {
		return &AudioResource{
			Data:       EncodeWAV(sr.Audio, PCMRate(sr.MIMEType)),
			MIMEType:   MIMEWAV,
			SourceMIME: sr.MIMEType,
		}, nil
	}
	return &AudioResource{Data: sr.Audio, MIMEType: sr.MIMEType}, nil
}

// retryAfter extracts the server-suggested delay from a rate-limit
// response: a JSON body field first, then the Retry-After header.
func retryAfter(resp *http.Response) time.Duration {
	var body rateLimitBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err := json.Unmarshal(raw, &body); err == nil && body.RetryAfterMs > 0 {
		return time.Duration(body.RetryAfterMs) * time.Millisecond
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
