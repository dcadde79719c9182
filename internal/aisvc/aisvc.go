// Package aisvc contains the LLM summarizer: a stateless wrapper around a
// chat-completion endpoint that turns a derived record into a short Markdown
// assessment.
package aisvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/c2h5oh/datasize"
	"github.com/ssfun/ip-check/internal/errcoll"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipchttp"
	"github.com/ssfun/ip-check/internal/remotekv"
)

// Sentinel reasoning strings.
const (
	// MsgFailedPrefix starts every failure reasoning.  Responses carrying it
	// are never cached.
	MsgFailedPrefix = "AI Analysis Failed"

	// MsgUnavailable is the canonical reasoning when the summarizer is not
	// configured.  It is never cached either.
	MsgUnavailable = "AI analysis is temporarily unavailable"
)

// Default request parameters.
const (
	// defaultTemperature keeps the assessments consistent across runs.
	defaultTemperature = 0.3

	// maxRespSize bounds a completion response body.
	maxRespSize = 1 * datasize.MB
)

// analysisKeyPrefix is the cache-key prefix of stored analyses.
const analysisKeyPrefix = "v1:ai:analysis:"

// Analysis is the result of a summarization.
type Analysis struct {
	// Debug carries optional diagnostics, such as the upstream error or a
	// cache marker.
	Debug map[string]any `json:"debug,omitempty"`

	// Reasoning is the Markdown assessment, or a sentinel failure string.
	Reasoning string `json:"reasoning"`
}

// Service is the LLM summarizer.  A nil or unconfigured service reports
// itself as disabled and the HTTP layer answers 503.
type Service struct {
	logger  *slog.Logger
	client  *ipchttp.Client
	kv      remotekv.Interface
	errColl errcoll.Interface

	endpoint *url.URL
	apiKey   string
	model    string
	cacheTTL time.Duration
}

// Config is the configuration structure for [New].  All fields must not be
// empty.
type Config struct {
	// Logger is used to log the operation of the summarizer.
	Logger *slog.Logger

	// Client is the HTTP client for completion requests.  Its timeout should
	// be three times the provider request timeout.
	Client *ipchttp.Client

	// KV caches successful analyses.  Its failures are never fatal.
	KV remotekv.Interface

	// ErrColl collects non-critical errors, such as cache failures.
	ErrColl errcoll.Interface

	// BaseURL is the base of the chat-completion API.
	BaseURL *url.URL

	// APIKey is the bearer token of the completion API.
	APIKey string

	// Model is the completion model identifier.
	Model string

	// CacheTTL is the lifetime of a cached analysis.
	CacheTTL time.Duration
}

// New returns a new properly initialized *Service.  c must not be nil.
func New(c *Config) (s *Service) {
	return &Service{
		logger:   c.Logger,
		client:   c.Client,
		kv:       c.KV,
		errColl:  c.ErrColl,
		endpoint: c.BaseURL.JoinPath("chat", "completions"),
		apiKey:   c.APIKey,
		model:    c.Model,
		cacheTTL: c.CacheTTL,
	}
}

// Enabled reports whether s is usable.  s may be nil.
func (s *Service) Enabled() (ok bool) {
	return s != nil && s.apiKey != ""
}

// Cacheable reports whether reasoning may be stored: a non-empty string that
// is neither a failure sentinel nor the unavailability notice.
func Cacheable(reasoning string) (ok bool) {
	return reasoning != "" &&
		!strings.HasPrefix(reasoning, MsgFailedPrefix) &&
		reasoning != MsgUnavailable
}

// Analyze summarizes rec for ip.  Transport and parse failures are folded
// into a sentinel reasoning and never returned as errors.
func (s *Service) Analyze(ctx context.Context, ip string, rec *ipc.Derived) (a *Analysis) {
	if !s.Enabled() {
		return &Analysis{Reasoning: MsgUnavailable}
	}

	if a = s.fromCache(ctx, ip); a != nil {
		return a
	}

	reasoning, err := s.complete(ctx, buildUserPrompt(ip, rec))
	if err != nil {
		s.logger.DebugContext(ctx, "analysis failed", "ip", ip, slogutil.KeyError, err)

		return &Analysis{
			Reasoning: MsgFailedPrefix + ": " + err.Error(),
			Debug:     map[string]any{"error": err.Error()},
		}
	}

	a = &Analysis{Reasoning: reasoning}
	s.persist(ctx, ip, a)

	return a
}

// chatRequest is the JSON shape of a completion request.
type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []*chatMessage `json:"messages"`
	Temperature float64        `json:"temperature"`
}

// chatMessage is one message of a completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the JSON shape of a completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete issues one completion request and returns the reasoning text.
func (s *Service) complete(ctx context.Context, userPrompt string) (reasoning string, err error) {
	reqBody, err := json.Marshal(&chatRequest{
		Model: s.model,
		Messages: []*chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: defaultTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	hdr := http.Header{
		httphdr.Authorization: []string{"Bearer " + s.apiKey},
	}

	resp, err := s.client.Post(
		ctx,
		s.endpoint,
		hdr,
		ipchttp.HdrValApplicationJSON,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return "", fmt.Errorf("requesting completion: %w", err)
	}

	body, err := ipchttp.ReadLimited(resp, maxRespSize)
	if err != nil {
		return "", fmt.Errorf("reading completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ipchttp.StatusError{
			ServerName: "llm",
			Body:       string(body),
			Expected:   http.StatusOK,
			Got:        resp.StatusCode,
		}
	}

	var parsed chatResponse
	err = json.Unmarshal(body, &parsed)
	if err != nil {
		return "", fmt.Errorf("decoding completion response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", errors.Error("empty completion response")
	}

	reasoning = strings.TrimSpace(parsed.Choices[0].Message.Content)
	if reasoning == "" {
		return "", errors.Error("empty completion content")
	}

	return reasoning, nil
}

// fromCache returns the cached analysis for ip, nil on a miss.  Cache
// failures degrade to a miss.
func (s *Service) fromCache(ctx context.Context, ip string) (a *Analysis) {
	val, ok, err := s.kv.Get(ctx, analysisKeyPrefix+ip)
	if err != nil {
		errcoll.Collect(ctx, s.errColl, s.logger, "analysis cache get", err)

		return nil
	} else if !ok {
		return nil
	}

	return &Analysis{
		Reasoning: string(val),
		Debug:     map[string]any{"cached": true},
	}
}

// persist stores a successful analysis, if it is cacheable at all.  Write
// failures are collected and swallowed.
func (s *Service) persist(ctx context.Context, ip string, a *Analysis) {
	if !Cacheable(a.Reasoning) {
		return
	}

	err := s.kv.Set(ctx, analysisKeyPrefix+ip, []byte(a.Reasoning), s.cacheTTL)
	if err != nil {
		errcoll.Collect(ctx, s.errColl, s.logger, "analysis cache set", err)
	}
}
