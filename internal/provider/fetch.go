package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/c2h5oh/datasize"
	"github.com/ssfun/ip-check/internal/ipc"
	"github.com/ssfun/ip-check/internal/ipchttp"
	"github.com/ssfun/ip-check/internal/keypool"
)

// MsgKeysExhausted is the canonical provider-error message produced when
// every executor attempt failed on credentials.
const MsgKeysExhausted = "All API keys exhausted"

// Fetcher executes single provider requests, rotating through the provider's
// credential pool and classifying failures.
type Fetcher struct {
	logger  *slog.Logger
	client  *ipchttp.Client
	metrics Metrics

	maxRespSize datasize.ByteSize
}

// FetcherConfig is the configuration structure for [NewFetcher].  All fields
// must not be empty.
type FetcherConfig struct {
	// Logger is used to log the operation of the fetcher.
	Logger *slog.Logger

	// Client is the HTTP client used for all provider requests.  Its timeout
	// applies per outbound call.
	Client *ipchttp.Client

	// Metrics collects the request statistics.
	Metrics Metrics

	// MaxRespSize is the maximum allowed size of a provider response body.
	MaxRespSize datasize.ByteSize
}

// NewFetcher returns a new properly initialized *Fetcher.  c must not be
// nil.
func NewFetcher(c *FetcherConfig) (f *Fetcher) {
	return &Fetcher{
		logger:      c.Logger,
		client:      c.Client,
		metrics:     c.Metrics,
		maxRespSize: c.MaxRespSize,
	}
}

// Fetch queries d for target and returns a settled result.  Failures are
// never returned as errors, they are folded into the result, so that a
// single provider cannot fail the whole aggregation.
func (f *Fetcher) Fetch(ctx context.Context, d *Descriptor, target *Target) (res *ipc.ProviderResult) {
	var err error
	if d.HasKeys() {
		res, err = f.fetchKeyed(ctx, d, target)
	} else {
		res, err = f.attempt(ctx, d, target, "")
	}

	if err != nil {
		f.logger.DebugContext(
			ctx,
			"provider failed",
			"source", d.Name,
			"ip", target.IP,
			slogutil.KeyError, err,
		)

		return &ipc.ProviderResult{
			Source: d.Name,
			Status: ipc.StatusError,
			Err:    err.Error(),
		}
	}

	return res
}

// fetchKeyed runs the executor loop over the credential pool of d: up to
// min(poolSize, 3) attempts, rotating only past failures that are
// key-related or HTTP 5xx.
func (f *Fetcher) fetchKeyed(
	ctx context.Context,
	d *Descriptor,
	target *Target,
) (res *ipc.ProviderResult, err error) {
	pool := d.Pool()

	var lastErr error
	for range pool.Attempts() {
		k, nextErr := pool.Next(ctx)
		if nextErr != nil {
			// Don't check the error: Next only fails with
			// [keypool.ErrNoKeys].
			break
		}

		res, err = f.attempt(ctx, d, target, k.Value())
		if err == nil {
			pool.MarkSuccess(ctx, k)

			return res, nil
		}

		if !shouldRetry(err) {
			return nil, err
		}

		pool.MarkFailure(ctx, k, err.Error())
		lastErr = err
	}

	f.metrics.IncKeysExhausted(ctx, string(d.Name))

	if lastErr != nil {
		return nil, fmt.Errorf("%s: %w", MsgKeysExhausted, lastErr)
	}

	return nil, errors.Error(MsgKeysExhausted)
}

// attempt performs one provider request and settles it into a result.
func (f *Fetcher) attempt(
	ctx context.Context,
	d *Descriptor,
	target *Target,
	key string,
) (res *ipc.ProviderResult, err error) {
	start := time.Now()
	data, raw, err := f.fetchOnce(ctx, d, target, key)
	f.metrics.ObserveRequest(ctx, string(d.Name), err == nil, time.Since(start))

	if err != nil {
		return nil, err
	}

	return &ipc.ProviderResult{
		Source:  d.Name,
		Status:  ipc.StatusSuccess,
		Data:    data,
		RawData: raw,
	}, nil
}

// fetchOnce builds the request from the descriptor, issues it, and runs the
// transforms.
func (f *Fetcher) fetchOnce(
	ctx context.Context,
	d *Descriptor,
	target *Target,
	key string,
) (data ipc.Map, raw map[string]any, err error) {
	u := d.BuildURL(d.BaseURL, target, key)

	var hdr http.Header
	if d.BuildHeader != nil && key != "" {
		hdr = d.BuildHeader(key)
	}

	resp, err := f.client.Get(ctx, u, hdr)
	if err != nil {
		return nil, nil, fmt.Errorf("requesting %s: %w", d.Name, err)
	}

	body, err := ipchttp.ReadLimited(resp, f.maxRespSize)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s response: %w", d.Name, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, nil, &ipchttp.StatusError{
			ServerName: string(d.Name),
			Body:       string(body),
			Expected:   http.StatusOK,
			Got:        resp.StatusCode,
		}
	}

	var payload map[string]any
	err = json.Unmarshal(body, &payload)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding %s response: %w", d.Name, err)
	}

	if d.CheckError != nil && d.CheckError(payload) {
		msg := ""
		if d.ErrorMessage != nil {
			msg = d.ErrorMessage(payload)
		}

		if msg == "" {
			msg = "provider reported failure"
		}

		return nil, nil, fmt.Errorf("%s: %s", d.Name, msg)
	}

	data = d.Transform(payload)
	if d.RawTransform != nil {
		raw = d.RawTransform(payload)
	}

	return data, raw, nil
}

// shouldRetry reports whether a failed attempt should rotate to the next
// key: key-related errors and HTTP 5xx responses do, everything else stops
// the executor loop.
func shouldRetry(err error) (ok bool) {
	status := 0

	var statusErr *ipchttp.StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.Got
		if status >= http.StatusInternalServerError {
			return true
		}
	}

	return keypool.IsKeyRelatedError(status, err.Error())
}
