// Package rest executes venue REST calls described by a RequestSpec:
// it reserves rate-limit weight, signs when the endpoint requires it,
// dispatches over HTTP, and applies the retry/backoff policy for
// throttling and server failures.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"venuewire/internal/circuitbreaker"
	"venuewire/internal/ratelimit"
	"venuewire/internal/sign"
	"venuewire/pkg/core"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Response is a raw venue reply. Deserialization into typed models is
// the caller's concern.
type Response struct {
	// StatusCode is the HTTP status returned by the venue.
	StatusCode int
	// Body contains the raw response body bytes.
	Body []byte
	// Headers contains the response headers.
	Headers http.Header
}

// IsSuccess returns true for 2xx responses.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Unmarshal parses the response body into v.
func (r *Response) Unmarshal(v any) error {
	return sonic.Unmarshal(r.Body, v)
}

// transportError marks a failure on the wire itself, before any venue
// response existed. Only these are eligible for the network retry path.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Executor sends one RequestSpec at a time over HTTP. It shares its
// rate limiter with the WebSocket path so both draw from the same
// venue budgets.
type Executor struct {
	client  *resty.Client
	config  *core.Config
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.Breaker
	logger  zerolog.Logger
	creds   func() (core.Credentials, bool)
	now     func() time.Time
}

// NewExecutor creates an Executor against config.BaseURL. The limiter
// is required; the breaker is optional.
func NewExecutor(config *core.Config, limiter *ratelimit.Limiter, breaker *circuitbreaker.Breaker) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	client.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	client.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return sonic.Unmarshal(data, v)
	})

	e := &Executor{
		client:  client,
		config:  config,
		limiter: limiter,
		breaker: breaker,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	e.creds = func() (core.Credentials, bool) {
		if config.Credentials == nil {
			return core.Credentials{}, false
		}
		return *config.Credentials, true
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		e.logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	return e, nil
}

// SetLogger configures the logger for the executor.
func (e *Executor) SetLogger(logger zerolog.Logger) {
	e.logger = logger
}

// SetCredentialSource replaces the default config-backed credential
// lookup. Each dispatch fetches the pair once through fn, so a rotating
// source never produces a key signed with another entry's secret.
func (e *Executor) SetCredentialSource(fn func() (core.Credentials, bool)) {
	e.creds = fn
}

// Close releases the underlying HTTP client.
func (e *Executor) Close() error {
	return e.client.Close()
}

// Execute runs the spec to completion: it waits out rate-limit windows
// and ban cooldowns, retries throttling (429) and server (5xx)
// responses with capped exponential backoff, and surfaces everything
// else immediately. Synchronous from the caller's viewpoint.
func (e *Executor) Execute(ctx context.Context, spec *core.RequestSpec) (*Response, error) {
	var rateAttempts, serverAttempts int

	for {
		if err := e.limiter.Wait(ctx, spec.Weight, spec.LimitType); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		if e.breaker != nil && !e.breaker.Allow() {
			return nil, core.ErrBreakerOpen
		}

		resp, err := e.dispatch(ctx, spec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Only wire failures retry. Everything raised before the
			// request left the process (missing or invalid credentials,
			// a malformed spec) is terminal and surfaces as-is.
			var terr *transportError
			if !errors.As(err, &terr) {
				return nil, err
			}
			if e.breaker != nil {
				e.breaker.Record(false)
			}
			serverAttempts++
			if serverAttempts > e.config.MaxServerRetries {
				return nil, fmt.Errorf("%w: %w",
					core.NewAPIError(core.ErrorTypeNetwork, 0, "request never reached the venue"), terr.err)
			}
			if err := e.pause(ctx, e.backoff(serverAttempts, 0)); err != nil {
				return nil, err
			}
			continue
		}

		e.limiter.SyncUsage(usageFromHeaders(resp.Headers, e.config.RateLimits))

		switch {
		case resp.IsSuccess():
			if e.breaker != nil {
				e.breaker.Record(true)
			}
			return resp, nil

		case resp.StatusCode == http.StatusTeapot:
			retryAfter := retryAfterHeader(resp.Headers)
			e.limiter.RecordRejection(resp.StatusCode, retryAfter)
			apiErr := venueError(core.ErrorTypeIPBan, resp)
			if until, banned := e.limiter.BannedUntil(); banned {
				apiErr.WithRetryAfter(until)
			}
			return nil, apiErr

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := retryAfterHeader(resp.Headers)
			e.limiter.RecordRejection(resp.StatusCode, retryAfter)
			rateAttempts++
			if rateAttempts > e.config.MaxRetries {
				return nil, venueError(core.ErrorTypeRateLimit, resp)
			}
			if err := e.pause(ctx, e.backoff(rateAttempts, retryAfter)); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			if e.breaker != nil {
				e.breaker.Record(false)
			}
			serverAttempts++
			if serverAttempts > e.config.MaxServerRetries {
				return nil, venueError(core.ErrorTypeServer, resp)
			}
			if err := e.pause(ctx, e.backoff(serverAttempts, retryAfterHeader(resp.Headers))); err != nil {
				return nil, err
			}

		case resp.StatusCode == http.StatusForbidden:
			return nil, venueError(core.ErrorTypeForbidden, resp)

		case resp.StatusCode == http.StatusConflict:
			// Partial success: the caller gets the body alongside the error.
			return resp, venueError(core.ErrorTypePartial, resp)

		default:
			return nil, venueError(core.ErrorTypeClientRequest, resp)
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, spec *core.RequestSpec) (*Response, error) {
	// One fetch per dispatch keeps the key/secret pair consistent even
	// while a keyring rotates underneath.
	creds, haveCreds := e.creds()

	params := spec.Params
	if spec.RequiresSignature() {
		if !haveCreds {
			return nil, core.ErrNoCredentials
		}
		if e.config.RecvWindow > 0 && !params.Has("recvWindow") {
			params = params.Clone().Set("recvWindow", e.config.RecvWindow)
		}
		signed, err := sign.Rest(params, creds, e.now())
		if err != nil {
			return nil, err
		}
		params = signed
	}

	req := e.client.R().SetContext(ctx)

	if spec.Security.RequiresAPIKey() {
		if !haveCreds {
			return nil, core.ErrNoCredentials
		}
		req.SetHeader(apiKeyHeader, creds.APIKey)
	}

	// The signature covers the exact byte order of the query string,
	// so it is sent pre-encoded rather than as a map.
	if len(params) > 0 {
		req.SetQueryString(params.Encode())
	}

	var resp *resty.Response
	var err error
	switch spec.Method {
	case http.MethodGet:
		resp, err = req.Get(spec.Path)
	case http.MethodPost:
		resp, err = req.Post(spec.Path)
	case http.MethodPut:
		resp, err = req.Put(spec.Path)
	case http.MethodDelete:
		resp, err = req.Delete(spec.Path)
	default:
		return nil, fmt.Errorf("unsupported http method: %s", spec.Method)
	}
	if err != nil {
		return nil, &transportError{fmt.Errorf("http request: %w", err)}
	}

	e.logger.Debug().
		Str("method", spec.Method).
		Str("path", spec.Path).
		Int("status", resp.StatusCode()).
		Int("size", len(resp.Bytes())).
		Msg("http response")

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Bytes(),
		Headers:    resp.Header(),
	}, nil
}

// backoff computes the wait before retry n (1-based): base doubled per
// attempt, capped, with up to 20% jitter. A venue Retry-After always
// overrides the computed value.
func (e *Executor) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	wait := min(e.config.RetryWaitMin*time.Duration(1<<uint(attempt-1)), e.config.RetryWaitMax)
	jitter := time.Duration(rand.Float64() * 0.2 * float64(wait))
	return wait + jitter
}

func (e *Executor) pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

func retryAfterHeader(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// usageFromHeaders extracts the venue's authoritative usage counters
// (X-MBX-USED-WEIGHT-*, X-MBX-ORDER-COUNT-*) for the tracked buckets.
func usageFromHeaders(h http.Header, limits []core.RateLimit) []core.RateLimit {
	var reports []core.RateLimit
	for _, def := range limits {
		var name string
		switch def.Type {
		case core.LimitRequestWeight:
			name = fmt.Sprintf("X-MBX-USED-WEIGHT-%d%c", def.IntervalNum, def.Interval.String()[0])
		case core.LimitOrders:
			name = fmt.Sprintf("X-MBX-ORDER-COUNT-%d%c", def.IntervalNum, def.Interval.String()[0])
		default:
			continue
		}
		v := h.Get(name)
		if v == "" {
			continue
		}
		count, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		def.Count = count
		reports = append(reports, def)
	}
	return reports
}

type venueErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func venueError(t core.ErrorType, resp *Response) *core.APIError {
	var body venueErrorBody
	if err := sonic.Unmarshal(resp.Body, &body); err == nil && body.Code != 0 {
		return core.NewAPIError(t, resp.StatusCode, body.Msg).WithCode(body.Code)
	}
	return core.NewAPIError(t, resp.StatusCode, http.StatusText(resp.StatusCode))
}
