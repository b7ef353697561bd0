package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when recent calls to the service failed often
// enough that further calls are refused for a while.
var ErrCircuitOpen = errors.New("tile service circuit breaker is open")

const maxResponseBody = 4 << 20

// ClientConfig tunes the HTTP client used for calls to the tile service.
type ClientConfig struct {
	// Timeout bounds a single service call. Downloads are bounded by the
	// caller's context only.
	// Default: 60 seconds
	Timeout time.Duration

	// MaxRetries is how often an idempotent GET is retried on network
	// errors and 5xx statuses. Submissions are never retried.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the first retry backoff.
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff.
	// Default: 5 seconds
	MaxInterval time.Duration

	// BreakerTimeout is how long the breaker stays open before letting a
	// probe request through.
	// Default: 60 seconds
	BreakerTimeout time.Duration

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// DefaultClientConfig returns the defaults documented on ClientConfig.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:         60 * time.Second,
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		BreakerTimeout:  60 * time.Second,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

type response struct {
	status int
	body   []byte
}

type statusError struct {
	status int
	// answered is set when the body carries an ArcGIS error object, i.e. the
	// service is up and refused the request on its own terms.
	answered bool
}

func (e *statusError) Error() string {
	return "tile service: " + http.StatusText(e.status)
}

// client talks to the tile service through a circuit breaker.
type client struct {
	api      *http.Client
	download *http.Client
	breaker  *gobreaker.CircuitBreaker[response]
	cfg      ClientConfig
}

func newClient(name string, cfg ClientConfig) *client {
	cfg = cfg.withDefaults()
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &client{
		api:      &http.Client{Transport: transport, Timeout: cfg.Timeout},
		download: &http.Client{Transport: transport},
		breaker: gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 5 && failureRatio >= 0.5
			},
			IsSuccessful: func(err error) bool {
				var se *statusError
				return err == nil || (errors.As(err, &se) && se.answered)
			},
		}),
		cfg: cfg,
	}
}

// do runs one request. A 5xx status is reported as a *statusError alongside
// the response so callers can still read an error body. Only 5xx answers
// without an ArcGIS error object count against the breaker.
func (c *client) do(req *http.Request) (response, error) {
	r, err := c.breaker.Execute(func() (response, error) {
		resp, err := c.api.Do(req)
		if err != nil {
			return response{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return response{}, fmt.Errorf("read response: %w", err)
		}
		r := response{status: resp.StatusCode, body: body}
		if r.status >= http.StatusInternalServerError {
			return r, &statusError{status: r.status, answered: hasAPIError(body)}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return response{}, ErrCircuitOpen
	}
	return r, err
}

// get performs an idempotent GET, retrying network errors and 5xx statuses.
func (c *client) get(ctx context.Context, u string) (response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	var last response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.do(req)
		if errors.Is(err, ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		if r.status != 0 {
			last = r
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx))
	var se *statusError
	if errors.As(err, &se) && last.status != 0 {
		// retries exhausted on a 5xx: the body may still explain why
		return last, nil
	}
	return last, err
}

// postForm submits a form exactly once.
func (c *client) postForm(ctx context.Context, u string, form url.Values) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	r, err := c.do(req)
	var se *statusError
	if errors.As(err, &se) {
		return r, nil
	}
	return r, err
}

// apiError is the error object ArcGIS REST endpoints embed in a response.
type apiError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type errorCarrier interface {
	failure() *apiError
}

type envelope struct {
	Error *apiError `json:"error,omitempty"`
}

func (e *envelope) failure() *apiError { return e.Error }

// decode unmarshals a service response. An error object in the body is left
// for the caller; a non-JSON body on a failed status becomes a ServiceError.
func decode(r response, out errorCarrier) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		if r.status >= http.StatusMultipleChoices {
			return &ServiceError{Code: r.status, Message: snippet(r.body)}
		}
		return fmt.Errorf("decode service response: %w", err)
	}
	if out.failure() == nil && r.status >= http.StatusMultipleChoices {
		return &ServiceError{Code: r.status, Message: http.StatusText(r.status)}
	}
	return nil
}

func hasAPIError(body []byte) bool {
	var env envelope
	return json.Unmarshal(body, &env) == nil && env.Error != nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
