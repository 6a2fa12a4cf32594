// Package refstore talks to the reference manager (Zotero Web API v3):
// change polling, metadata, source attachments, tags and highlight
// annotations written back onto the attachment.
package refstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/papersync/internal/syncerr"
)

// DefaultBaseURL is the public Zotero API.
const DefaultBaseURL = "https://api.zotero.org"

// Config addresses one user library.
type Config struct {
	BaseURL string
	UserID  string
	APIKey  string

	InboxTag string
	ReadTag  string

	// Timeout bounds each request, including the body read.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64
}

// Client is a Zotero API client. Errors are classified with syncerr so
// callers can tell retryable failures from authentication problems and
// definitive absences; the client itself never retries.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for cfg.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("zotero returned %d", e.Code)
	}
	return fmt.Sprintf("zotero returned %d: %s", e.Code, e.Body)
}

// HTTPStatusCode reports the response status.
func (e *StatusError) HTTPStatusCode() int { return e.Code }

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	header http.Header
}

type response struct {
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, op string, req request) (*response, error) {
	if err := c.waitTurn(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.BaseURL + "/users/" + url.PathEscape(c.cfg.UserID) + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	hr, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	hr.Header.Set("Zotero-API-Version", "3")
	hr.Header.Set("Zotero-API-Key", c.cfg.APIKey)
	if req.body != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(op, err)
	}

	hint := backoffHint(resp.Header)
	if hint > 0 && resp.StatusCode < 300 {
		c.logger.Warn("zotero asked to back off", "seconds", hint.Seconds())
		c.pause(hint)
	}

	if resp.StatusCode >= 300 {
		return nil, classifyStatus(op, &StatusError{Code: resp.StatusCode, Body: snippet(data)}, hint)
	}
	return &response{header: resp.Header, body: data}, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, v any) (*response, error) {
	resp, err := c.do(ctx, op, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return resp, nil
}

// waitTurn honours the rate limit and any server-requested pause.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	wait := c.pausedUntil.Sub(c.now())
	c.mu.Unlock()
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) pause(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := c.now().Add(d); until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

// classifyStatus maps API statuses onto error kinds: 401/403 are
// authentication failures, 404 a definitive absence, and 408, 412, 429 and
// 5xx retryable. 412 means the item changed since its version was read; a
// retry re-reads it.
func classifyStatus(op string, err *StatusError, hint time.Duration) error {
	switch code := err.Code; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return syncerr.Wrap(syncerr.KindAuth, op, err)
	case code == http.StatusNotFound:
		return syncerr.Wrap(syncerr.KindNotFound, op, err)
	case code == http.StatusRequestTimeout || code == http.StatusPreconditionFailed ||
		code == http.StatusTooManyRequests || (code >= 500 && code <= 599):
		return syncerr.Transient(op, err, hint)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// classifyTransport treats every transport failure, timeouts included, as
// transient. Cancellation by the caller is returned unchanged.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return syncerr.Transient(op, err, 0)
}

// backoffHint reads Backoff or Retry-After in seconds.
func backoffHint(h http.Header) time.Duration {
	for _, name := range []string{"Backoff", "Retry-After"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
