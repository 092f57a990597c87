// Package session wraps one http.Client with the header, cookie, timeout,
// and retry behavior every platform client shares.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/lbmaian/chat-downloader/telemetry"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.72 Safari/537.36"
	acceptLanguage = "en-US, en"

	maxAttempts    = 10
	requestTimeout = 10 * time.Second
	backoffCap     = 32 * time.Second
)

// Retryable response statuses. Everything else returns to the caller.
var retryStatus = map[int]bool{
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusInternalServerError:   true,
	http.StatusBadGateway:            true,
	http.StatusServiceUnavailable:    true,
	http.StatusGatewayTimeout:        true,
}

// StatusError reports a non-2xx response that survived the retry policy. The
// response body is still returned alongside it: the YouTube API encodes error
// details in 403/404 JSON bodies.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Config configures New.
type Config struct {
	// CookiePath names a Netscape cookie file to load. Empty means an empty
	// jar. A missing file is a *CookieError.
	CookiePath string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Transport overrides http.DefaultTransport (tests point it at
	// httptest servers).
	Transport http.RoundTripper
	// Timeout overrides the 10s per-request timeout.
	Timeout time.Duration
}

// Session is a shared HTTP session: pinned browser headers, a cookie jar,
// retrying GET/POST, and a per-request timeout covering the body read.
type Session struct {
	client *http.Client
	jar    *Jar
	logger *slog.Logger

	// factor is the per-session backoff jitter, drawn once from [1.0, 1.5).
	factor float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a session. Loading the cookie file is the only fallible step.
func New(cfg Config) (*Session, error) {
	jar := NewJar()
	if cfg.CookiePath != "" {
		var err error
		jar, err = LoadJar(cfg.CookiePath)
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	s := &Session{
		client: &http.Client{Jar: jar, Timeout: timeout, Transport: cfg.Transport},
		jar:    jar,
		logger: logger,
		factor: 1 + rand.Float64()/2,
	}
	s.sleep = s.wait
	return s, nil
}

// Get fetches a URL and returns the response body.
func (s *Session) Get(ctx context.Context, rawurl string) ([]byte, error) {
	return s.do(ctx, http.MethodGet, rawurl, nil)
}

// PostJSON marshals body and POSTs it as application/json.
func (s *Session) PostJSON(ctx context.Context, rawurl string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return s.do(ctx, http.MethodPost, rawurl, payload)
}

// SaveCookies writes the jar back out in Netscape format.
func (s *Session) SaveCookies(path string) error {
	return s.jar.Save(path)
}

// do retries timeouts around doOnce. A timeout that strikes while the body
// streams surfaces from the body read, after doOnce's status retries already
// ran, so it gets its own retry layer.
func (s *Session) do(ctx context.Context, method, rawurl string, payload []byte) ([]byte, error) {
	endpoint := endpointLabel(rawurl)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, err := s.doOnce(ctx, method, rawurl, payload, endpoint)
		if err == nil || !isTimeout(err) || ctx.Err() != nil {
			return body, err
		}
		lastErr = err
		telemetry.CountRetry("read_timeout")
		s.logger.Warn("request timed out, retrying", slog.Int("attempt", attempt+1), slog.Any("err", err))
	}
	return nil, lastErr
}

func (s *Session) doOnce(ctx context.Context, method, rawurl string, payload []byte, endpoint string) ([]byte, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawurl, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept-Language", acceptLanguage)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, rawurl, err)
		}

		if retryStatus[resp.StatusCode] && attempt < maxAttempts-1 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			backoff := s.backoff(attempt)
			telemetry.CountRetry(fmt.Sprintf("status_%d", resp.StatusCode))
			s.logger.Debug("retrying request",
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		telemetry.ObserveRequest(endpoint, time.Since(start))
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", rawurl, readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return body, &StatusError{Code: resp.StatusCode}
		}
		return body, nil
	}
	return nil, fmt.Errorf("%s %s: retries exhausted", method, rawurl)
}

// backoff returns min(factor * 2^attempt, cap) seconds, attempt 0-based.
func (s *Session) backoff(attempt int) time.Duration {
	d := time.Duration(s.factor * float64(time.Second) * float64(int64(1)<<uint(attempt)))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (s *Session) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// endpointLabel keeps the request-duration metric low-cardinality: host plus
// the first path segment.
func endpointLabel(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "unknown"
	}
	seg, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if seg == "" {
		return u.Host
	}
	return u.Host + "/" + seg
}
