// Package transport carries resource calls over HTTP.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"meshcore/pkg/resource"
)

const maxResponseBytes = 16 << 20

// ErrResponseTooLarge is reported when a response body exceeds the limit.
var ErrResponseTooLarge = errors.New("transport: response body too large")

// Observer receives one observation per completed HTTP exchange.
type Observer interface {
	ObserveHTTP(method, route string, status int, duration time.Duration)
}

// HTTP implements resource.Transport against a base URL.
type HTTP struct {
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
	observer    Observer
	synchronous bool
	maxBody     int64
}

var _ resource.Transport = (*HTTP)(nil)

type Option func(*HTTP)

func WithClient(c *http.Client) Option {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(h *HTTP) { h.observer = o }
}

// WithMaxResponseBytes caps response bodies; larger responses fail.
func WithMaxResponseBytes(n int64) Option {
	return func(h *HTTP) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// Synchronous completes every call before Do returns.
func Synchronous() Option {
	return func(h *HTTP) { h.synchronous = true }
}

// New returns a transport rooted at baseURL.
func New(baseURL string, opts ...Option) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
		maxBody: maxResponseBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Do issues call on its own goroutine unless the transport is synchronous.
func (h *HTTP) Do(ctx context.Context, call resource.Call) {
	if h.synchronous {
		h.roundTrip(ctx, call)
		return
	}
	go h.roundTrip(ctx, call)
}

func (h *HTTP) roundTrip(ctx context.Context, call resource.Call) {
	started := time.Now()
	req, err := h.newRequest(ctx, call)
	if err != nil {
		call.OnFailure(resource.Metadata{Err: err})
		return
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Debug("transport error", zap.String("method", call.Method), zap.String("url", call.URL), zap.Error(err))
		call.OnFailure(resource.Metadata{Err: err})
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody+1))
	if err == nil && int64(len(body)) > h.maxBody {
		body, err = nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, h.maxBody)
	}
	meta := resource.Metadata{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Header:      resp.Header,
		Body:        body,
		Err:         err,
	}
	if h.observer != nil {
		h.observer.ObserveHTTP(call.Method, "client", resp.StatusCode, time.Since(started))
	}
	h.logger.Debug("transport response", zap.String("method", call.Method), zap.String("url", call.URL),
		zap.Int("status", resp.StatusCode), zap.Duration("duration", time.Since(started)))
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		call.OnSuccess(body, meta)
		return
	}
	call.OnFailure(meta)
}

func (h *HTTP) newRequest(ctx context.Context, call resource.Call) (*http.Request, error) {
	target := h.baseURL + call.URL
	var body io.Reader
	if len(call.Body) > 0 {
		if inQuery(call) {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + string(call.Body)
		} else {
			body = bytes.NewReader(call.Body)
		}
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil && call.ContentType != "" {
		req.Header.Set("Content-Type", call.ContentType)
	}
	req.Header.Set("Accept", resource.MimeJSON)
	return req, nil
}

// inQuery reports whether the payload travels in the query string.
func inQuery(call resource.Call) bool {
	if resource.BaseMimetype(call.ContentType) != resource.MimeForm {
		return false
	}
	return call.Method == http.MethodGet || call.Method == http.MethodDelete || call.Method == http.MethodHead
}
