// Package transport sends resolved step requests over HTTP with resty.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/petrijr/apiflow/pkg/api"
)

// Config tunes the HTTP client.
type Config struct {
	// Timeout applies to requests whose step sets no timeout of its own.
	Timeout time.Duration
	// Headers are sent with every request unless the request overrides them.
	Headers map[string]string
	// Debug makes resty log requests and responses.
	Debug bool
}

// HTTP is an api.Transport backed by a resty client. It is safe for
// concurrent use.
type HTTP struct {
	client *resty.Client
}

var _ api.Transport = (*HTTP)(nil)

// New creates an HTTP transport. Responses are never retried here; retries
// belong to the step executor.
func New(cfg Config) *HTTP {
	client := resty.New().
		SetRetryCount(0).
		SetHeaders(cfg.Headers).
		SetDebug(cfg.Debug)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return NewWithClient(client)
}

// NewWithClient wraps an existing resty client.
func NewWithClient(client *resty.Client) *HTTP {
	return &HTTP{client: client}
}

// Send performs req and decodes the response body. JSON bodies become
// decoded values, anything else a string.
func (t *HTTP) Send(ctx context.Context, req api.ResolvedRequest) (*api.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	r := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.Query)

	if req.Body != nil {
		switch b := req.Body.(type) {
		case string:
			r.SetBody(b)
		case []byte:
			r.SetBody(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				return nil, fmt.Errorf("encode body: %w", err)
			}
			if r.Header.Get("Content-Type") == "" {
				r.SetHeader("Content-Type", "application/json")
			}
			r.SetBody(raw)
		}
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()
	return &api.Response{
		Status:  resp.StatusCode(),
		Headers: flatten(resp.Header()),
		Body:    decode(resp.Header().Get("Content-Type"), raw),
		Raw:     raw,
		Latency: resp.Time(),
	}, nil
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func decode(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if isJSON(contentType) || json.Valid(raw) {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
