// Package dispatch turns tool invocations into outbound HTTP requests.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

// maxResponseSize caps the upstream response body to prevent OOM from unexpectedly large responses.
const maxResponseSize = 50 << 20 // 50MB

// Binding is the per-namespace state a dispatch needs: where to send
// requests and which caller values to forward.
type Binding struct {
	Namespace          string
	BaseURL            string
	BaseURLVars        map[string]string
	ForwardHeaders     []string
	ForwardQueryParams map[string]string
	Headers            map[string]string
	Timeout            time.Duration
	Limiter            *rate.Limiter
}

// NewBinding derives a Binding from namespace configuration. A positive
// rate_limit gets a token bucket limiter shared by every invocation.
func NewBinding(cfg config.NamespaceConfig) *Binding {
	b := &Binding{
		Namespace:          cfg.Namespace,
		BaseURL:            cfg.BaseURL,
		BaseURLVars:        cfg.BaseURLVars,
		ForwardHeaders:     cfg.ForwardHeaders,
		ForwardQueryParams: cfg.ForwardQueryParams,
		Headers:            cfg.Headers,
		Timeout:            cfg.RequestTimeout(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		b.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return b
}

// Invocation is one tool call: its arguments and the inbound request it
// arrived on.
type Invocation struct {
	Arguments map[string]any
	Caller    Caller
}

// Result is a successful upstream response.
type Result struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
	// Value is the decoded JSON body, nil when the body is not JSON.
	Value any `json:"value,omitempty"`
}

// Text returns the body as text for tool results.
func (r *Result) Text() string {
	return string(r.Body)
}

// Observer receives one call per finished dispatch.
type Observer interface {
	ObserveInvocation(namespace, tool, outcome string, elapsed time.Duration)
}

// Dispatcher executes tool invocations against upstream APIs. It is safe
// for concurrent use; invocations share nothing but the HTTP client and
// the namespace limiter.
type Dispatcher struct {
	client   *http.Client
	logger   *common.Logger
	observer Observer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithObserver reports every dispatch to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *common.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch validates inv against tool, builds the request and executes it.
// Validation failures return before any network activity. The request runs
// under the namespace timeout and is not cancelled when ctx is.
func (d *Dispatcher) Dispatch(ctx context.Context, b *Binding, tool *registry.Tool, inv Invocation) (*Result, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, b, tool, inv)
	if d.observer != nil {
		outcome := "ok"
		if err != nil {
			outcome = apperr.Kind(err)
		}
		d.observer.ObserveInvocation(b.Namespace, tool.Name, outcome, time.Since(start))
	}
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, b *Binding, tool *registry.Tool, inv Invocation) (*Result, error) {
	args := inv.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.Validate(args); err != nil {
		return nil, err
	}

	req, err := d.buildRequest(b, tool, args, inv.Caller)
	if err != nil {
		return nil, err
	}

	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx); err != nil {
			return nil, apperr.UpstreamNetwork(err, "rate limit wait for %s", b.Namespace)
		}
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	req = req.WithContext(reqCtx)

	d.logger.Debug().
		Str("namespace", b.Namespace).
		Str("tool", tool.Name).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Msg("upstream request")

	start := time.Now()
	resp, err := d.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		d.logger.Error().
			Str("namespace", b.Namespace).
			Str("tool", tool.Name).
			Int64("duration_ms", duration.Milliseconds()).
			Str("error", err.Error()).
			Msg("upstream request failed")
		return nil, apperr.UpstreamNetwork(err, "%s %s", req.Method, req.URL.Redacted())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, apperr.UpstreamNetwork(err, "read response from %s", req.URL.Redacted())
	}

	d.logger.Debug().
		Str("namespace", b.Namespace).
		Str("tool", tool.Name).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("upstream response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.UpstreamHTTP(resp.StatusCode, body)
	}

	res := &Result{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}
	if looksJSON(res.ContentType, body) {
		var v any
		if json.Unmarshal(body, &v) == nil {
			res.Value = v
		}
	}
	return res, nil
}

// buildRequest places every argument and forwarding rule on a request.
// Argument-derived values are set first; caller forwarding only fills
// what is still unset, and static namespace headers fill last.
func (d *Dispatcher) buildRequest(b *Binding, tool *registry.Tool, args map[string]any, caller Caller) (*http.Request, error) {
	op := tool.Operation
	path := op.Path
	query := url.Values{}
	headers := http.Header{}
	bodyArgs := make(map[string]any)
	serverArgs := make(map[string]string)

	for _, p := range tool.Params {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		switch p.In {
		case registry.InPath:
			path = strings.ReplaceAll(path, "{"+p.Wire+"}", url.PathEscape(joinValue(v, ",")))
		case registry.InQuery:
			encodeQuery(query, p, v)
		case registry.InHeader:
			headers.Set(p.Wire, joinValue(v, ","))
		case registry.InBody:
			bodyArgs[p.Wire] = v
		case registry.InServer:
			serverArgs[p.Name] = formatScalar(v)
		}
	}

	base, err := resolveBaseURL(b, serverArgs, caller)
	if err != nil {
		return nil, err
	}
	target := strings.TrimRight(base, "/") + path

	for _, name := range b.ForwardHeaders {
		if headers.Get(name) != "" {
			continue
		}
		if v, ok := caller.Header(name); ok {
			headers.Set(name, v)
		}
	}
	for inbound, param := range b.ForwardQueryParams {
		if query.Has(param) {
			continue
		}
		if v, ok := caller.Lookup(inbound); ok {
			query.Set(param, v)
		}
	}
	for name, v := range b.Headers {
		if headers.Get(name) == "" {
			headers.Set(name, v)
		}
	}

	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	body, contentType, err := encodeBody(op, bodyArgs)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(op.Method, target, reader)
	if err != nil {
		return nil, apperr.Validation("tool %s: invalid request url %q: %v", tool.Name, target, err)
	}
	req.Header = headers
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// encodeBody serializes body arguments for the operation's encoding.
func encodeBody(op registry.Operation, bodyArgs map[string]any) ([]byte, string, error) {
	if !op.HasBody() || len(bodyArgs) == 0 {
		return nil, "", nil
	}
	contentType := op.ContentType

	if op.BodyRaw {
		v := bodyArgs["body"]
		switch op.BodyEncoding {
		case registry.BodyForm:
			if m, ok := v.(map[string]any); ok {
				return []byte(formValues(m).Encode()), "application/x-www-form-urlencoded", nil
			}
			if s, ok := v.(string); ok {
				return []byte(s), "application/x-www-form-urlencoded", nil
			}
		case registry.BodyRawData:
			if s, ok := v.(string); ok {
				if contentType == "" {
					contentType = "text/plain"
				}
				return []byte(s), contentType, nil
			}
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", apperr.Validation("encode request body: %v", err)
		}
		if !isJSONType(contentType) {
			contentType = "application/json"
		}
		return data, contentType, nil
	}

	if op.BodyEncoding == registry.BodyForm {
		return []byte(formValues(bodyArgs).Encode()), "application/x-www-form-urlencoded", nil
	}
	data, err := json.Marshal(bodyArgs)
	if err != nil {
		return nil, "", apperr.Validation("encode request body: %v", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	return data, contentType, nil
}

func looksJSON(contentType string, body []byte) bool {
	if isJSONType(contentType) {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return contentType == "" && len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func isJSONType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
