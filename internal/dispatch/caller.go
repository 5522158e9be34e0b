package dispatch

import (
	"context"
	"net/http"
	"net/url"
)

// callerContextKey is the context key for the inbound request a tool call
// arrived on.
type callerContextKey struct{}

// Caller holds the inbound HTTP headers and query parameters of the MCP
// request behind a tool invocation. Forwarding rules read from it.
type Caller struct {
	Headers http.Header
	Query   url.Values
}

// CallerFromRequest captures the parts of r that forwarding rules use.
func CallerFromRequest(r *http.Request) Caller {
	return Caller{Headers: r.Header.Clone(), Query: r.URL.Query()}
}

// WithCaller returns a new context with c attached.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

// CallerFrom extracts the Caller from ctx, if present.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(Caller)
	return c, ok
}

// Header returns the inbound header value for name.
func (c Caller) Header(name string) (string, bool) {
	if c.Headers == nil {
		return "", false
	}
	vals := c.Headers.Values(name)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// Lookup finds name in the inbound headers, then the inbound query.
func (c Caller) Lookup(name string) (string, bool) {
	if v, ok := c.Header(name); ok {
		return v, true
	}
	if c.Query != nil {
		if vals, ok := c.Query[name]; ok && len(vals) > 0 {
			return vals[0], true
		}
	}
	return "", false
}
