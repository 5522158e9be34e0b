// Package mcp serves each configured namespace as an MCP server over
// streamable HTTP and SSE.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/dispatch"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

// Endpoint suffixes under /<namespace>.
const (
	streamablePath = "/mcp"
	ssePath        = "/sse"
	messagePath    = "/messages/"
)

// Snapshot is an immutable published tool set with the configuration it
// was built for.
type Snapshot struct {
	Config   config.NamespaceConfig
	Tools    []*registry.Tool
	Binding  *dispatch.Binding
	Digest   string
	LoadedAt time.Time
}

// Tool returns the tool called name.
func (s *Snapshot) Tool(name string) (*registry.Tool, bool) {
	for _, t := range s.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// Namespace is one namespace's MCP server and its transports.
type Namespace struct {
	id         string
	server     *mcpserver.MCPServer
	streamable *mcpserver.StreamableHTTPServer
	sse        *mcpserver.SSEServer
	sessions   *SessionTracker
	dispatcher *dispatch.Dispatcher
	logger     *common.Logger

	snapshot atomic.Pointer[Snapshot]
	listed   atomic.Pointer[[]mcp.Tool]
	stop     context.CancelFunc
}

// NamespaceOptions are the collaborators a Namespace needs.
type NamespaceOptions struct {
	Dispatcher  *dispatch.Dispatcher
	IdleTimeout time.Duration
	Sessions    SessionObserver
	Logger      *common.Logger
}

// NewNamespace creates an empty namespace. Tools are published with
// Install; until then tools/list answers with an empty list.
func NewNamespace(id string, opts NamespaceOptions) *Namespace {
	n := &Namespace{
		id:         id,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger,
	}
	n.sessions = NewSessionTracker(id, opts.IdleTimeout, opts.Sessions, opts.Logger)

	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, s mcpserver.ClientSession) {
		n.sessions.Begin(s.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, s mcpserver.ClientSession) {
		n.sessions.Disconnect(ctx, s.SessionID())
	})
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, res *mcp.InitializeResult) {
		n.sessions.Open(ctx, sessionID(ctx))
	})
	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcp.MCPMethod, message any) {
		n.sessions.Touch(sessionID(ctx))
	})

	n.server = mcpserver.NewMCPServer(
		"mcp-openapi/"+id,
		common.GetVersion(),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithToolFilter(n.listTools),
		mcpserver.WithHooks(hooks),
		mcpserver.WithRecovery(),
	)

	base := "/" + id
	n.streamable = mcpserver.NewStreamableHTTPServer(n.server,
		mcpserver.WithEndpointPath(base+streamablePath),
		mcpserver.WithSessionIdManager(n.sessions),
		mcpserver.WithHTTPContextFunc(withCaller),
	)
	n.sse = mcpserver.NewSSEServer(n.server,
		mcpserver.WithStaticBasePath(base),
		mcpserver.WithSSEEndpoint(ssePath),
		mcpserver.WithMessageEndpoint(messagePath),
		mcpserver.WithSSEContextFunc(withCaller),
	)

	ctx, cancel := context.WithCancel(context.Background())
	n.stop = cancel
	go n.sessions.Run(ctx)
	return n
}

// withCaller captures the inbound request for forwarding rules.
func withCaller(ctx context.Context, r *http.Request) context.Context {
	return dispatch.WithCaller(ctx, dispatch.CallerFromRequest(r))
}

func sessionID(ctx context.Context) string {
	if s := mcpserver.ClientSessionFromContext(ctx); s != nil {
		return s.SessionID()
	}
	return ""
}

// ID returns the namespace id.
func (n *Namespace) ID() string {
	return n.id
}

// Server returns the underlying MCP server.
func (n *Namespace) Server() *mcpserver.MCPServer {
	return n.server
}

// Sessions returns the namespace's session tracker.
func (n *Namespace) Sessions() *SessionTracker {
	return n.sessions
}

// Snapshot returns the published tool set, or nil before the first Install.
func (n *Namespace) Snapshot() *Snapshot {
	return n.snapshot.Load()
}

// Install publishes snap. Sessions see either the previous tool set or
// this one in full; invocations already running finish against the tool
// and binding they started with.
func (n *Namespace) Install(snap *Snapshot) {
	tools := make([]mcpserver.ServerTool, 0, len(snap.Tools))
	listed := make([]mcp.Tool, 0, len(snap.Tools))
	keep := make(map[string]bool, len(snap.Tools))
	for _, t := range snap.Tools {
		tool := mcpTool(t)
		tools = append(tools, mcpserver.ServerTool{Tool: tool, Handler: n.handler(snap.Binding, t)})
		listed = append(listed, tool)
		keep[t.Name] = true
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	// tools/list answers from the published list; the handler table
	// catches up below.
	prev := n.snapshot.Swap(snap)
	n.listed.Store(&listed)

	if len(tools) > 0 {
		n.server.AddTools(tools...)
	}
	if prev != nil {
		var removed []string
		for _, t := range prev.Tools {
			if !keep[t.Name] {
				removed = append(removed, t.Name)
			}
		}
		if len(removed) > 0 {
			n.server.DeleteTools(removed...)
		}
	}

	n.logger.Info().
		Str("namespace", n.id).
		Int("tools", len(snap.Tools)).
		Str("digest", shortDigest(snap.Digest)).
		Msg("namespace tools installed")
}

// listTools answers tools/list from the published list.
func (n *Namespace) listTools(ctx context.Context, _ []mcp.Tool) []mcp.Tool {
	listed := n.listed.Load()
	if listed == nil {
		return []mcp.Tool{}
	}
	out := make([]mcp.Tool, len(*listed))
	copy(out, *listed)
	return out
}

// mcpTool converts a tool definition to its MCP form.
func mcpTool(t *registry.Tool) mcp.Tool {
	raw, _ := json.Marshal(t.InputSchema())
	tool := mcp.NewToolWithRawSchema(t.Name, t.Description, raw)
	tool.Annotations = mcp.ToolAnnotation{
		Title:           t.Operation.Method + " " + t.Operation.Path,
		ReadOnlyHint:    mcp.ToBoolPtr(t.ReadOnly()),
		DestructiveHint: mcp.ToBoolPtr(t.Destructive()),
		OpenWorldHint:   mcp.ToBoolPtr(true),
	}
	return tool
}

// handler routes an invocation of t to the dispatcher.
func (n *Namespace) handler(b *dispatch.Binding, t *registry.Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid := sessionID(ctx)
		if !n.sessions.StartInvocation(sid) {
			return mcp.NewToolResultError("session is closed"), nil
		}

		caller, _ := dispatch.CallerFrom(ctx)
		res, err := n.dispatcher.Dispatch(ctx, b, t, dispatch.Invocation{
			Arguments: req.GetArguments(),
			Caller:    caller,
		})

		if !n.sessions.FinishInvocation(sid) {
			n.logger.Debug().
				Str("namespace", n.id).
				Str("tool", t.Name).
				Str("session", sid).
				Msg("session closed during invocation, result discarded")
			return mcp.NewToolResultError("session is closed"), nil
		}
		if err != nil {
			return errorResult(err), nil
		}
		return successResult(res), nil
	}
}

func successResult(res *dispatch.Result) *mcp.CallToolResult {
	text := res.Text()
	if text == "" {
		text = fmt.Sprintf("HTTP %d", res.StatusCode)
	}
	result := mcp.NewToolResultText(text)
	if obj, ok := res.Value.(map[string]any); ok {
		result.StructuredContent = obj
	}
	return result
}

// errorResult renders err as a tool error. The kind prefix lets callers
// tell rejected arguments from upstream failures.
func errorResult(err error) *mcp.CallToolResult {
	kind := apperr.Kind(err)
	if httpErr, ok := apperr.AsHTTPError(err); ok {
		result := mcp.NewToolResultError(fmt.Sprintf("%s: status %d: %s", kind, httpErr.StatusCode, string(httpErr.Body)))
		result.StructuredContent = map[string]any{
			"error_kind":  kind,
			"status_code": httpErr.StatusCode,
		}
		return result
	}
	result := mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
	result.StructuredContent = map[string]any{"error_kind": kind}
	return result
}

// ServeHTTP serves the namespace transports. r.URL.Path still carries the
// /<namespace> prefix.
func (n *Namespace) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/"+n.id)
	switch {
	case rest == streamablePath:
		n.streamable.ServeHTTP(w, r)
	case rest == ssePath || rest == messagePath:
		n.sse.ServeHTTP(w, r)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": fmt.Sprintf("no endpoint %s in namespace %s", rest, n.id),
		})
	}
}

// Close ends every session and stops the transports.
func (n *Namespace) Close(ctx context.Context) error {
	n.stop()
	n.sessions.CloseAll(ctx)
	return errors.Join(n.sse.Shutdown(ctx), n.streamable.Shutdown(ctx))
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
