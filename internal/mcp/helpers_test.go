package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/dispatch"
	"github.com/bobmcallan/mcp-openapi/internal/openapi"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
	"github.com/bobmcallan/mcp-openapi/internal/storage"
)

// --- Helpers ---

const customersSpec = `openapi: 3.0.3
info: {title: Customers, version: "1"}
paths:
  /v1/customers:
    get:
      summary: List customers
      parameters:
        - $ref: '#/components/parameters/Limit'
        - name: code
          in: query
          required: true
          schema: {type: integer}
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: array
                items: {$ref: '#/components/schemas/Customer'}
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema: {$ref: '#/components/schemas/NewCustomer'}
      responses:
        "201": {description: created}
  /v1/customers/{customer}:
    get:
      parameters:
        - {name: customer, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: ok}
  /v1/status:
    get:
      responses:
        "200": {description: ok}
components:
  parameters:
    Limit:
      name: limit
      in: query
      schema: {type: integer, default: 10}
  schemas:
    Customer:
      type: object
      properties:
        id: {type: string}
        referrer: {$ref: '#/components/schemas/Customer'}
        address: {$ref: '#/components/schemas/Address'}
    NewCustomer:
      type: object
      required: [name]
      properties:
        name: {type: string}
        address: {$ref: '#/components/schemas/Address'}
    Address:
      type: object
      properties:
        city: {type: string}
        tags:
          type: array
          items: {type: string}
    Unused:
      type: string
`

// upstreamStub answers every request with a small JSON body and records
// the last request URI and headers.
type upstreamStub struct {
	*httptest.Server
	calls   atomic.Int32
	mu      sync.Mutex
	uri     string
	headers http.Header
	release chan struct{}
	started chan struct{}
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	u := &upstreamStub{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.mu.Lock()
		u.uri = r.URL.RequestURI()
		u.headers = r.Header.Clone()
		release, started := u.release, u.started
		u.mu.Unlock()
		if started != nil {
			close(started)
		}
		if release != nil {
			<-release
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(u.Close)
	return u
}

// block makes the next request wait until the returned release func runs.
func (u *upstreamStub) block() (started <-chan struct{}, release func()) {
	s, r := make(chan struct{}), make(chan struct{})
	u.mu.Lock()
	u.started, u.release = s, r
	u.mu.Unlock()
	return s, func() { close(r) }
}

func (u *upstreamStub) last() (string, http.Header) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uri, u.headers
}

func writeSpec(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	logger := common.NewSilentLogger()
	store := openapi.NewStore(openapi.NewFetcher(0), 0, 0, logger)
	m := NewManager(ManagerOptions{
		Store:      store,
		ToolCache:  registry.NewToolCache(storage.NewNoopManager().ToolSetStorage(), logger),
		Dispatcher: dispatch.NewDispatcher(logger),
		Logger:     logger,
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func nsConfig(id, specPath, baseURL string, paths ...string) config.NamespaceConfig {
	return config.NamespaceConfig{
		Namespace: id,
		URL:       specPath,
		BaseURL:   baseURL,
		Paths:     paths,
	}
}

// rpc sends one JSON-RPC request to srv and returns the decoded response.
func rpc(t *testing.T, ctx context.Context, srv *mcpserver.MCPServer, method string, params any) map[string]any {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	resp := srv.HandleMessage(ctx, raw)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func listToolNames(t *testing.T, ctx context.Context, srv *mcpserver.MCPServer) []string {
	t.Helper()
	resp := rpc(t, ctx, srv, "tools/list", map[string]any{})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "tools/list failed: %v", resp)
	var names []string
	for _, tool := range result["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	return names
}

// toolNamesOf lists the tool names srv advertises. It reports failures
// instead of stopping the test so it can run on reader goroutines.
func toolNamesOf(ctx context.Context, srv *mcpserver.MCPServer) ([]string, error) {
	data, err := json.Marshal(srv.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)))
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result *struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("tools/list failed: %s", data)
	}
	names := make([]string, 0, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// callTool invokes a tool and returns the result text and error flag.
func callTool(t *testing.T, ctx context.Context, srv *mcpserver.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp := rpc(t, ctx, srv, "tools/call", map[string]any{"name": name, "arguments": args})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "tools/call failed: %v", resp)
	content := result["content"].([]any)
	require.NotEmpty(t, content)
	isErr, _ := result["isError"].(bool)
	return content[0].(map[string]any)["text"].(string), isErr
}
