package mcp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/config"
	"github.com/bobmcallan/mcp-openapi/internal/dispatch"
)

// --- Load ---

func TestManager_LoadAndInvoke(t *testing.T) {
	up := newUpstreamStub(t)
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	report, err := m.Load(t.Context(), []config.NamespaceConfig{nsConfig("billing", spec, up.URL, "/")})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, report.Served)
	assert.Empty(t, report.Failed)

	ns, ok := m.Namespace("billing")
	require.True(t, ok)
	srv := ns.Server()

	assert.ElementsMatch(t, []string{
		"get_v1_customers", "post_v1_customers", "get_v1_customers_customer", "get_v1_status",
	}, listToolNames(t, t.Context(), srv))

	text, isErr := callTool(t, t.Context(), srv, "get_v1_customers", map[string]any{"code": 404})
	require.False(t, isErr, text)
	assert.JSONEq(t, `{"path":"/v1/customers"}`, text)
	uri, _ := up.last()
	assert.Equal(t, "/v1/customers?code=404", uri)

	before := up.calls.Load()
	text, isErr = callTool(t, t.Context(), srv, "get_v1_customers", map[string]any{})
	assert.True(t, isErr)
	assert.True(t, strings.HasPrefix(text, apperr.KindValidation), text)
	assert.Equal(t, before, up.calls.Load(), "rejected invocations never reach the network")
}

func TestManager_ForwardedHeaderWithoutParameters(t *testing.T) {
	up := newUpstreamStub(t)
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	cfg := nsConfig("billing", spec, up.URL, "/v1/status")
	cfg.ForwardHeaders = []string{"Authorization"}
	_, err := m.Load(t.Context(), []config.NamespaceConfig{cfg})
	require.NoError(t, err)
	ns, _ := m.Namespace("billing")

	ctx := dispatch.WithCaller(t.Context(), dispatch.Caller{Headers: http.Header{"Authorization": {"Bearer X"}}})
	_, isErr := callTool(t, ctx, ns.Server(), "get_v1_status", map[string]any{})
	require.False(t, isErr)

	uri, headers := up.last()
	assert.Equal(t, "/v1/status", uri)
	assert.Equal(t, "Bearer X", headers.Get("Authorization"))
}

func TestManager_DuplicateNamespaces(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	_, err := m.Load(t.Context(), []config.NamespaceConfig{
		nsConfig("billing", spec, "https://api.example.com", "/"),
		nsConfig("billing", spec, "https://api.example.com", "/"),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
	assert.Contains(t, err.Error(), "duplicate")
	assert.Empty(t, m.Namespaces())
	assert.Empty(t, m.Summaries())
}

func TestManager_NamespaceIsolation(t *testing.T) {
	dir := t.TempDir()
	spec := writeSpec(t, dir, "customers.yaml", customersSpec)
	m := testManager(t)

	noBase := nsConfig("broken-config", spec, "", "/")
	badSelector := nsConfig("bad-selector", spec, "https://api.example.com", "((")
	report, err := m.Load(t.Context(), []config.NamespaceConfig{
		nsConfig("good", spec, "https://api.example.com", "/"),
		nsConfig("missing", dir+"/missing.yaml", "https://api.example.com", "/"),
		noBase,
		badSelector,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"good"}, report.Served)
	require.Len(t, report.Failed, 3)
	assert.True(t, apperr.IsResolution(report.Failed["missing"]))
	assert.True(t, apperr.IsConfiguration(report.Failed["broken-config"]))
	assert.True(t, apperr.IsConfiguration(report.Failed["bad-selector"]))
}

func TestManager_EmptySelection(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	report, err := m.Load(t.Context(), []config.NamespaceConfig{nsConfig("billing", spec, "https://api.example.com", "/nothing")})
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, report.Served)

	sums, ok := m.NamespaceSummaries("billing")
	require.True(t, ok)
	assert.Empty(t, sums)
}

// --- Reload ---

func TestManager_Reload(t *testing.T) {
	dir := t.TempDir()
	spec := writeSpec(t, dir, "customers.yaml", customersSpec)
	m := testManager(t)
	cfg := nsConfig("billing", spec, "https://api.example.com", "/")

	_, err := m.Load(t.Context(), []config.NamespaceConfig{cfg})
	require.NoError(t, err)
	first, _ := m.Namespace("billing")
	require.Len(t, first.Snapshot().Tools, 4)

	// Edited document: new tool set, same namespace server.
	trimmed := strings.Replace(customersSpec, "  /v1/status:\n    get:\n      responses:\n        \"200\": {description: ok}\n", "", 1)
	require.NoError(t, os.WriteFile(spec, []byte(trimmed), 0o644))
	_, err = m.Load(t.Context(), []config.NamespaceConfig{cfg})
	require.NoError(t, err)
	second, _ := m.Namespace("billing")
	assert.Same(t, first, second)
	assert.Len(t, second.Snapshot().Tools, 3)
	assert.NotContains(t, listToolNames(t, t.Context(), second.Server()), "get_v1_status")

	// Broken document: previous tools stay.
	require.NoError(t, os.WriteFile(spec, []byte("openapi: [unclosed"), 0o644))
	report, err := m.Load(t.Context(), []config.NamespaceConfig{cfg})
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "billing")
	assert.Equal(t, []string{"billing"}, report.Served)
	assert.Len(t, second.Snapshot().Tools, 3)

	// Session open on the namespace about to go away.
	second.Sessions().Begin("s1")
	second.Sessions().Open(t.Context(), "s1")

	// Invalid configuration: namespace stops being served.
	bad := cfg
	bad.BaseURL = ""
	report, err = m.Load(t.Context(), []config.NamespaceConfig{bad})
	require.NoError(t, err)
	assert.Empty(t, report.Served)
	_, ok := m.Namespace("billing")
	assert.False(t, ok)

	state, _ := second.Sessions().State("s1")
	assert.Equal(t, StateClosed, state)
}

func TestManager_ReloadPublishesWholeToolSets(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)
	one := nsConfig("billing", spec, "https://api.example.com", "/v1/status")
	all := nsConfig("billing", spec, "https://api.example.com", "/")

	_, err := m.Load(t.Context(), []config.NamespaceConfig{one})
	require.NoError(t, err)
	ns, _ := m.Namespace("billing")
	small := listToolNames(t, t.Context(), ns.Server())

	_, err = m.Load(t.Context(), []config.NamespaceConfig{all})
	require.NoError(t, err)
	full := listToolNames(t, t.Context(), ns.Server())
	require.Len(t, small, 1)
	require.Len(t, full, 4)

	stop := make(chan struct{})
	var reads atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				names, err := toolNamesOf(t.Context(), ns.Server())
				if err != nil {
					t.Errorf("tools/list: %v", err)
					return
				}
				if !slices.Equal(names, small) && !slices.Equal(names, full) {
					t.Errorf("tools/list returned a mixed tool set: %v", names)
					return
				}
				if n := len(ns.Snapshot().Tools); n != len(small) && n != len(full) {
					t.Errorf("snapshot has %d tools", n)
					return
				}
				reads.Add(1)
			}
		}()
	}

	for i := 0; i < 2000 && (i < 20 || reads.Load() < 50); i++ {
		cfg := one
		if i%2 == 1 {
			cfg = all
		}
		if _, err := m.Load(t.Context(), []config.NamespaceConfig{cfg}); err != nil {
			t.Errorf("reload %d: %v", i, err)
		}
	}
	_, err = m.Load(t.Context(), []config.NamespaceConfig{all})
	assert.NoError(t, err)
	close(stop)
	wg.Wait()

	assert.Positive(t, reads.Load())
	assert.Equal(t, full, listToolNames(t, t.Context(), ns.Server()))
}

func TestManager_ReloadRemovesNamespace(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	_, err := m.Load(t.Context(), []config.NamespaceConfig{
		nsConfig("a", spec, "https://api.example.com", "/"),
		nsConfig("b", spec, "https://api.example.com", "/v1/status"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Namespaces())

	_, err = m.Load(t.Context(), []config.NamespaceConfig{nsConfig("b", spec, "https://api.example.com", "/v1/status")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, m.Namespaces())
}

// --- Slimming ---

func TestManager_SlimmedNamespaceBuildsSameTools(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)

	full := nsConfig("full", spec, "https://api.example.com", "/v1/customers$")
	slim := nsConfig("slim", spec, "https://api.example.com", "/v1/customers$")
	slim.Slim = true

	report, err := m.Load(t.Context(), []config.NamespaceConfig{full, slim})
	require.NoError(t, err)
	require.Empty(t, report.Failed)

	a, _ := m.Namespace("full")
	b, _ := m.Namespace("slim")
	fromFull, err := json.Marshal(a.Snapshot().Tools)
	require.NoError(t, err)
	fromSlim, err := json.Marshal(b.Snapshot().Tools)
	require.NoError(t, err)
	assert.JSONEq(t, string(fromFull), string(fromSlim))

	sums, _ := m.NamespaceSummaries("slim")
	require.Len(t, sums, 2)
	assert.Equal(t, "get_v1_customers", sums[0].Name)
}

// --- Inspection ---

func TestManager_Summaries(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)
	_, err := m.Load(t.Context(), []config.NamespaceConfig{nsConfig("billing", spec, "https://api.example.com", "/v1/customers$")})
	require.NoError(t, err)

	all := m.Summaries()
	require.Contains(t, all, "billing")
	list := all["billing"][0]
	assert.Equal(t, "get_v1_customers", list.Name)
	assert.Equal(t, "List customers", list.Description)
	require.Len(t, list.Parameters, 2)
	assert.Equal(t, "limit", list.Parameters[0].Name)
	assert.Equal(t, "integer", list.Parameters[0].Type)
	assert.EqualValues(t, 10, list.Parameters[0].Default)

	_, ok := m.NamespaceSummaries("nope")
	assert.False(t, ok)
}

// --- HTTP ---

func TestManager_ServeHTTPUnknown(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)
	_, err := m.Load(t.Context(), []config.NamespaceConfig{nsConfig("billing", spec, "https://api.example.com", "/")})
	require.NoError(t, err)

	for _, path := range []string{"/nope/mcp", "/billing/unknown"} {
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
	assert.True(t, m.Handles("/billing/mcp"))
	assert.False(t, m.Handles("/tools"))
}

func TestManager_StreamableSessionLifecycle(t *testing.T) {
	spec := writeSpec(t, t.TempDir(), "customers.yaml", customersSpec)
	m := testManager(t)
	_, err := m.Load(t.Context(), []config.NamespaceConfig{nsConfig("billing", spec, "https://api.example.com", "/")})
	require.NoError(t, err)

	srv := httptest.NewServer(m)
	defer srv.Close()

	post := func(sessionID, body string) *http.Response {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/billing/mcp", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		if sessionID != "" {
			req.Header.Set("Mcp-Session-Id", sessionID)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post("", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get("Mcp-Session-Id")
	require.NotEmpty(t, id)

	ns, _ := m.Namespace("billing")
	state, ok := ns.Sessions().State(id)
	require.True(t, ok)
	assert.Equal(t, StateOpen, state)

	resp = post(id, `{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	del, err := http.NewRequestWithContext(t.Context(), http.MethodDelete, srv.URL+"/billing/mcp", nil)
	require.NoError(t, err)
	del.Header.Set("Mcp-Session-Id", id)
	resp, err = http.DefaultClient.Do(del)
	require.NoError(t, err)
	resp.Body.Close()

	state, _ = ns.Sessions().State(id)
	assert.Equal(t, StateClosed, state)

	resp = post(id, `{"jsonrpc":"2.0","id":3,"method":"tools/list","params":{}}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "a closed session is never resumed")
}
