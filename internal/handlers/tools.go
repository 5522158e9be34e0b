package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bobmcallan/mcp-openapi/internal/common"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

// ToolInspector exposes the published tool sets.
type ToolInspector interface {
	Summaries() map[string][]registry.Summary
	NamespaceSummaries(id string) ([]registry.Summary, bool)
}

// ToolsHandler serves the read-only tool inspection endpoints.
type ToolsHandler struct {
	logger    *common.Logger
	inspector ToolInspector
}

// NewToolsHandler creates a new tools handler.
func NewToolsHandler(logger *common.Logger, inspector ToolInspector) *ToolsHandler {
	return &ToolsHandler{logger: logger, inspector: inspector}
}

// ServeHTTP handles GET /tools and GET /tools/{namespace}.
func (h *ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tools"), "/")
	if id == "" {
		WriteJSON(w, http.StatusOK, h.inspector.Summaries())
		return
	}
	if strings.Contains(id, "/") {
		WriteError(w, http.StatusNotFound, "not found")
		return
	}

	tools, ok := h.inspector.NamespaceSummaries(id)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown namespace %q", id))
		return
	}
	WriteJSON(w, http.StatusOK, tools)
}
