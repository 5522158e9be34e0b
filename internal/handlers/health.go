package handlers

import (
	"net/http"

	"github.com/bobmcallan/mcp-openapi/internal/common"
)

// NamespaceLister reports the namespaces currently served.
type NamespaceLister interface {
	Namespaces() []string
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	logger     *common.Logger
	namespaces NamespaceLister
}

// NewHealthHandler creates a new health handler. namespaces may be nil.
func NewHealthHandler(logger *common.Logger, namespaces NamespaceLister) *HealthHandler {
	return &HealthHandler{logger: logger, namespaces: namespaces}
}

// ServeHTTP handles GET /api/health.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	served := []string{}
	if h.namespaces != nil {
		served = h.namespaces.Namespaces()
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"namespaces": served,
	})
}
