package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// Tool naming strategies.
const (
	NamingPath        = "path"
	NamingOperationID = "operation_id"
)

// reservedNamespaces collide with gateway routes.
var reservedNamespaces = map[string]bool{
	"tools": true, "api": true, "metrics": true,
}

var (
	namespaceIDPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	placeholderPattern  = regexp.MustCompile(`\{([^{}]*)\}`)
	placeholderNameRule = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// NamespaceConfig describes one backing API exposed as an MCP namespace.
type NamespaceConfig struct {
	Namespace          string            `toml:"namespace" yaml:"namespace"`
	Name               string            `toml:"name" yaml:"name"`
	URL                string            `toml:"url" yaml:"url"`
	BaseURL            string            `toml:"base_url" yaml:"base_url"`
	BaseURLVars        map[string]string `toml:"base_url_vars" yaml:"base_url_vars"`
	Paths              []string          `toml:"paths" yaml:"paths"`
	ForwardHeaders     []string          `toml:"forward_headers" yaml:"forward_headers"`
	ForwardQueryParams map[string]string `toml:"forward_query_params" yaml:"forward_query_params"` // inbound header -> outbound query param
	Headers            map[string]string `toml:"headers" yaml:"headers"`
	Timeout            string            `toml:"timeout" yaml:"timeout"`
	ToolNaming         string            `toml:"tool_naming" yaml:"tool_naming"`
	Slim               bool              `toml:"slim" yaml:"slim"`
	RateLimit          float64           `toml:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst          int               `toml:"rate_burst" yaml:"rate_burst"`
}

// DisplayName returns Name, falling back to the namespace id.
func (n NamespaceConfig) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Namespace
}

// DefaultRequestTimeout bounds upstream calls of namespaces that set no
// timeout.
const DefaultRequestTimeout = 30 * time.Second

// RequestTimeout returns the per-request timeout, DefaultRequestTimeout
// when unset or zero.
func (n NamespaceConfig) RequestTimeout() time.Duration {
	if d := parseDuration(n.Timeout); d > 0 {
		return d
	}
	return DefaultRequestTimeout
}

// Naming returns the tool naming strategy, defaulting to path-derived names.
func (n NamespaceConfig) Naming() string {
	if n.ToolNaming == "" {
		return NamingPath
	}
	return n.ToolNaming
}

// BaseURLPlaceholders returns the {name} placeholders of BaseURL in order of
// first appearance.
func (n NamespaceConfig) BaseURLPlaceholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(n.BaseURL, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Check validates settings local to this namespace. A failing namespace is
// not served; other namespaces are unaffected.
func (n NamespaceConfig) Check() error {
	var issues apperr.Issues
	prefix := fmt.Sprintf("namespace %q", n.Namespace)

	if n.URL == "" {
		issues = append(issues, prefix+": url is required")
	}
	if n.BaseURL == "" {
		issues = append(issues, prefix+": base_url is required")
	} else if err := checkBaseURL(n.BaseURL); err != nil {
		issues = append(issues, fmt.Sprintf("%s: base_url %q: %v", prefix, n.BaseURL, err))
	}
	if n.Timeout != "" {
		if d, err := time.ParseDuration(n.Timeout); err != nil || d < 0 {
			issues = append(issues, fmt.Sprintf("%s: timeout %q is not a duration", prefix, n.Timeout))
		}
	}
	switch n.Naming() {
	case NamingPath, NamingOperationID:
	default:
		issues = append(issues, fmt.Sprintf("%s: tool_naming %q must be %q or %q", prefix, n.ToolNaming, NamingPath, NamingOperationID))
	}
	if n.RateLimit < 0 {
		issues = append(issues, prefix+": rate_limit must not be negative")
	}
	for header := range n.ForwardQueryParams {
		if n.ForwardQueryParams[header] == "" {
			issues = append(issues, fmt.Sprintf("%s: forward_query_params[%q] has no query parameter name", prefix, header))
		}
	}

	return issues.Err()
}

// checkBaseURL rejects unbalanced or malformed placeholders and non-absolute URLs.
func checkBaseURL(raw string) error {
	if strings.Count(raw, "{") != strings.Count(raw, "}") {
		return fmt.Errorf("unbalanced braces")
	}
	for _, m := range placeholderPattern.FindAllStringSubmatch(raw, -1) {
		if !placeholderNameRule.MatchString(m[1]) {
			return fmt.Errorf("invalid placeholder {%s}", m[1])
		}
	}
	filled := placeholderPattern.ReplaceAllString(raw, "x")
	if strings.ContainsAny(filled, "{}") {
		return fmt.Errorf("nested braces")
	}
	u, err := url.Parse(filled)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// ValidateNamespaces checks the namespace set as a whole: ids must be
// present, unique and usable as a single URL path segment.
func ValidateNamespaces(namespaces []NamespaceConfig) []string {
	var issues []string
	seen := make(map[string]int, len(namespaces))
	for i, ns := range namespaces {
		switch {
		case ns.Namespace == "":
			issues = append(issues, fmt.Sprintf("namespaces[%d]: namespace id is required", i))
			continue
		case !namespaceIDPattern.MatchString(ns.Namespace):
			issues = append(issues, fmt.Sprintf("namespaces[%d]: namespace id %q must be a single path segment", i, ns.Namespace))
		case reservedNamespaces[ns.Namespace]:
			issues = append(issues, fmt.Sprintf("namespaces[%d]: namespace id %q is reserved", i, ns.Namespace))
		}
		if first, dup := seen[ns.Namespace]; dup {
			issues = append(issues, fmt.Sprintf("namespaces[%d]: duplicate namespace id %q (first at namespaces[%d])", i, ns.Namespace, first))
			continue
		}
		seen[ns.Namespace] = i
	}
	return issues
}

// CheckNamespaces is ValidateNamespaces as a single configuration error.
func CheckNamespaces(namespaces []NamespaceConfig) error {
	return apperr.Issues(ValidateNamespaces(namespaces)).Err()
}
