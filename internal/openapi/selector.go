package openapi

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

var selectorMethods = map[string]bool{
	"GET": true, "PUT": true, "POST": true, "DELETE": true,
	"OPTIONS": true, "HEAD": true, "PATCH": true, "TRACE": true,
}

type selectorRule struct {
	raw    string
	method string
	re     *regexp.Regexp
}

// Selector picks operations by path pattern. Each expression is a regular
// expression matched at the start of the path, optionally preceded by an
// HTTP method and a space ("GET ^/v1/items$"). An operation is selected
// when any expression matches.
type Selector struct {
	rules []selectorRule
}

// NewSelector compiles exprs. An empty list selects nothing.
func NewSelector(exprs []string) (*Selector, error) {
	s := &Selector{}
	for _, expr := range exprs {
		rule := selectorRule{raw: expr}
		pattern := expr
		if method, rest, ok := strings.Cut(expr, " "); ok && selectorMethods[strings.ToUpper(method)] {
			rule.method = strings.ToUpper(method)
			pattern = strings.TrimSpace(rest)
		}
		re, err := regexp.Compile(`^(?:` + pattern + `)`)
		if err != nil {
			return nil, apperr.WrapConfiguration(err, "invalid path selector %q", expr)
		}
		rule.re = re
		s.rules = append(s.rules, rule)
	}
	return s, nil
}

// Match reports whether the operation method+path is selected.
func (s *Selector) Match(method, path string) bool {
	if s == nil {
		return false
	}
	method = strings.ToUpper(method)
	for _, r := range s.rules {
		if r.method != "" && r.method != method {
			continue
		}
		if r.re.MatchString(path) {
			return true
		}
	}
	return false
}

// Len returns the number of expressions.
func (s *Selector) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Key is an order-independent fingerprint of the expressions.
func (s *Selector) Key() string {
	if s == nil {
		return ""
	}
	raws := make([]string, len(s.rules))
	for i, r := range s.rules {
		raws[i] = r.raw
	}
	sort.Strings(raws)
	return strings.Join(raws, "\n")
}
