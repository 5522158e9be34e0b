package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/registry"
)

var baseURLPlaceholder = regexp.MustCompile(`\{([^{}]+)\}`)

// encodeQuery adds v to q following the parameter's style. Arrays repeat
// the key when exploded and are joined otherwise. Objects use name[key]
// pairs for deepObject, one key per property when exploded, and
// name=k1,v1,k2,v2 otherwise.
func encodeQuery(q url.Values, p registry.Param, v any) {
	switch val := v.(type) {
	case []any:
		if p.Explode && (p.Style == "" || p.Style == openapi3.SerializationForm) {
			for _, item := range val {
				if item != nil {
					q.Add(p.Wire, formatScalar(item))
				}
			}
			return
		}
		sep := ","
		switch p.Style {
		case openapi3.SerializationSpaceDelimited:
			sep = " "
		case openapi3.SerializationPipeDelimited:
			sep = "|"
		}
		q.Set(p.Wire, joinValue(val, sep))
	case map[string]any:
		switch {
		case p.Style == openapi3.SerializationDeepObject:
			for _, k := range sortedKeys(val) {
				if val[k] != nil {
					q.Set(p.Wire+"["+k+"]", formatScalar(val[k]))
				}
			}
		case p.Explode:
			for _, k := range sortedKeys(val) {
				switch item := val[k].(type) {
				case nil:
				case []any:
					q.Set(k, joinValue(item, ","))
				default:
					q.Set(k, formatScalar(item))
				}
			}
		default:
			parts := make([]string, 0, 2*len(val))
			for _, k := range sortedKeys(val) {
				if val[k] != nil {
					parts = append(parts, k, formatScalar(val[k]))
				}
			}
			q.Set(p.Wire, strings.Join(parts, ","))
		}
	default:
		q.Set(p.Wire, formatScalar(v))
	}
}

// joinValue renders arrays as sep-joined scalars and anything else as one
// scalar.
func joinValue(v any, sep string) string {
	items, ok := v.([]any)
	if !ok {
		return formatScalar(v)
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item != nil {
			parts = append(parts, formatScalar(item))
		}
	}
	return strings.Join(parts, sep)
}

// formatScalar renders one argument value for a URL or header. Integral
// numbers print without a fractional part so 12.0 goes out as "12".
func formatScalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return formatScalar(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// formValues flattens body arguments into form fields. Arrays repeat the
// field; nil values are dropped.
func formValues(m map[string]any) url.Values {
	form := url.Values{}
	for _, k := range sortedKeys(m) {
		switch val := m[k].(type) {
		case nil:
		case []any:
			for _, item := range val {
				if item != nil {
					form.Add(k, formatScalar(item))
				}
			}
		default:
			form.Set(k, formatScalar(val))
		}
	}
	return form
}

// baseURLValue is what a placeholder may be replaced with: unreserved URL
// characters only, so a value can never add a path, port, query, fragment
// or userinfo to the base URL.
var baseURLValue = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

// resolveBaseURL fills {name} placeholders in the namespace base URL. A
// value comes from the tool argument, then the caller's headers or query,
// then the configured base_url_vars. The filled URL must keep the
// template's scheme and, where the host is fixed, its host.
func resolveBaseURL(b *Binding, serverArgs map[string]string, caller Caller) (string, error) {
	var missing, invalid []string
	resolved := baseURLPlaceholder.ReplaceAllStringFunc(b.BaseURL, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := serverArgs[name]
		if !ok || v == "" {
			v, ok = caller.Lookup(name)
		}
		if !ok || v == "" {
			v, ok = b.BaseURLVars[name]
		}
		if !ok || v == "" {
			missing = append(missing, name)
			return m
		}
		if !baseURLValue.MatchString(v) {
			invalid = append(invalid, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", apperr.Validation("namespace %s: no value for base URL variable(s): %s", b.Namespace, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return "", apperr.Validation("namespace %s: base URL variable(s) %s may only contain letters, digits, '.', '_', '~' and '-'", b.Namespace, strings.Join(invalid, ", "))
	}

	u, err := url.Parse(resolved)
	if err != nil || u.Host == "" || u.User != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperr.Validation("namespace %s: base URL %q is not a valid http(s) URL", b.Namespace, resolved)
	}
	// Filling the template twice with different values shows which parts
	// of it are fixed.
	one, errOne := url.Parse(baseURLPlaceholder.ReplaceAllString(b.BaseURL, "a"))
	two, errTwo := url.Parse(baseURLPlaceholder.ReplaceAllString(b.BaseURL, "b"))
	if errOne == nil && errTwo == nil {
		if one.Scheme == two.Scheme && one.Scheme != u.Scheme {
			return "", apperr.Validation("namespace %s: base URL scheme changed to %q", b.Namespace, u.Scheme)
		}
		if one.Host == two.Host && one.Host != u.Host {
			return "", apperr.Validation("namespace %s: base URL host changed to %q", b.Namespace, u.Host)
		}
	}
	return resolved, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
