package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// MaxToolNameLength is the longest tool name handed to MCP clients.
const MaxToolNameLength = 64

// pathToolName derives a name from method and path:
// GET /v1/customers/{customer} -> get_v1_customers_customer.
func pathToolName(method, path string) string {
	return sanitizeName(strings.ToLower(method) + "_" + path)
}

// operationToolName snake-cases an operationId: listCustomers -> list_customers.
func operationToolName(operationID string) string {
	var b strings.Builder
	for i, r := range operationID {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return sanitizeName(b.String())
}

// sanitizeName keeps [a-z0-9_-], turning every other run into one underscore.
func sanitizeName(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// capName truncates names longer than MaxToolNameLength, keeping them
// distinct with a hash of the full name.
func capName(name string) string {
	if len(name) <= MaxToolNameLength {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:4])
	return strings.TrimRight(name[:MaxToolNameLength-len(suffix)], "_") + suffix
}

// nameSet hands out unique tool names.
type nameSet map[string]bool

func (s nameSet) claim(name string) string {
	name = capName(name)
	if !s[name] {
		s[name] = true
		return name
	}
	for i := 2; ; i++ {
		suffix := fmt.Sprintf("_%d", i)
		candidate := name + suffix
		if len(candidate) > MaxToolNameLength {
			candidate = name[:MaxToolNameLength-len(suffix)] + suffix
		}
		if !s[candidate] {
			s[candidate] = true
			return candidate
		}
	}
}

// argumentName strips the "[]" suffix array parameters often carry.
func argumentName(wire string) string {
	return strings.TrimSuffix(wire, "[]")
}
