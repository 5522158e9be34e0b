// Package apperr defines the error kinds shared across the gateway.
//
// Every error that crosses a package boundary is marked with exactly one
// of the sentinel kinds below, so callers classify with errors.Is and pull
// detail out with errors.As on the concrete types.
package apperr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds.
var (
	// ErrConfiguration covers invalid namespace or gateway configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrResolution covers documents or references that cannot be loaded.
	ErrResolution = errors.New("resolution error")
	// ErrValidation covers invocation arguments rejected before any network call.
	ErrValidation = errors.New("validation error")
	// ErrUpstreamNetwork covers transport failures talking to a backing API.
	ErrUpstreamNetwork = errors.New("upstream network error")
	// ErrUpstreamHTTP covers non-2xx responses from a backing API.
	ErrUpstreamHTTP = errors.New("upstream http error")
)

// Kind labels used in logs and metrics.
const (
	KindConfiguration   = "configuration"
	KindResolution      = "resolution"
	KindValidation      = "validation"
	KindUpstreamNetwork = "upstream_network"
	KindUpstreamHTTP    = "upstream_http"
	KindInternal        = "internal"
)

// HTTPError carries a non-2xx upstream response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	body := string(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, body)
}

// UnresolvableReferenceError is returned when a $ref points at nothing.
type UnresolvableReferenceError struct {
	Ref string
}

func (e *UnresolvableReferenceError) Error() string {
	return fmt.Sprintf("unresolvable reference %q", e.Ref)
}

// Configuration returns a formatted configuration error.
func Configuration(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

// WrapConfiguration marks cause as a configuration error.
func WrapConfiguration(cause error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrConfiguration)
}

// Resolution returns a formatted resolution error.
func Resolution(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrResolution)
}

// WrapResolution marks cause as a resolution error.
func WrapResolution(cause error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrResolution)
}

// Unresolvable reports a $ref whose target does not exist.
func Unresolvable(ref string) error {
	return errors.Mark(errors.WithStack(&UnresolvableReferenceError{Ref: ref}), ErrResolution)
}

// Validation returns a formatted argument validation error.
func Validation(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// UpstreamNetwork marks a transport failure.
func UpstreamNetwork(cause error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrUpstreamNetwork)
}

// UpstreamHTTP wraps a non-2xx response.
func UpstreamHTTP(status int, body []byte) error {
	return errors.Mark(errors.WithStack(&HTTPError{StatusCode: status, Body: body}), ErrUpstreamHTTP)
}

// Kind reports the label of the first matching error kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrResolution):
		return KindResolution
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUpstreamNetwork):
		return KindUpstreamNetwork
	case errors.Is(err, ErrUpstreamHTTP):
		return KindUpstreamHTTP
	default:
		return KindInternal
	}
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsResolution reports whether err is a resolution error.
func IsResolution(err error) bool { return errors.Is(err, ErrResolution) }

// IsValidation reports whether err is an argument validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// AsHTTPError extracts the upstream response from err, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// Issues collects several configuration problems into one error.
type Issues []string

// Err returns nil when there are no issues.
func (is Issues) Err() error {
	if len(is) == 0 {
		return nil
	}
	msg := is[0]
	for _, s := range is[1:] {
		msg += "; " + s
	}
	return errors.Mark(errors.WithDetail(errors.New(msg), fmt.Sprintf("%d configuration issue(s)", len(is))), ErrConfiguration)
}
