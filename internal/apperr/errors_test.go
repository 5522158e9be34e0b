package apperr

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"configuration", Configuration("duplicate namespace %q", "a"), KindConfiguration},
		{"resolution", Resolution("fetch failed"), KindResolution},
		{"unresolvable", Unresolvable("other.yaml#/x"), KindResolution},
		{"validation", Validation("missing %s", "id"), KindValidation},
		{"network", UpstreamNetwork(context.DeadlineExceeded, "GET /x"), KindUpstreamNetwork},
		{"http", UpstreamHTTP(404, []byte("nope")), KindUpstreamHTTP},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestKind_SurvivesWrapping(t *testing.T) {
	err := errors.Wrap(Validation("bad"), "dispatch")
	assert.True(t, IsValidation(err))
	assert.False(t, IsConfiguration(err))
}

func TestAsHTTPError(t *testing.T) {
	err := errors.Wrap(UpstreamHTTP(503, []byte(`{"error":"down"}`)), "call")
	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, 503, httpErr.StatusCode)
	assert.Equal(t, `{"error":"down"}`, string(httpErr.Body))

	_, ok = AsHTTPError(Validation("x"))
	assert.False(t, ok)
}

func TestUnresolvable_CarriesRef(t *testing.T) {
	err := Unresolvable("file:///a.yaml#/components/schemas/Missing")
	var ure *UnresolvableReferenceError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, "file:///a.yaml#/components/schemas/Missing", ure.Ref)
	assert.True(t, IsResolution(err))
}

func TestHTTPError_TruncatesBody(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}
	msg := (&HTTPError{StatusCode: 500, Body: body}).Error()
	assert.Less(t, len(msg), 600)
}

func TestIssues(t *testing.T) {
	assert.NoError(t, Issues(nil).Err())

	err := Issues{"a is bad", "b is bad"}.Err()
	require.Error(t, err)
	assert.True(t, IsConfiguration(err))
	assert.Contains(t, err.Error(), "a is bad; b is bad")
}
