package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
	"github.com/bobmcallan/mcp-openapi/internal/common"
)

func listTool(t *testing.T) *Tool {
	t.Helper()
	tools, err := NewBuilder(common.NewSilentLogger()).Build(testNamespace("/v1/customers$"), loadSpec(t, customersSpec))
	require.NoError(t, err)
	return findTool(t, tools, "get_v1_customers")
}

func TestValidate(t *testing.T) {
	tool := listTool(t)

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"valid", map[string]any{"code": float64(12)}, ""},
		{"optional null", map[string]any{"code": float64(12), "limit": nil}, ""},
		{"array value", map[string]any{"code": float64(1), "expand": []any{"a", "b"}}, ""},
		{"unknown", map[string]any{"code": float64(1), "bogus": "x"}, "unknown argument(s): bogus"},
		{"missing", map[string]any{}, "missing required argument(s): code"},
		{"null required", map[string]any{"code": nil}, "missing required argument(s): code"},
		{"wrong type", map[string]any{"code": "abc"}, "code"},
		{"fractional integer", map[string]any{"code": 1.5}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tool.Validate(tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_UnknownBeforeMissing(t *testing.T) {
	err := listTool(t).Validate(map[string]any{"bogus": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")
}

func TestInputSchema(t *testing.T) {
	s := listTool(t).InputSchema()

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, false, s["additionalProperties"])
	assert.Equal(t, []string{"code"}, s["required"])

	props := s["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "integer", limit["type"])
	assert.EqualValues(t, 10, limit["default"])
	assert.Equal(t, "array", props["expand"].(map[string]any)["type"])
}

func TestSummary(t *testing.T) {
	sum := listTool(t).Summary()
	assert.Equal(t, "get_v1_customers", sum.Name)
	assert.Equal(t, "List customers", sum.Description)
	require.Len(t, sum.Parameters, 4)
	assert.Equal(t, ParamSummary{Name: "limit", Type: "integer", Default: float64(10), Required: false, In: "query"}, sum.Parameters[0])
	assert.Equal(t, "array[string]", sum.Parameters[2].Type)
}
