package registry

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bobmcallan/mcp-openapi/internal/apperr"
)

// Validate checks args against the tool: unknown arguments first, then
// missing required ones, then types. A null value counts as absent. No
// check touches the network.
func (t *Tool) Validate(args map[string]any) error {
	var unknown []string
	for name := range args {
		if _, ok := t.Param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperr.Validation("tool %s: unknown argument(s): %s", t.Name, strings.Join(unknown, ", "))
	}

	var missing []string
	for _, p := range t.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("tool %s: missing required argument(s): %s", t.Name, strings.Join(missing, ", "))
	}

	validator, err := t.compiled()
	if err != nil {
		return err
	}
	present := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			present[k] = v
		}
	}
	if err := validator.Validate(present); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return apperr.Validation("tool %s: %s", t.Name, describeValidation(ve))
		}
		return apperr.Validation("tool %s: %v", t.Name, err)
	}
	return nil
}

func (t *Tool) compiled() (*jsonschema.Schema, error) {
	t.once.Do(func() {
		data, err := json.Marshal(t.InputSchema())
		if err != nil {
			t.compErr = errors.Wrapf(err, "encode input schema for %s", t.Name)
			return
		}
		url := "mem://tools/" + t.Name + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			t.compErr = errors.Wrapf(err, "add input schema for %s", t.Name)
			return
		}
		t.validator, t.compErr = c.Compile(url)
		if t.compErr != nil {
			t.compErr = errors.Wrapf(t.compErr, "compile input schema for %s", t.Name)
		}
	})
	return t.validator, t.compErr
}

// describeValidation flattens the leaf causes into one line.
func describeValidation(ve *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				parts = append(parts, e.Message)
			} else {
				parts = append(parts, loc+": "+e.Message)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
