package registry

// ParamSummary is the inspection view of one argument.
type ParamSummary struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	In          string `json:"in"`
}

// Summary is the inspection view of a tool.
type Summary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []ParamSummary `json:"parameters"`
}

// Summary returns the inspection view of t.
func (t *Tool) Summary() Summary {
	params := make([]ParamSummary, 0, len(t.Params))
	for _, p := range t.Params {
		params = append(params, ParamSummary{
			Name:        p.Name,
			Type:        p.Type.Name(),
			Default:     p.Default,
			Description: p.Description,
			Required:    p.Required,
			In:          string(p.In),
		})
	}
	return Summary{Name: t.Name, Description: t.Description, Parameters: params}
}

// Summaries maps tools to their inspection views, keeping order.
func Summaries(tools []*Tool) []Summary {
	out := make([]Summary, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Summary())
	}
	return out
}
