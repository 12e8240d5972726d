package quota

// TrackedModel is one entry of the allow-list of models whose quota is tracked.
type TrackedModel struct {
	ID   string
	Name string
}

// TrackedModels is the ordered allow-list. Quota results follow this order.
var TrackedModels = []TrackedModel{
	{ID: "gemini-3-pro-high", Name: "Gemini 3 Pro (High)"},
	{ID: "gemini-3-pro-low", Name: "Gemini 3 Pro (Low)"},
	{ID: "gemini-3-flash", Name: "Gemini 3 Flash"},
	{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5"},
	{ID: "claude-sonnet-4-5-thinking", Name: "Claude Sonnet 4.5 (Thinking)"},
	{ID: "claude-opus-4-5-thinking", Name: "Claude Opus 4.5 (Thinking)"},
	{ID: "gpt-oss-120b-medium", Name: "GPT-OSS 120B (Medium)"},
}

// DisplayName returns the display name for a tracked model id.
func DisplayName(modelID string) (string, bool) {
	for _, m := range TrackedModels {
		if m.ID == modelID {
			return m.Name, true
		}
	}
	return "", false
}
