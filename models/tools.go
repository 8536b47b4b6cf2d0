package models

// ToolType classifies a tool choice offered to the model.
type ToolType string

const (
	ToolTypeFunction  ToolType = "function"
	ToolTypeCustom    ToolType = "custom"
	ToolTypeWebSearch ToolType = "webSearch"
)

// ToolStoreChoice is a tool selection attached to the user message that introduced it.
// Calls and outputs refer back to it through ChoiceID.
type ToolStoreChoice struct {
	ChoiceID    string   `json:"choice_id"`
	ToolType    ToolType `json:"tool_type"`
	BundleID    string   `json:"bundle_id,omitempty"`
	ToolSlug    string   `json:"tool_slug"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	AutoExecute bool     `json:"auto_execute,omitempty"`
}

// Label is the name shown for the choice in the UI.
func (c ToolStoreChoice) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ToolSlug
}

// WebSearchChoice returns the first web search choice in choices, if any.
func WebSearchChoice(choices []ToolStoreChoice) (ToolStoreChoice, bool) {
	for _, c := range choices {
		if c.ToolType == ToolTypeWebSearch {
			return c, true
		}
	}
	return ToolStoreChoice{}, false
}
