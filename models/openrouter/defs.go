package openrouter

import "github.com/Desarso/tabchat/models"

// OpenAI-compatible chat completions types

type OpenRouterRequest struct {
	Model           string      `json:"model"`
	Messages        []Message   `json:"messages"`
	Tools           []Tool      `json:"tools,omitempty"`
	ToolChoice      interface{} `json:"tool_choice,omitempty"` // "auto", "none", or specific tool
	Stream          bool        `json:"stream,omitempty"`
	StreamOptions   *StreamOpts `json:"stream_options,omitempty"`
	MaxTokens       *int        `json:"max_tokens,omitempty"`
	Temperature     *float64    `json:"temperature,omitempty"`
	ReasoningEffort string      `json:"reasoning_effort,omitempty"`
}

type StreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    *string    `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
	// Chain-of-thought fields; providers disagree on the name.
	Reasoning        *string `json:"reasoning,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
}

type Tool struct {
	Type     string       `json:"type"` // "function"
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"` // JSON Schema object
}

type ToolCall struct {
	Index    int              `json:"index,omitempty"` // position within a streamed delta
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type Choice struct {
	Index        int      `json:"index"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason *string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamResponse is one server-sent chunk.
type StreamResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type ErrorResponse struct {
	Error OpenRouterError `json:"error"`
}

type OpenRouterError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Param   interface{} `json:"param,omitempty"`
	Code    interface{} `json:"code,omitempty"`
}

// SanitizedParameters keeps properties an object and required an array, which strict
// backends validate.
type SanitizedParameters struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required"`
}

// ConvertToOpenRouterTool converts a tool choice to a function tool. Custom tools take a
// single string input. Web search has no portable function form and yields false.
func ConvertToOpenRouterTool(choice models.ToolStoreChoice) (Tool, bool) {
	params := SanitizedParameters{Type: "object", Properties: map[string]interface{}{}, Required: []string{}}
	switch choice.ToolType {
	case models.ToolTypeWebSearch:
		return Tool{}, false
	case models.ToolTypeCustom:
		params.Properties["input"] = map[string]interface{}{"type": "string"}
		params.Required = []string{"input"}
	}
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        choice.ToolSlug,
			Description: choice.Description,
			Parameters:  params,
		},
	}, true
}

func ConvertToOpenRouterTools(choices []models.ToolStoreChoice) []Tool {
	var tools []Tool
	for _, c := range choices {
		if t, ok := ConvertToOpenRouterTool(c); ok {
			tools = append(tools, t)
		}
	}
	return tools
}
