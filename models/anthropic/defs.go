package anthropic

import "github.com/Desarso/tabchat/models"

// Anthropic Messages API types

// AnthropicRequest is the request body for the Messages API.
type AnthropicRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []AnthropicMsg  `json:"messages"`
	System      string          `json:"system,omitempty"`
	Tools       []AnthropicTool `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig enables extended thinking.
type ThinkingConfig struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

// AnthropicMsg is a message in the Anthropic format.
type AnthropicMsg struct {
	Role    string         `json:"role"` // "user" or "assistant"
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a polymorphic content element.
type ContentBlock struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	Thinking  string      `json:"thinking,omitempty"`
	ID        string      `json:"id,omitempty"`          // tool_use ID
	Name      string      `json:"name,omitempty"`        // tool name
	Input     interface{} `json:"input,omitempty"`       // tool input (map)
	ToolUseID string      `json:"tool_use_id,omitempty"` // for tool_result
	Content   string      `json:"content,omitempty"`     // for tool_result
	IsError   bool        `json:"is_error,omitempty"`    // for tool_result
}

// AnthropicTool defines a tool for the Anthropic API.
type AnthropicTool struct {
	Type        string      `json:"type,omitempty"` // set for server tools such as web search
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse from the API.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Streaming SSE event types
const (
	EventMessageStart      = "message_start"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventError             = "error"
)

// SanitizedInputSchema is the minimal object schema sent for tools whose parameters are
// chosen by the model.
type SanitizedInputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// ConvertToAnthropicTool converts a tool choice to an Anthropic tool.
func ConvertToAnthropicTool(choice models.ToolStoreChoice) AnthropicTool {
	if choice.ToolType == models.ToolTypeWebSearch {
		return AnthropicTool{Type: "web_search_20250305", Name: "web_search"}
	}
	return AnthropicTool{
		Name:        choice.ToolSlug,
		Description: choice.Description,
		InputSchema: SanitizedInputSchema{
			Type:       "object",
			Properties: make(map[string]interface{}),
		},
	}
}

// ConvertToAnthropicTools converts multiple tool choices.
func ConvertToAnthropicTools(choices []models.ToolStoreChoice) []AnthropicTool {
	tools := make([]AnthropicTool, len(choices))
	for i, c := range choices {
		tools[i] = ConvertToAnthropicTool(c)
	}
	return tools
}
