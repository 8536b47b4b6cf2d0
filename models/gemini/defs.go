package gemini

import (
	"encoding/json"

	"github.com/Desarso/tabchat/models"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// reasoningBudgets maps a reasoning effort onto a thinking token budget.
var reasoningBudgets = map[string]int32{
	"low":    1024,
	"medium": 8192,
	"high":   24576,
}

// objectSchema is the parameter schema sent for function tools whose arguments are
// left to the model.
func objectSchema() *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
}

// ConvertToGeminiTools turns tool choices into Gemini tool declarations. Function and
// custom tools share one Tool entry; web search becomes a GoogleSearch tool.
func ConvertToGeminiTools(choices []models.ToolStoreChoice) []*genai.Tool {
	var decls []*genai.FunctionDeclaration
	var tools []*genai.Tool
	for _, c := range choices {
		switch c.ToolType {
		case models.ToolTypeWebSearch:
			tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case models.ToolTypeCustom:
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        c.ToolSlug,
				Description: c.Description,
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"input": {Type: genai.TypeString}},
					Required:   []string{"input"},
				},
			})
		default:
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        c.ToolSlug,
				Description: c.Description,
				Parameters:  objectSchema(),
			})
		}
	}
	if len(decls) > 0 {
		tools = append([]*genai.Tool{{FunctionDeclarations: decls}}, tools...)
	}
	return tools
}

// convertMessage converts a conversation message into Gemini content. Messages with
// nothing to send yield nil.
func convertMessage(m models.ConversationMessage) *genai.Content {
	var parts []*genai.Part
	var role string
	switch m.Role {
	case models.RoleUser:
		role = roleUser
		for _, u := range m.Inputs {
			switch v := u.(type) {
			case models.MessageUnit:
				if v.Text != "" {
					parts = append(parts, &genai.Part{Text: v.Text})
				}
			case models.FunctionToolOutput, models.CustomToolOutput:
				out := v.(models.OutputUnit).AsToolOutput()
				key := "output"
				if out.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       out.CallID,
					Name:     out.Name,
					Response: map[string]any{key: out.Content},
				}})
			}
		}
	case models.RoleAssistant:
		role = roleModel
		for _, u := range m.Outputs {
			switch v := u.(type) {
			case models.MessageUnit:
				if v.Text != "" {
					parts = append(parts, &genai.Part{Text: v.Text})
				}
			case models.FunctionToolCall:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: v.CallID, Name: v.Name, Args: parseArgs(v.Arguments),
				}})
			case models.CustomToolCall:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: v.CallID, Name: v.Name, Args: map[string]any{"input": v.Input},
				}})
			}
		}
	default:
		return nil
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}

// toFunctionCall converts a streamed function call, minting an id when Gemini sends none.
func toFunctionCall(fc *genai.FunctionCall) models.FunctionToolCall {
	id := fc.ID
	if id == "" {
		id = uuid.NewString()
	}
	args := "{}"
	if len(fc.Args) > 0 {
		if b, err := json.Marshal(fc.Args); err == nil {
			args = string(b)
		}
	}
	return models.FunctionToolCall{CallID: id, Name: fc.Name, Arguments: args}
}

func parseArgs(arguments string) map[string]any {
	args := make(map[string]any)
	if arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]any{"input": arguments}
	}
	return args
}
