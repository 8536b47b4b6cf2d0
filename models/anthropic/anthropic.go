package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stores"
	"github.com/google/uuid"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1/messages"
	DefaultAPIVersion = "2023-06-01"
	DefaultModel      = "claude-sonnet-4-20250514"
	DefaultMaxTokens  = 4096
)

// reasoningBudgets maps a reasoning effort onto a thinking token budget.
var reasoningBudgets = map[string]int{
	"low":    1024,
	"medium": 4096,
	"high":   16384,
}

// Anthropic_Model streams completions from the Anthropic Messages API.
type Anthropic_Model struct {
	Model      string // used when the request names no model
	MaxTokens  *int
	BaseURL    string       // Optional: custom API endpoint
	APIKeyEnv  string       // Optional: env var name for API key (defaults to ANTHROPIC_API_KEY)
	APIKey     string       // Optional: takes precedence over APIKeyEnv
	HTTPClient *http.Client // Optional: defaults to http.DefaultClient
	Log        *logger.Logger
}

// Complete implements completion.Completer.
func (a *Anthropic_Model) Complete(ctx context.Context, req completion.Request, cb completion.Callbacks) (*completion.Result, error) {
	parent := ctx
	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		defer cancel()
	}
	log := logger.OrNop(a.Log).With("provider", "anthropic", "request_id", req.RequestID)

	anthropicReq, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(anthropicReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := a.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	a.setHeaders(httpReq)

	client := a.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	log.Debug("sending request", "model", anthropicReq.Model, "messages", len(anthropicReq.Messages))
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, wrapErr(parent, "HTTP request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Anthropic API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	state, err := parseSSEStream(resp.Body, cb)
	if err != nil {
		return nil, wrapErr(parent, "error reading stream", err)
	}
	if parent.Err() != nil {
		return nil, fmt.Errorf("anthropic stream: %w", completion.ErrAborted)
	}
	return state.result(req.RequestID, anthropicReq.Model)
}

// wrapErr reports cancellation of the caller's context as an abort.
func wrapErr(parent context.Context, msg string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", msg, completion.ErrAborted)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

type toolBlock struct {
	id   string
	name string
	json strings.Builder
}

// streamState accumulates a streamed message.
type streamState struct {
	messageID  string
	model      string
	stopReason string
	usage      Usage
	text       strings.Builder
	thinking   strings.Builder
	toolBlocks map[int]*toolBlock
	calls      []models.FunctionToolCall
}

// parseSSEStream reads Anthropic SSE events, forwarding text and thinking deltas.
func parseSSEStream(r io.Reader, cb completion.Callbacks) (*streamState, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	state := &streamState{toolBlocks: make(map[int]*toolBlock)}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var raw struct {
			Type         string          `json:"type"`
			Index        int             `json:"index"`
			Message      json.RawMessage `json:"message"`
			ContentBlock json.RawMessage `json:"content_block"`
			Delta        json.RawMessage `json:"delta"`
			Usage        *Usage          `json:"usage"`
			Error        *ErrorResponse  `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &raw); err != nil {
			continue
		}

		switch raw.Type {
		case EventMessageStart:
			var msg struct {
				ID    string `json:"id"`
				Model string `json:"model"`
				Usage Usage  `json:"usage"`
			}
			if json.Unmarshal(raw.Message, &msg) == nil {
				state.messageID = msg.ID
				state.model = msg.Model
				state.usage.InputTokens = msg.Usage.InputTokens
			}

		case EventContentBlockStart:
			var block ContentBlock
			if json.Unmarshal(raw.ContentBlock, &block) == nil && block.Type == "tool_use" {
				state.toolBlocks[raw.Index] = &toolBlock{id: block.ID, name: block.Name}
			}

		case EventContentBlockDelta:
			var delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				Thinking    string `json:"thinking"`
				PartialJSON string `json:"partial_json"`
			}
			if json.Unmarshal(raw.Delta, &delta) != nil {
				continue
			}
			switch delta.Type {
			case "text_delta":
				state.text.WriteString(delta.Text)
				cb.Text(delta.Text)
			case "thinking_delta":
				state.thinking.WriteString(delta.Thinking)
				cb.Thinking(delta.Thinking)
			case "input_json_delta":
				if tb, ok := state.toolBlocks[raw.Index]; ok {
					tb.json.WriteString(delta.PartialJSON)
				}
			}

		case EventContentBlockStop:
			// Finalize tool call if this was a tool_use block
			if tb, ok := state.toolBlocks[raw.Index]; ok {
				args := strings.TrimSpace(tb.json.String())
				if args == "" {
					args = "{}"
				}
				id := tb.id
				if id == "" {
					id = uuid.NewString()
				}
				state.calls = append(state.calls, models.FunctionToolCall{CallID: id, Name: tb.name, Arguments: args})
				delete(state.toolBlocks, raw.Index)
			}

		case EventMessageDelta:
			var delta struct {
				StopReason string `json:"stop_reason"`
			}
			if json.Unmarshal(raw.Delta, &delta) == nil && delta.StopReason != "" {
				state.stopReason = delta.StopReason
			}
			if raw.Usage != nil {
				state.usage.OutputTokens = raw.Usage.OutputTokens
			}

		case EventError:
			if raw.Error != nil {
				return nil, fmt.Errorf("Anthropic stream error: %s: %s", raw.Error.Type, raw.Error.Message)
			}
			return nil, fmt.Errorf("Anthropic stream error: %s", data)

		case EventMessageStop:
			return state, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *streamState) result(requestID, requestedModel string) (*completion.Result, error) {
	var outputs models.Units
	if s.thinking.Len() > 0 {
		outputs = append(outputs, models.ReasoningUnit{Text: s.thinking.String()})
	}
	if s.text.Len() > 0 {
		outputs = append(outputs, models.MessageUnit{Text: s.text.String()})
	}
	for _, c := range s.calls {
		outputs = append(outputs, c)
	}

	model := s.model
	if model == "" {
		model = requestedModel
	}
	raw, err := json.Marshal(map[string]interface{}{
		"id":          s.messageID,
		"model":       model,
		"stop_reason": s.stopReason,
		"usage":       s.usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw response: %w", err)
	}

	return &completion.Result{
		RequestID: requestID,
		ResponseMessage: models.ConversationMessage{
			Role:    models.RoleAssistant,
			Status:  models.StatusCompleted,
			Outputs: outputs,
			Debug: &models.MessageDebug{
				Provider: "anthropic",
				Model:    model,
				Usage: map[string]int{
					"input_tokens":  s.usage.InputTokens,
					"output_tokens": s.usage.OutputTokens,
				},
				Details: map[string]interface{}{"stop_reason": s.stopReason, "message_id": s.messageID},
			},
		},
		RawResponse: raw,
	}, nil
}

// buildRequest constructs the Anthropic API request.
func (a *Anthropic_Model) buildRequest(req completion.Request) (AnthropicRequest, error) {
	var messages []AnthropicMsg
	for _, m := range stores.SanitizeHistory(req.Prior) {
		if msg := convertMessage(m); msg != nil {
			messages = append(messages, *msg)
		}
	}
	if msg := convertMessage(req.NewMessage); msg != nil {
		messages = append(messages, *msg)
	}
	if len(messages) == 0 {
		return AnthropicRequest{}, fmt.Errorf("cannot create Anthropic request with no messages")
	}

	// Merge consecutive same-role messages (Anthropic requires alternating roles)
	messages = mergeConsecutiveMessages(messages)

	model := req.Params.Model
	if model == "" {
		model = a.Model
	}
	if model == "" {
		model = DefaultModel
	}
	maxTokens := DefaultMaxTokens
	if a.MaxTokens != nil {
		maxTokens = *a.MaxTokens
	}
	if req.Params.MaxOutputTokens > 0 {
		maxTokens = req.Params.MaxOutputTokens
	}

	out := AnthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    messages,
		System:      req.Params.SystemPrompt,
		Stream:      true,
		Temperature: req.Params.Temperature,
	}
	if budget, ok := reasoningBudgets[req.Params.ReasoningEffort]; ok {
		out.Thinking = &ThinkingConfig{Type: "enabled", BudgetTokens: budget}
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + DefaultMaxTokens
		}
		// Extended thinking does not accept a temperature.
		out.Temperature = nil
	}
	if len(req.ToolChoices) > 0 {
		out.Tools = ConvertToAnthropicTools(req.ToolChoices)
	}
	return out, nil
}

// mergeConsecutiveMessages merges consecutive messages with the same role.
// Anthropic requires strictly alternating user/assistant roles.
func mergeConsecutiveMessages(messages []AnthropicMsg) []AnthropicMsg {
	if len(messages) <= 1 {
		return messages
	}

	var result []AnthropicMsg
	for _, msg := range messages {
		if len(result) > 0 && result[len(result)-1].Role == msg.Role {
			prev := &result[len(result)-1]
			prev.Content = append(prev.Content, msg.Content...)
		} else {
			result = append(result, msg)
		}
	}
	return result
}

// convertMessage converts a conversation message to Anthropic format. Messages with
// nothing to send, and roles other than user and assistant, yield nil.
func convertMessage(m models.ConversationMessage) *AnthropicMsg {
	var blocks []ContentBlock
	switch m.Role {
	case models.RoleUser:
		for _, u := range m.Inputs {
			switch v := u.(type) {
			case models.MessageUnit:
				if v.Text != "" {
					blocks = append(blocks, ContentBlock{Type: "text", Text: v.Text})
				}
			case models.FunctionToolOutput, models.CustomToolOutput:
				out := v.(models.OutputUnit).AsToolOutput()
				if out.CallID == "" {
					continue
				}
				blocks = append(blocks, ContentBlock{
					Type:      "tool_result",
					ToolUseID: out.CallID,
					Content:   out.Content,
					IsError:   out.IsError,
				})
			}
		}
	case models.RoleAssistant:
		for _, u := range m.Outputs {
			switch v := u.(type) {
			case models.MessageUnit:
				if v.Text != "" {
					blocks = append(blocks, ContentBlock{Type: "text", Text: v.Text})
				}
			case models.FunctionToolCall:
				blocks = append(blocks, ContentBlock{Type: "tool_use", ID: v.CallID, Name: v.Name, Input: parseArgs(v.Arguments)})
			case models.CustomToolCall:
				blocks = append(blocks, ContentBlock{Type: "tool_use", ID: v.CallID, Name: v.Name, Input: map[string]interface{}{"input": v.Input}})
			}
		}
	default:
		return nil
	}
	if len(blocks) == 0 {
		return nil
	}
	return &AnthropicMsg{Role: string(m.Role), Content: blocks}
}

func parseArgs(arguments string) map[string]interface{} {
	args := make(map[string]interface{})
	if arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]interface{}{"input": arguments}
	}
	return args
}

// setHeaders sets required headers for Anthropic API requests.
func (a *Anthropic_Model) setHeaders(req *http.Request) {
	apiKey := a.APIKey
	if apiKey == "" {
		apiKeyEnv := a.APIKeyEnv
		if apiKeyEnv == "" {
			apiKeyEnv = "ANTHROPIC_API_KEY"
		}
		apiKey = os.Getenv(apiKeyEnv)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	req.Header.Set("anthropic-version", DefaultAPIVersion)
}
