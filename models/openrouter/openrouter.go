package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stores"
	"github.com/google/uuid"
)

const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel      = "openai/gpt-4o-mini"
)

// Preset describes another OpenAI-compatible backend.
type Preset struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
}

// Presets are the OpenAI-compatible backends reachable through OpenRouter_Model.
var Presets = map[string]Preset{
	"openrouter": {BaseURL: OpenRouterBaseURL, APIKeyEnv: "OPENROUTER_API_KEY", Model: DefaultModel},
	"groq":       {BaseURL: "https://api.groq.com/openai/v1/chat/completions", APIKeyEnv: "GROQ_API_KEY", Model: "llama-3.3-70b-versatile"},
	"cerebras":   {BaseURL: "https://api.cerebras.ai/v1/chat/completions", APIKeyEnv: "CEREBRAS_API_KEY", Model: "llama-3.3-70b"},
}

// OpenRouter_Model streams completions from OpenRouter.
// Also supports any OpenAI-compatible API endpoint
type OpenRouter_Model struct {
	Model      string // used when the request names no model
	MaxTokens  *int
	SiteURL    string // Optional: Your site URL for OpenRouter rankings
	SiteName   string // Optional: Your site name for OpenRouter rankings
	BaseURL    string // Optional: Custom API base URL (defaults to OpenRouter)
	APIKeyEnv  string // Optional: Environment variable name for API key (defaults to OPENROUTER_API_KEY)
	APIKey     string // Optional: takes precedence over APIKeyEnv
	HTTPClient *http.Client
	Log        *logger.Logger
}

// FromPreset builds a model for a named preset.
func FromPreset(name string) (*OpenRouter_Model, error) {
	p, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown OpenAI-compatible preset %q", name)
	}
	return &OpenRouter_Model{Model: p.Model, BaseURL: p.BaseURL, APIKeyEnv: p.APIKeyEnv}, nil
}

// Complete implements completion.Completer.
func (o *OpenRouter_Model) Complete(ctx context.Context, req completion.Request, cb completion.Callbacks) (*completion.Result, error) {
	parent := ctx
	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		defer cancel()
	}
	log := logger.OrNop(o.Log).With("provider", "openrouter", "request_id", req.RequestID)

	requestBody, err := o.createOpenRouterRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenRouter request: %w", err)
	}
	jsonBytes, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	o.setHeaders(httpReq)

	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	log.Debug("sending request", "model", requestBody.Model, "messages", len(requestBody.Messages))
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, abortOr(parent, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("OpenRouter API error: %s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("OpenRouter API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	state, err := readStream(resp.Body, cb, log)
	if err != nil {
		return nil, abortOr(parent, fmt.Errorf("error reading stream: %w", err))
	}
	if parent.Err() != nil {
		return nil, fmt.Errorf("openrouter stream: %w", completion.ErrAborted)
	}
	return state.result(req.RequestID, requestBody.Model)
}

func abortOr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%v: %w", err, completion.ErrAborted)
	}
	return err
}

type streamState struct {
	id           string
	model        string
	finishReason string
	usage        *Usage
	text         strings.Builder
	reasoning    strings.Builder
	// tool call deltas accumulate by their index
	toolCalls map[int]*ToolCall
}

func readStream(r io.Reader, cb completion.Callbacks, log *logger.Logger) (*streamState, error) {
	state := &streamState{toolCalls: make(map[int]*ToolCall)}
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		done := err == io.EOF

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if data == "[DONE]" {
				return state, nil
			}
			var chunk StreamResponse
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
				log.Warn("failed to unmarshal stream chunk", "error", jerr)
			} else {
				state.add(chunk, cb)
			}
		}
		if done {
			return state, nil
		}
	}
}

func (s *streamState) add(chunk StreamResponse, cb completion.Callbacks) {
	if chunk.ID != "" {
		s.id = chunk.ID
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Usage != nil {
		s.usage = chunk.Usage
	}
	for _, choice := range chunk.Choices {
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			s.finishReason = *choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}
		delta := choice.Delta

		// Check both field names as different models use different conventions
		var reasoning string
		if delta.Reasoning != nil && *delta.Reasoning != "" {
			reasoning = *delta.Reasoning
		} else if delta.ReasoningContent != nil {
			reasoning = *delta.ReasoningContent
		}
		if reasoning != "" {
			s.reasoning.WriteString(reasoning)
			cb.Thinking(reasoning)
		}

		if delta.Content != nil && *delta.Content != "" {
			s.text.WriteString(*delta.Content)
			cb.Text(*delta.Content)
		}

		for _, tc := range delta.ToolCalls {
			if existing, ok := s.toolCalls[tc.Index]; ok {
				existing.Function.Arguments += tc.Function.Arguments
				if existing.ID == "" {
					existing.ID = tc.ID
				}
				continue
			}
			c := tc
			s.toolCalls[tc.Index] = &c
		}
	}
}

func (s *streamState) result(requestID, requestedModel string) (*completion.Result, error) {
	var outputs models.Units
	if s.reasoning.Len() > 0 {
		outputs = append(outputs, models.ReasoningUnit{Text: s.reasoning.String()})
	}
	if s.text.Len() > 0 {
		outputs = append(outputs, models.MessageUnit{Text: s.text.String()})
	}
	indexes := make([]int, 0, len(s.toolCalls))
	for i := range s.toolCalls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		tc := s.toolCalls[i]
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		outputs = append(outputs, models.FunctionToolCall{CallID: id, Name: tc.Function.Name, Arguments: args})
	}

	model := s.model
	if model == "" {
		model = requestedModel
	}
	usage := map[string]int{}
	if s.usage != nil {
		usage["input_tokens"] = s.usage.PromptTokens
		usage["output_tokens"] = s.usage.CompletionTokens
	}
	raw, err := json.Marshal(map[string]interface{}{
		"id":            s.id,
		"model":         model,
		"finish_reason": s.finishReason,
		"usage":         s.usage,
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
				Provider: "openrouter",
				Model:    model,
				Usage:    usage,
				Details:  map[string]interface{}{"finish_reason": s.finishReason, "completion_id": s.id},
			},
		},
		RawResponse: raw,
	}, nil
}

// setHeaders sets the required headers for OpenRouter API requests
func (o *OpenRouter_Model) setHeaders(req *http.Request) {
	apiKey := o.APIKey
	if apiKey == "" {
		// Use custom API key environment variable if provided, otherwise use OPENROUTER_API_KEY
		apiKeyEnv := o.APIKeyEnv
		if apiKeyEnv == "" {
			apiKeyEnv = "OPENROUTER_API_KEY"
		}
		apiKey = os.Getenv(apiKeyEnv)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	// Optional headers for OpenRouter
	if o.SiteURL != "" {
		req.Header.Set("HTTP-Referer", o.SiteURL)
	}
	if o.SiteName != "" {
		req.Header.Set("X-Title", o.SiteName)
	}
}

// createOpenRouterRequest builds the request body for the chat completions API
func (o *OpenRouter_Model) createOpenRouterRequest(req completion.Request) (OpenRouterRequest, error) {
	var messages []Message
	if req.Params.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: strPtr(req.Params.SystemPrompt)})
	}
	for _, m := range stores.SanitizeHistory(req.Prior) {
		messages = append(messages, convertMessage(m)...)
	}
	messages = append(messages, convertMessage(req.NewMessage)...)

	if len(messages) == 0 || (len(messages) == 1 && messages[0].Role == "system") {
		return OpenRouterRequest{}, fmt.Errorf("cannot create OpenRouter request with no messages")
	}

	model := req.Params.Model
	if model == "" {
		model = o.Model
	}
	if model == "" {
		model = DefaultModel
	}
	request := OpenRouterRequest{
		Model:           model,
		Messages:        messages,
		Stream:          true,
		StreamOptions:   &StreamOpts{IncludeUsage: true},
		Temperature:     req.Params.Temperature,
		MaxTokens:       o.MaxTokens,
		ReasoningEffort: req.Params.ReasoningEffort,
	}
	if req.Params.MaxOutputTokens > 0 {
		n := req.Params.MaxOutputTokens
		request.MaxTokens = &n
	}
	if tools := ConvertToOpenRouterTools(req.ToolChoices); len(tools) > 0 {
		request.Tools = tools
		request.ToolChoice = "auto"
	}
	return request, nil
}

// convertMessage converts one conversation message. Tool outputs become separate "tool"
// messages placed before the user's text, and assistant calls ride on one assistant message.
func convertMessage(m models.ConversationMessage) []Message {
	switch m.Role {
	case models.RoleUser:
		var out []Message
		var text []string
		for _, u := range m.Inputs {
			switch v := u.(type) {
			case models.MessageUnit:
				if v.Text != "" {
					text = append(text, v.Text)
				}
			case models.FunctionToolOutput, models.CustomToolOutput:
				res := v.(models.OutputUnit).AsToolOutput()
				callID := res.CallID
				out = append(out, Message{Role: "tool", Content: strPtr(res.Content), ToolCallID: &callID})
			}
		}
		if len(text) > 0 {
			out = append(out, Message{Role: "user", Content: strPtr(strings.Join(text, "\n\n"))})
		}
		return out

	case models.RoleAssistant:
		msg := Message{Role: "assistant"}
		var text strings.Builder
		for _, u := range m.Outputs {
			switch v := u.(type) {
			case models.MessageUnit:
				text.WriteString(v.Text)
			case models.FunctionToolCall:
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: v.CallID, Type: "function", Function: ToolCallFunction{Name: v.Name, Arguments: v.Arguments}})
			case models.CustomToolCall:
				args, _ := json.Marshal(map[string]string{"input": v.Input})
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: v.CallID, Type: "function", Function: ToolCallFunction{Name: v.Name, Arguments: string(args)}})
			}
		}
		if text.Len() > 0 {
			msg.Content = strPtr(text.String())
		}
		if msg.Content == nil && len(msg.ToolCalls) == 0 {
			return nil
		}
		return []Message{msg}
	}
	return nil
}

func strPtr(s string) *string { return &s }
