package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/stores"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

// Gemini_Model streams completions from the Gemini API through the genai SDK.
type Gemini_Model struct {
	Model      string // used when the request names no model
	BaseURL    string // Optional: custom API endpoint
	APIKeyEnv  string // Optional: env var name for API key (defaults to GEMINI_API_KEY)
	APIKey     string // Optional: takes precedence over APIKeyEnv
	HTTPClient *http.Client
	Log        *logger.Logger

	mu     sync.Mutex
	client *genai.Client
}

func (g *Gemini_Model) apiKey() string {
	if g.APIKey != "" {
		return g.APIKey
	}
	env := g.APIKeyEnv
	if env == "" {
		env = "GEMINI_API_KEY"
	}
	return os.Getenv(env)
}

// genaiClient lazily builds the SDK client and reuses it across requests.
func (g *Gemini_Model) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     g.apiKey(),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.HTTPClient,
	}
	if g.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

// Complete implements completion.Completer.
func (g *Gemini_Model) Complete(ctx context.Context, req completion.Request, cb completion.Callbacks) (*completion.Result, error) {
	parent := ctx
	if req.Params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Params.Timeout)
		defer cancel()
	}
	log := logger.OrNop(g.Log).With("provider", "gemini", "request_id", req.RequestID)

	model := g.modelFor(req)
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	client, err := g.genaiClient(ctx)
	if err != nil {
		return nil, err
	}

	log.Debug("sending request", "model", model, "contents", len(contents))
	state := &streamState{}
	for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, buildConfig(req)) {
		if err != nil {
			if parent.Err() != nil {
				return nil, fmt.Errorf("gemini stream: %w", completion.ErrAborted)
			}
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		state.add(resp, cb)
	}
	if parent.Err() != nil {
		return nil, fmt.Errorf("gemini stream: %w", completion.ErrAborted)
	}
	return state.result(req.RequestID, model)
}

func (g *Gemini_Model) modelFor(req completion.Request) string {
	if req.Params.Model != "" {
		return req.Params.Model
	}
	if g.Model != "" {
		return g.Model
	}
	return DefaultModel
}

// buildContents converts the sanitized history plus the new message. Tool responses
// without a name borrow the name of the call they answer.
func buildContents(req completion.Request) ([]*genai.Content, error) {
	msgs := append(stores.SanitizeHistory(req.Prior), req.NewMessage)

	names := make(map[string]string)
	for _, m := range msgs {
		for _, c := range m.Outputs.Calls() {
			names[c.CallID] = c.Name
		}
	}

	var contents []*genai.Content
	for _, m := range msgs {
		c := convertMessage(m)
		if c == nil {
			continue
		}
		for _, p := range c.Parts {
			if p.FunctionResponse != nil && p.FunctionResponse.Name == "" {
				p.FunctionResponse.Name = names[p.FunctionResponse.ID]
			}
		}
		if n := len(contents); n > 0 && contents[n-1].Role == c.Role {
			contents[n-1].Parts = append(contents[n-1].Parts, c.Parts...)
			continue
		}
		contents = append(contents, c)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("cannot create Gemini request with no contents")
	}
	return contents, nil
}

func buildConfig(req completion.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Params.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Params.SystemPrompt}}}
	}
	if req.Params.Temperature != nil {
		t := float32(*req.Params.Temperature)
		cfg.Temperature = &t
	}
	if req.Params.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxOutputTokens)
	}
	if budget, ok := reasoningBudgets[req.Params.ReasoningEffort]; ok {
		cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	}
	if len(req.ToolChoices) > 0 {
		cfg.Tools = ConvertToGeminiTools(req.ToolChoices)
	}
	return cfg
}

// streamState accumulates streamed chunks.
type streamState struct {
	responseID   string
	modelVersion string
	finishReason string
	usage        map[string]int
	text         strings.Builder
	thinking     strings.Builder
	calls        []models.FunctionToolCall
}

func (s *streamState) add(resp *genai.GenerateContentResponse, cb completion.Callbacks) {
	if resp == nil {
		return
	}
	if resp.ResponseID != "" {
		s.responseID = resp.ResponseID
	}
	if resp.ModelVersion != "" {
		s.modelVersion = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		s.usage = map[string]int{
			"input_tokens":     int(u.PromptTokenCount),
			"output_tokens":    int(u.CandidatesTokenCount),
			"reasoning_tokens": int(u.ThoughtsTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		s.finishReason = string(cand.FinishReason)
	}
	if cand.Content == nil {
		return
	}
	for _, p := range cand.Content.Parts {
		if p == nil {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			s.calls = append(s.calls, toFunctionCall(p.FunctionCall))
		case p.Thought:
			s.thinking.WriteString(p.Text)
			cb.Thinking(p.Text)
		case p.Text != "":
			s.text.WriteString(p.Text)
			cb.Text(p.Text)
		}
	}
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

	model := s.modelVersion
	if model == "" {
		model = requestedModel
	}
	raw, err := json.Marshal(map[string]interface{}{
		"response_id":   s.responseID,
		"model_version": model,
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
				Provider: "gemini",
				Model:    model,
				Usage:    s.usage,
				Details:  map[string]interface{}{"finish_reason": s.finishReason, "response_id": s.responseID},
			},
		},
		RawResponse: raw,
	}, nil
}
