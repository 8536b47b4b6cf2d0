package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func toolRequest() completion.Request {
	return completion.Request{
		RequestID: "req-9",
		Params:    models.ModelParams{SystemPrompt: "be brief"},
		Prior: []models.ConversationMessage{
			{Role: models.RoleAssistant, Outputs: models.Units{models.MessageUnit{Text: "dropped, precedes first user"}}},
			{Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "weather?"}}},
			{Role: models.RoleAssistant, Outputs: models.Units{models.FunctionToolCall{CallID: "c1", Name: "weather", Arguments: `{"city":"Oslo"}`}}},
		},
		NewMessage: models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{
			models.FunctionToolOutput{CallID: "c1", Output: "rain"},
		}},
		ToolChoices: []models.ToolStoreChoice{
			{ChoiceID: "ch1", ToolType: models.ToolTypeFunction, ToolSlug: "weather", Description: "forecast"},
			{ChoiceID: "ch2", ToolType: models.ToolTypeWebSearch},
		},
	}
}

func TestBuildContents(t *testing.T) {
	contents, err := buildContents(toolRequest())
	require.NoError(t, err)
	require.Len(t, contents, 3)

	assert.Equal(t, roleUser, contents[0].Role)
	assert.Equal(t, "weather?", contents[0].Parts[0].Text)

	assert.Equal(t, roleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, map[string]any{"city": "Oslo"}, contents[1].Parts[0].FunctionCall.Args)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "weather", resp.Name, "name is borrowed from the matching call")
	assert.Equal(t, map[string]any{"output": "rain"}, resp.Response)

	_, err = buildContents(completion.Request{})
	assert.Error(t, err)
}

func TestBuildConfig(t *testing.T) {
	temp := 0.5
	req := toolRequest()
	req.Params.Temperature = &temp
	req.Params.MaxOutputTokens = 512
	req.Params.ReasoningEffort = "low"

	cfg := buildConfig(req)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be brief", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.5, *cfg.Temperature, 0.0001)
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.True(t, cfg.ThinkingConfig.IncludeThoughts)
	assert.Equal(t, int32(1024), *cfg.ThinkingConfig.ThinkingBudget)

	require.Len(t, cfg.Tools, 2)
	require.Len(t, cfg.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "weather", cfg.Tools[0].FunctionDeclarations[0].Name)
	assert.NotNil(t, cfg.Tools[1].GoogleSearch)

	empty := buildConfig(completion.Request{})
	assert.Nil(t, empty.ThinkingConfig)
	assert.Nil(t, empty.Tools)
}

func TestStreamState_Accumulates(t *testing.T) {
	var text, thinking []string
	cb := completion.Callbacks{
		OnText:     func(s string) { text = append(text, s) },
		OnThinking: func(s string) { thinking = append(thinking, s) },
	}
	s := &streamState{}
	s.add(&genai.GenerateContentResponse{
		ResponseID: "r1",
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{Text: "pondering", Thought: true},
			{Text: "It "},
		}}}},
	}, cb)
	s.add(&genai.GenerateContentResponse{
		ModelVersion: "gemini-test",
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "rains."},
				{FunctionCall: &genai.FunctionCall{Name: "weather", Args: map[string]any{"city": "Oslo"}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
	}, cb)
	s.add(nil, cb)

	assert.Equal(t, []string{"It ", "rains."}, text)
	assert.Equal(t, []string{"pondering"}, thinking)

	res, err := s.result("req-1", "fallback")
	require.NoError(t, err)
	outs := res.ResponseMessage.Outputs
	require.Len(t, outs, 3)
	assert.Equal(t, models.ReasoningUnit{Text: "pondering"}, outs[0])
	assert.Equal(t, models.MessageUnit{Text: "It rains."}, outs[1])
	call, ok := outs[2].(models.FunctionToolCall)
	require.True(t, ok)
	assert.NotEmpty(t, call.CallID)
	assert.JSONEq(t, `{"city":"Oslo"}`, call.Arguments)
	assert.Equal(t, "gemini-test", res.ResponseMessage.Debug.Model)
	assert.Equal(t, 7, res.ResponseMessage.Debug.Usage["input_tokens"])
	assert.Equal(t, "STOP", res.ResponseMessage.Debug.Details["finish_reason"])
}

func TestComplete_StreamsOverSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-test:streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hello\"}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\" there\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":4,\"candidatesTokenCount\":2}}\n\n")
	}))
	defer srv.Close()

	g := &Gemini_Model{Model: "gemini-test", BaseURL: srv.URL, APIKey: "test-key"}
	var chunks []string
	res, err := g.Complete(context.Background(), completion.Request{
		RequestID:  "req-2",
		NewMessage: models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "hi"}}},
	}, completion.Callbacks{OnText: func(s string) { chunks = append(chunks, s) }})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " there"}, chunks)
	assert.Equal(t, models.Units{models.MessageUnit{Text: "Hello there"}}, res.ResponseMessage.Outputs)
	assert.Equal(t, "req-2", res.RequestID)
}

func TestComplete_CancelledContextIsAbort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &Gemini_Model{BaseURL: "http://127.0.0.1:1", APIKey: "test-key"}
	_, err := g.Complete(ctx, completion.Request{
		NewMessage: models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "hi"}}},
	}, completion.Callbacks{})
	assert.ErrorIs(t, err, completion.ErrAborted)
}

func TestConvertToGeminiTools_Custom(t *testing.T) {
	tools := ConvertToGeminiTools([]models.ToolStoreChoice{{ToolType: models.ToolTypeCustom, ToolSlug: "patch"}})
	require.Len(t, tools, 1)
	decl := tools[0].FunctionDeclarations[0]
	assert.Equal(t, []string{"input"}, decl.Parameters.Required)
}
