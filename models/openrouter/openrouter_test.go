package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_StreamsChunks(t *testing.T) {
	var captured OpenRouterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		chunks := []string{
			`{"id":"gen-1","model":"m","choices":[{"index":0,"delta":{"role":"assistant","reasoning":"hmm"}}]}`,
			`{"id":"gen-1","choices":[{"index":0,"delta":{"content":"Hi"}}]}`,
			`{"id":"gen-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"weather","arguments":"{\"ci"}}]}}]}`,
			`{"id":"gen-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Oslo\"}"}}]},"finish_reason":"tool_calls"}]}`,
			`{"id":"gen-1","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	o := &OpenRouter_Model{BaseURL: srv.URL, APIKey: "k"}
	var text, thinking []string
	res, err := o.Complete(context.Background(), completion.Request{
		RequestID: "r",
		Params:    models.ModelParams{Model: "m", SystemPrompt: "sys"},
		NewMessage: models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{
			models.MessageUnit{Text: "hello"},
		}},
		ToolChoices: []models.ToolStoreChoice{
			{ToolType: models.ToolTypeFunction, ToolSlug: "weather"},
			{ToolType: models.ToolTypeWebSearch},
		},
	}, completion.Callbacks{
		OnText:     func(s string) { text = append(text, s) },
		OnThinking: func(s string) { thinking = append(thinking, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hi"}, text)
	assert.Equal(t, []string{"hmm"}, thinking)
	assert.Equal(t, models.Units{
		models.ReasoningUnit{Text: "hmm"},
		models.MessageUnit{Text: "Hi"},
		models.FunctionToolCall{CallID: "call_1", Name: "weather", Arguments: `{"city":"Oslo"}`},
	}, res.ResponseMessage.Outputs)
	assert.Equal(t, 5, res.ResponseMessage.Debug.Usage["input_tokens"])
	assert.Equal(t, "tool_calls", res.ResponseMessage.Debug.Details["finish_reason"])

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Len(t, captured.Tools, 1, "web search has no function form")
	assert.True(t, captured.Stream)
}

func TestComplete_APIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
	}))
	defer srv.Close()

	o := &OpenRouter_Model{BaseURL: srv.URL}
	_, err := o.Complete(context.Background(), completion.Request{
		NewMessage: models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{models.MessageUnit{Text: "x"}}},
	}, completion.Callbacks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestConvertMessage_ToolRoundTrip(t *testing.T) {
	asst := convertMessage(models.ConversationMessage{Role: models.RoleAssistant, Outputs: models.Units{
		models.MessageUnit{Text: "checking"},
		models.CustomToolCall{CallID: "c2", Name: "patch", Input: "diff"},
	}})
	require.Len(t, asst, 1)
	assert.Equal(t, "checking", *asst[0].Content)
	assert.JSONEq(t, `{"input":"diff"}`, asst[0].ToolCalls[0].Function.Arguments)

	user := convertMessage(models.ConversationMessage{Role: models.RoleUser, Inputs: models.Units{
		models.MessageUnit{Text: "thanks"},
		models.CustomToolOutput{CallID: "c2", Output: "applied"},
	}})
	require.Len(t, user, 2)
	assert.Equal(t, "tool", user[0].Role)
	assert.Equal(t, "c2", *user[0].ToolCallID)
	assert.Equal(t, "user", user[1].Role)

	assert.Nil(t, convertMessage(models.ConversationMessage{Role: models.RoleSystem}))
}

func TestFromPreset(t *testing.T) {
	m, err := FromPreset("groq")
	require.NoError(t, err)
	assert.Equal(t, "GROQ_API_KEY", m.APIKeyEnv)

	_, err = FromPreset("nope")
	assert.Error(t, err)
}
