package sessions

import (
	"context"
	"fmt"

	"github.com/Desarso/tabchat/completion"
	"github.com/Desarso/tabchat/models"
	"github.com/google/uuid"
)

// toolOutputUnits resolves client-executed tool results against the calls the
// assistant made, most recent first, and builds the matching output units.
func toolOutputUnits(conv models.Conversation, inputs []ToolOutputInput) (models.Units, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	calls := make(map[string]models.ToolCall)
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Role != models.RoleAssistant {
			continue
		}
		for _, c := range m.Outputs.Calls() {
			if _, seen := calls[c.CallID]; !seen {
				calls[c.CallID] = c
			}
		}
	}

	units := make(models.Units, 0, len(inputs))
	for _, in := range inputs {
		call, ok := calls[in.CallID]
		if !ok {
			return nil, fmt.Errorf("unknown tool call %q", in.CallID)
		}
		switch call.Kind {
		case models.KindFunctionToolCall:
			units = append(units, models.FunctionToolOutput{
				CallID: call.CallID, ChoiceID: call.ChoiceID, Name: call.Name, Output: in.Output, IsError: in.IsError,
			})
		case models.KindCustomToolCall:
			units = append(units, models.CustomToolOutput{
				CallID: call.CallID, ChoiceID: call.ChoiceID, Name: call.Name, Output: in.Output, IsError: in.IsError,
			})
		default:
			return nil, fmt.Errorf("tool call %q of kind %s cannot take a client result", in.CallID, call.Kind)
		}
	}
	return units, nil
}

// pendingToolCalls is implemented by composers that expose their queued calls.
type pendingToolCalls interface {
	PendingToolCalls() []models.ToolCall
}

// generationOptionsSetter is implemented by composers whose options can be replaced.
type generationOptionsSetter interface {
	SetGenerationOptions(opts models.GenerationOptions)
}

// runApprovedTools answers the tab's pending calls with the toolbox and sends the
// results back to the model as a follow-up to the request begun at generation gen.
// It does nothing unless every pending call is approved, and it gives up as soon as
// another request has begun on the tab.
func (s *Server) runApprovedTools(ctx context.Context, tabID string, gen uint64, opts models.GenerationOptions) (completion.Outcome, bool) {
	if s.toolbox == nil || !s.settledAt(tabID, gen) {
		return "", false
	}
	pending, ok := s.tabs.Composer(tabID).(pendingToolCalls)
	if !ok {
		return "", false
	}
	calls := pending.PendingToolCalls()
	conv, ok := s.tabs.Conversation(tabID)
	if !ok || len(calls) == 0 {
		return "", false
	}
	choices := offeredChoices(conv)
	for _, call := range calls {
		if !s.toolbox.Approve(choices, call) {
			s.log.Debug("tool call needs the client", "tab_id", tabID, "call_id", call.CallID, "tool", call.Name)
			return "", false
		}
	}

	inputs := make(models.Units, 0, len(calls))
	for _, call := range calls {
		out := s.toolbox.Run(ctx, call)
		if out == nil {
			return "", false
		}
		inputs = append(inputs, out)
	}

	if !s.settledAt(tabID, gen) {
		s.log.Info("dropping tool results, a newer request began", "tab_id", tabID, "calls", len(calls))
		return "", false
	}
	conv, ok = s.tabs.Conversation(tabID)
	if !ok {
		return "", false
	}
	conv = withoutPlaceholders(conv)
	conv.Messages = append(conv.Messages, models.ConversationMessage{
		ID:          uuid.NewString(),
		CreatedAt:   s.now(),
		Role:        models.RoleUser,
		Status:      models.StatusCompleted,
		Inputs:      inputs,
		ToolChoices: opts.ToolChoices,
	})
	outcome := s.orch.Continue(ctx, tabID, gen, conv, opts)
	return outcome, outcome != completion.OutcomeSkipped
}

func (s *Server) settledAt(tabID string, gen uint64) bool {
	current, ok := s.tabs.Generation(tabID)
	return ok && current == gen
}

// offeredChoices collects the tool choices of every user message, newest first.
func offeredChoices(conv models.Conversation) []models.ToolStoreChoice {
	var choices []models.ToolStoreChoice
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if m := conv.Messages[i]; m.Role == models.RoleUser {
			choices = append(choices, m.ToolChoices...)
		}
	}
	return choices
}
