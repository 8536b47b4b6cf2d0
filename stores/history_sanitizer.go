package stores

import (
	"fmt"

	"github.com/Desarso/tabchat/models"
)

// InconsistencyKind names a problem found in stored history.
type InconsistencyKind string

const (
	// OrphanedToolOutput is a tool output whose call id matches no earlier call.
	OrphanedToolOutput InconsistencyKind = "orphaned_tool_output"
	// UnansweredToolCall is a tool call with no output anywhere after it, in the middle
	// of history. Trailing calls are expected to be answered by the next turn.
	UnansweredToolCall InconsistencyKind = "unanswered_tool_call"
	DuplicateChoiceID  InconsistencyKind = "duplicate_choice_id"
	// StaleInProgress is a message left in progress by a turn that never finished.
	StaleInProgress InconsistencyKind = "stale_in_progress"
)

// Inconsistency describes one problem in a conversation.
type Inconsistency struct {
	MessageID string
	Index     int
	Kind      InconsistencyKind
	Detail    string
}

// DetectInconsistencies checks stored history for broken tool cycles and turns that were
// interrupted. It returns nil for clean history.
func DetectInconsistencies(conv models.Conversation) []Inconsistency {
	var issues []Inconsistency

	seenCalls := make(map[string]int)
	answered := make(map[string]bool)
	choiceOwner := make(map[string]string)

	for i, msg := range conv.Messages {
		for _, c := range msg.ToolChoices {
			if owner, ok := choiceOwner[c.ChoiceID]; ok && owner != msg.ID {
				issues = append(issues, Inconsistency{
					MessageID: msg.ID, Index: i, Kind: DuplicateChoiceID,
					Detail: fmt.Sprintf("choice %s already declared by message %s", c.ChoiceID, owner),
				})
			}
			choiceOwner[c.ChoiceID] = msg.ID
		}

		// Calls and outputs within one message may appear in either order.
		for _, units := range []models.Units{msg.Inputs, msg.Outputs} {
			for _, call := range units.Calls() {
				if call.CallID != "" {
					seenCalls[call.CallID] = i
				}
			}
		}
		for _, units := range []models.Units{msg.Inputs, msg.Outputs} {
			for _, out := range units.ToolOutputs() {
				if out.CallID == "" {
					continue
				}
				if _, ok := seenCalls[out.CallID]; !ok {
					issues = append(issues, Inconsistency{
						MessageID: msg.ID, Index: i, Kind: OrphanedToolOutput,
						Detail: fmt.Sprintf("output for unknown call %s", out.CallID),
					})
					continue
				}
				answered[out.CallID] = true
			}
		}

		if msg.Status == models.StatusInProgress {
			issues = append(issues, Inconsistency{
				MessageID: msg.ID, Index: i, Kind: StaleInProgress,
				Detail: "message was never completed",
			})
		}
	}

	last := len(conv.Messages) - 1
	for i, msg := range conv.Messages {
		if i == last {
			break
		}
		for _, call := range msg.Outputs.Calls() {
			if call.Kind == models.KindWebSearchCall || call.CallID == "" || answered[call.CallID] {
				continue
			}
			issues = append(issues, Inconsistency{
				MessageID: msg.ID, Index: i, Kind: UnansweredToolCall,
				Detail: fmt.Sprintf("call %s (%s) has no output", call.CallID, call.Name),
			})
		}
	}
	return issues
}

// SanitizeHistory prepares prior messages for a provider request. History always starts
// with a user message, and assistant messages that never produced output are dropped.
func SanitizeHistory(msgs []models.ConversationMessage) []models.ConversationMessage {
	start := -1
	for i, m := range msgs {
		if m.Role == models.RoleUser {
			start = i
			break
		}
	}
	if start == -1 {
		return nil
	}

	out := make([]models.ConversationMessage, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		if m.Role == models.RoleAssistant && len(m.Outputs) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}
