// Package hydrate derives the display fields of stored conversations.
//
// Hydration is a pure function of the stored conversation: it reads only roles, units,
// tool choices and debug fields, and never fails on inconsistent history. References that
// cannot be resolved are left out of the derived summaries.
package hydrate

import (
	"strings"

	"github.com/Desarso/tabchat/models"
	"gopkg.in/yaml.v3"
)

// ContentSeparator joins the text of multiple message units.
const ContentSeparator = "\n\n"

// Index holds the conversation-wide lookup tables used to resolve cross references.
type Index struct {
	Choices map[string]models.ToolStoreChoice
	Calls   map[string]models.ToolCall
}

// BuildIndex scans conv once for tool choices and tool calls. For duplicate ids the last
// one seen wins.
func BuildIndex(conv models.Conversation) Index {
	idx := Index{
		Choices: make(map[string]models.ToolStoreChoice),
		Calls:   make(map[string]models.ToolCall),
	}
	for _, msg := range conv.Messages {
		for _, c := range msg.ToolChoices {
			idx.Choices[c.ChoiceID] = c
		}
		for _, units := range []models.Units{msg.Inputs, msg.Outputs} {
			for _, call := range units.Calls() {
				if call.CallID == "" {
					continue
				}
				idx.Calls[call.CallID] = call
			}
		}
	}
	return idx
}

// Conversation returns a copy of conv with every message hydrated.
func Conversation(conv models.Conversation) models.Conversation {
	idx := BuildIndex(conv)
	out := conv.Clone()
	for i := range out.Messages {
		out.Messages[i] = Message(out.Messages[i], idx)
	}
	return out
}

// Message recomputes the UI fields of msg from its persisted fields and idx.
func Message(msg models.ConversationMessage, idx Index) models.ConversationMessage {
	msg.UIContent = ""
	msg.UIReasoningContents = nil
	msg.UIToolCalls = nil
	msg.UIToolOutputs = nil

	switch msg.Role {
	case models.RoleAssistant:
		msg.UIContent = msg.Outputs.Text(ContentSeparator)
		msg.UIReasoningContents = reasoning(msg.Outputs)
		msg.UIToolCalls = callSummaries(msg.Outputs, idx)
		outputs := outputSummaries(msg.Outputs, idx)
		if len(outputs) == 0 {
			outputs = outputSummaries(msg.Inputs, idx)
		}
		msg.UIToolOutputs = outputs
	case models.RoleUser:
		msg.UIContent = firstText(msg.Inputs)
		msg.UIToolOutputs = outputSummaries(msg.Inputs, idx)
	}

	msg.UIDebugDetails = DebugDetails(msg.Debug)
	return msg
}

func reasoning(units models.Units) []string {
	var out []string
	for _, u := range units {
		if r, ok := u.(models.ReasoningUnit); ok {
			text := r.Text
			if text == "" {
				text = r.Summary
			}
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

func firstText(units models.Units) string {
	for _, u := range units {
		if m, ok := u.(models.MessageUnit); ok && m.Text != "" {
			return m.Text
		}
	}
	return ""
}

func callSummaries(units models.Units, idx Index) []models.ToolCallSummary {
	var out []models.ToolCallSummary
	for _, call := range units.Calls() {
		out = append(out, summarizeCall(call, idx))
	}
	return out
}

func summarizeCall(call models.ToolCall, idx Index) models.ToolCallSummary {
	label := call.Name
	if choice, ok := idx.Choices[call.ChoiceID]; ok && call.ChoiceID != "" {
		label = choice.Label()
	}
	return models.ToolCallSummary{
		CallID:    call.CallID,
		ChoiceID:  call.ChoiceID,
		Kind:      call.Kind,
		Name:      call.Name,
		Label:     label,
		Arguments: call.Arguments,
	}
}

func outputSummaries(units models.Units, idx Index) []models.ToolOutputSummary {
	var out []models.ToolOutputSummary
	for _, o := range units.ToolOutputs() {
		s := models.ToolOutputSummary{
			CallID:   o.CallID,
			ChoiceID: o.ChoiceID,
			Kind:     o.Kind,
			Name:     o.Name,
			Label:    o.Name,
			IsError:  o.IsError,
			Content:  o.Content,
		}
		if call, ok := idx.Calls[o.CallID]; ok && o.CallID != "" {
			cs := summarizeCall(call, idx)
			s.Call = &cs
			if s.Name == "" {
				s.Name = call.Name
			}
			s.Label = cs.Label
		}
		if choice, ok := idx.Choices[o.ChoiceID]; ok && o.ChoiceID != "" {
			s.Label = choice.Label()
		}
		out = append(out, s)
	}
	return out
}

// DebugDetails renders debug fields as a fenced YAML block, or "" when there are none.
func DebugDetails(d *models.MessageDebug) string {
	if d == nil {
		return ""
	}
	b, err := yaml.Marshal(d)
	if err != nil {
		return ""
	}
	body := strings.TrimSpace(string(b))
	if body == "" || body == "{}" {
		return ""
	}
	return "```yaml\n" + body + "\n```"
}
