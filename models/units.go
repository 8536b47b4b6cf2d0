package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownUnitKind is returned when decoding a unit whose kind is not recognized.
var ErrUnknownUnitKind = errors.New("unknown unit kind")

// UnitKind is the JSON discriminant of a Unit.
type UnitKind string

const (
	KindMessage            UnitKind = "message"
	KindReasoning          UnitKind = "reasoning"
	KindFunctionToolCall   UnitKind = "function_call"
	KindFunctionToolOutput UnitKind = "function_call_output"
	KindCustomToolCall     UnitKind = "custom_tool_call"
	KindCustomToolOutput   UnitKind = "custom_tool_call_output"
	KindWebSearchCall      UnitKind = "web_search_call"
	KindWebSearchOutput    UnitKind = "web_search_output"
)

// Unit is one element of a message's inputs or outputs. The set of implementations is
// closed to this package.
type Unit interface {
	Kind() UnitKind
	unit()
}

// ToolCall is the normalized view of any call variant.
type ToolCall struct {
	CallID    string   `json:"call_id"`
	ChoiceID  string   `json:"choice_id,omitempty"`
	Kind      UnitKind `json:"kind"`
	Name      string   `json:"name"`
	Arguments string   `json:"arguments,omitempty"`
}

// ToolOutput is the normalized view of any output variant.
type ToolOutput struct {
	CallID   string
	ChoiceID string
	Kind     UnitKind
	Name     string
	IsError  bool
	Content  string
}

// CallUnit is implemented by every call variant.
type CallUnit interface {
	Unit
	AsToolCall() ToolCall
}

// OutputUnit is implemented by every output variant.
type OutputUnit interface {
	Unit
	AsToolOutput() ToolOutput
}

// MessageUnit carries plain text.
type MessageUnit struct {
	Text string `json:"text"`
}

// ReasoningUnit carries model thinking text. It only appears in outputs.
type ReasoningUnit struct {
	Text    string `json:"text"`
	Summary string `json:"summary,omitempty"`
}

type FunctionToolCall struct {
	CallID    string `json:"call_id"`
	ChoiceID  string `json:"choice_id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type FunctionToolOutput struct {
	CallID   string `json:"call_id,omitempty"`
	ChoiceID string `json:"choice_id"`
	Name     string `json:"name,omitempty"`
	Output   string `json:"output"`
	IsError  bool   `json:"is_error,omitempty"`
}

type CustomToolCall struct {
	CallID   string `json:"call_id"`
	ChoiceID string `json:"choice_id,omitempty"`
	Name     string `json:"name"`
	Input    string `json:"input,omitempty"`
}

type CustomToolOutput struct {
	CallID   string `json:"call_id,omitempty"`
	ChoiceID string `json:"choice_id"`
	Name     string `json:"name,omitempty"`
	Output   string `json:"output"`
	IsError  bool   `json:"is_error,omitempty"`
}

// WebSearchCall records a provider-side web search.
type WebSearchCall struct {
	CallID   string `json:"call_id"`
	ChoiceID string `json:"choice_id,omitempty"`
	Query    string `json:"query,omitempty"`
}

type WebSearchOutput struct {
	CallID   string   `json:"call_id,omitempty"`
	ChoiceID string   `json:"choice_id"`
	Results  []string `json:"results,omitempty"`
	IsError  bool     `json:"is_error,omitempty"`
}

func (MessageUnit) Kind() UnitKind        { return KindMessage }
func (ReasoningUnit) Kind() UnitKind      { return KindReasoning }
func (FunctionToolCall) Kind() UnitKind   { return KindFunctionToolCall }
func (FunctionToolOutput) Kind() UnitKind { return KindFunctionToolOutput }
func (CustomToolCall) Kind() UnitKind     { return KindCustomToolCall }
func (CustomToolOutput) Kind() UnitKind   { return KindCustomToolOutput }
func (WebSearchCall) Kind() UnitKind      { return KindWebSearchCall }
func (WebSearchOutput) Kind() UnitKind    { return KindWebSearchOutput }

func (MessageUnit) unit()        {}
func (ReasoningUnit) unit()      {}
func (FunctionToolCall) unit()   {}
func (FunctionToolOutput) unit() {}
func (CustomToolCall) unit()     {}
func (CustomToolOutput) unit()   {}
func (WebSearchCall) unit()      {}
func (WebSearchOutput) unit()    {}

func (c FunctionToolCall) AsToolCall() ToolCall {
	return ToolCall{CallID: c.CallID, ChoiceID: c.ChoiceID, Kind: c.Kind(), Name: c.Name, Arguments: c.Arguments}
}

func (c CustomToolCall) AsToolCall() ToolCall {
	return ToolCall{CallID: c.CallID, ChoiceID: c.ChoiceID, Kind: c.Kind(), Name: c.Name, Arguments: c.Input}
}

func (c WebSearchCall) AsToolCall() ToolCall {
	return ToolCall{CallID: c.CallID, ChoiceID: c.ChoiceID, Kind: c.Kind(), Name: "web_search", Arguments: c.Query}
}

func (o FunctionToolOutput) AsToolOutput() ToolOutput {
	return ToolOutput{CallID: o.CallID, ChoiceID: o.ChoiceID, Kind: o.Kind(), Name: o.Name, IsError: o.IsError, Content: o.Output}
}

func (o CustomToolOutput) AsToolOutput() ToolOutput {
	return ToolOutput{CallID: o.CallID, ChoiceID: o.ChoiceID, Kind: o.Kind(), Name: o.Name, IsError: o.IsError, Content: o.Output}
}

func (o WebSearchOutput) AsToolOutput() ToolOutput {
	content, _ := json.Marshal(o.Results)
	return ToolOutput{CallID: o.CallID, ChoiceID: o.ChoiceID, Kind: o.Kind(), Name: "web_search", IsError: o.IsError, Content: string(content)}
}

// Units is an ordered list of units that encodes each element with its kind.
type Units []Unit

type unitEnvelope struct {
	Kind UnitKind        `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (u Units) MarshalJSON() ([]byte, error) {
	envs := make([]unitEnvelope, 0, len(u))
	for i, unit := range u {
		if unit == nil {
			return nil, fmt.Errorf("unit %d is nil", i)
		}
		data, err := json.Marshal(unit)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s unit: %w", unit.Kind(), err)
		}
		envs = append(envs, unitEnvelope{Kind: unit.Kind(), Data: data})
	}
	return json.Marshal(envs)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *Units) UnmarshalJSON(b []byte) error {
	var envs []unitEnvelope
	if err := json.Unmarshal(b, &envs); err != nil {
		return fmt.Errorf("failed to unmarshal units: %w", err)
	}
	out := make(Units, 0, len(envs))
	for i, env := range envs {
		unit, err := decodeUnit(env)
		if err != nil {
			return fmt.Errorf("unit %d: %w", i, err)
		}
		out = append(out, unit)
	}
	*u = out
	return nil
}

func decodeUnit(env unitEnvelope) (Unit, error) {
	switch env.Kind {
	case KindMessage:
		return decodeAs[MessageUnit](env.Data)
	case KindReasoning:
		return decodeAs[ReasoningUnit](env.Data)
	case KindFunctionToolCall:
		return decodeAs[FunctionToolCall](env.Data)
	case KindFunctionToolOutput:
		return decodeAs[FunctionToolOutput](env.Data)
	case KindCustomToolCall:
		return decodeAs[CustomToolCall](env.Data)
	case KindCustomToolOutput:
		return decodeAs[CustomToolOutput](env.Data)
	case KindWebSearchCall:
		return decodeAs[WebSearchCall](env.Data)
	case KindWebSearchOutput:
		return decodeAs[WebSearchOutput](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUnitKind, env.Kind)
	}
}

func decodeAs[T Unit](data json.RawMessage) (Unit, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s unit: %w", v.Kind(), err)
	}
	return v, nil
}

// Calls returns the call variants in u, in order.
func (u Units) Calls() []ToolCall {
	var calls []ToolCall
	for _, unit := range u {
		if c, ok := unit.(CallUnit); ok {
			calls = append(calls, c.AsToolCall())
		}
	}
	return calls
}

// ToolOutputs returns the output variants in u, in order.
func (u Units) ToolOutputs() []ToolOutput {
	var outs []ToolOutput
	for _, unit := range u {
		if o, ok := unit.(OutputUnit); ok {
			outs = append(outs, o.AsToolOutput())
		}
	}
	return outs
}

// Text joins the non-empty MessageUnit texts in u with sep.
func (u Units) Text(sep string) string {
	var parts []string
	for _, unit := range u {
		if m, ok := unit.(MessageUnit); ok && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, sep)
}
