package models

import "time"

// GenerationOptions are the per-request settings chosen in the composer.
type GenerationOptions struct {
	Provider                string            `json:"provider" yaml:"provider"`
	Model                   string            `json:"model" yaml:"model"`
	Temperature             *float64          `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxOutputTokens         int               `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	ReasoningEffort         string            `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	SystemPrompt            string            `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Timeout                 time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DisablePreviousMessages bool              `json:"disable_previous_messages,omitempty" yaml:"disable_previous_messages,omitempty"`
	ToolChoices             []ToolStoreChoice `json:"tool_choices,omitempty" yaml:"-"`
}

// ModelParams is the provider-agnostic parameter set sent to a completer.
type ModelParams struct {
	Model           string
	Temperature     *float64
	MaxOutputTokens int
	ReasoningEffort string
	SystemPrompt    string
	Timeout         time.Duration
}

// Params builds the ModelParams for o.
func (o GenerationOptions) Params() ModelParams {
	return ModelParams{
		Model:           o.Model,
		Temperature:     o.Temperature,
		MaxOutputTokens: o.MaxOutputTokens,
		ReasoningEffort: o.ReasoningEffort,
		SystemPrompt:    o.SystemPrompt,
		Timeout:         o.Timeout,
	}
}
