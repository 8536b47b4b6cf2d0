package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
)

// Status tracks the lifecycle of a message within a turn.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
	StatusFailed     Status = "failed"
)

// Conversation is the unit of persistence. Mutating operations always produce a new
// value with a fresh Messages slice; published conversations are never edited in place.
type Conversation struct {
	ID         string                `json:"id"`
	Title      string                `json:"title"`
	CreatedAt  time.Time             `json:"created_at"`
	ModifiedAt time.Time             `json:"modified_at"`
	Messages   []ConversationMessage `json:"messages"`
}

// ConversationMessage is a single turn. Role, Inputs, Outputs, ToolChoices and Debug are
// persisted; the UI* fields are derived by hydration and never stored.
type ConversationMessage struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	Role        Role              `json:"role"`
	Status      Status            `json:"status"`
	Inputs      Units             `json:"inputs,omitempty"`
	Outputs     Units             `json:"outputs,omitempty"`
	ToolChoices []ToolStoreChoice `json:"tool_choices,omitempty"`
	Debug       *MessageDebug     `json:"debug,omitempty"`

	UIContent           string              `json:"-"`
	UIReasoningContents []string            `json:"-"`
	UIToolCalls         []ToolCallSummary   `json:"-"`
	UIToolOutputs       []ToolOutputSummary `json:"-"`
	UIDebugDetails      string              `json:"-"`
}

// MessageDebug holds raw provider diagnostics attached to a message.
type MessageDebug struct {
	RequestID string                 `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Provider  string                 `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model     string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Error     string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Usage     map[string]int         `json:"usage,omitempty" yaml:"usage,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// ToolCallSummary is the display form of a tool call.
type ToolCallSummary struct {
	CallID    string
	ChoiceID  string
	Kind      UnitKind
	Name      string
	Label     string
	Arguments string
}

// ToolOutputSummary is the display form of a tool output, with the call and choice it
// answers when those can be resolved.
type ToolOutputSummary struct {
	CallID   string
	ChoiceID string
	Kind     UnitKind
	Name     string
	Label    string
	IsError  bool
	Content  string
	Call     *ToolCallSummary
}

// Clone returns a copy of c whose Messages slice can be modified without touching c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]ConversationMessage, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func (c Conversation) IndexOf(messageID string) int {
	for i, m := range c.Messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// LastUserIndex returns the position of the newest user message, or -1.
func (c Conversation) LastUserIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// ConversationSummary is the listing form of a stored conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	MessageCount int       `json:"message_count"`
}

// ListOptions pages through stored conversations, newest first.
type ListOptions struct {
	Limit  int `json:"limit" form:"limit"`
	Offset int `json:"offset" form:"offset"`
}
