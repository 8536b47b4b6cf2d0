package sessions

import (
	"sync"
	"time"

	"github.com/Desarso/tabchat/hydrate"
	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"github.com/Desarso/tabchat/tabs"
	"github.com/gorilla/websocket"
)

// WebSocketWriter serializes writes to a websocket connection.
type WebSocketWriter struct {
	Conn         *websocket.Conn
	Logger       *logger.Logger
	WriteTimeout time.Duration
	mu           sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.WriteTimeout > 0 {
		_ = w.Conn.SetWriteDeadline(time.Now().Add(w.WriteTimeout))
	}
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	return w.WriteResponse(StreamEvent{Type: EventError, Error: message})
}

// Stream event types
const (
	EventSnapshot     = "snapshot"
	EventConversation = "conversation"
	EventDisposed     = "disposed"
	EventError        = "error"
)

// StreamEvent is pushed to stream subscribers whenever a tab's display text is flushed.
type StreamEvent struct {
	Type         string            `json:"type"`
	TabID        string            `json:"tab_id"`
	Text         string            `json:"text,omitempty"`
	Status       *tabs.Status      `json:"status,omitempty"`
	Conversation *ConversationView `json:"conversation,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// ClientMessage is what a stream subscriber may send back over the websocket.
type ClientMessage struct {
	Type      string  `json:"type"` // "activate", "scroll", "stop"
	ScrollTop float64 `json:"scroll_top,omitempty"`
}

// OpenRequest loads a stored conversation into a tab, or starts a fresh one when
// ConversationID is empty.
type OpenRequest struct {
	ConversationID string                    `json:"conversation_id"`
	Title          string                    `json:"title"`
	Force          bool                      `json:"force"`
	Options        *models.GenerationOptions `json:"options,omitempty"`
}

// SendRequest appends a user message to the tab's conversation and generates a reply.
type SendRequest struct {
	Text        string                    `json:"text"`
	ToolOutputs []ToolOutputInput         `json:"tool_outputs,omitempty"`
	Options     *models.GenerationOptions `json:"options,omitempty"`
}

// ToolOutputInput is the result of a tool call the client executed.
type ToolOutputInput struct {
	CallID  string `json:"call_id" binding:"required"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// EditRequest replaces a message's text and regenerates from there.
type EditRequest struct {
	Text    string                    `json:"text" binding:"required"`
	Options *models.GenerationOptions `json:"options,omitempty"`
}

// ScrollRequest records the tab's scroll offset.
type ScrollRequest struct {
	ScrollTop float64 `json:"scroll_top"`
}

// SearchQuery binds the search endpoint's query string.
type SearchQuery struct {
	Query string `form:"q" binding:"required"`
	Limit int    `form:"limit"`
}

// MessageView is a hydrated message as rendered to clients.
type MessageView struct {
	ID           string                     `json:"id"`
	Role         models.Role                `json:"role"`
	Status       models.Status              `json:"status"`
	CreatedAt    time.Time                  `json:"created_at"`
	Content      string                     `json:"content"`
	Reasoning    []string                   `json:"reasoning,omitempty"`
	ToolCalls    []models.ToolCallSummary   `json:"tool_calls,omitempty"`
	ToolOutputs  []models.ToolOutputSummary `json:"tool_outputs,omitempty"`
	DebugDetails string                     `json:"debug_details,omitempty"`
}

// ConversationView is a hydrated conversation as rendered to clients.
type ConversationView struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	CreatedAt  time.Time     `json:"created_at"`
	ModifiedAt time.Time     `json:"modified_at"`
	Messages   []MessageView `json:"messages"`
}

// NewConversationView hydrates conv and copies the derived fields into a view.
func NewConversationView(conv models.Conversation) ConversationView {
	conv = hydrate.Conversation(conv)
	view := ConversationView{
		ID:         conv.ID,
		Title:      conv.Title,
		CreatedAt:  conv.CreatedAt,
		ModifiedAt: conv.ModifiedAt,
		Messages:   make([]MessageView, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		view.Messages = append(view.Messages, MessageView{
			ID:           m.ID,
			Role:         m.Role,
			Status:       m.Status,
			CreatedAt:    m.CreatedAt,
			Content:      m.UIContent,
			Reasoning:    m.UIReasoningContents,
			ToolCalls:    m.UIToolCalls,
			ToolOutputs:  m.UIToolOutputs,
			DebugDetails: m.UIDebugDetails,
		})
	}
	return view
}

// TabView combines a tab's status with its conversation.
type TabView struct {
	Status       tabs.Status       `json:"status"`
	Text         string            `json:"text"`
	ScrollTop    *float64          `json:"scroll_top,omitempty"`
	Conversation *ConversationView `json:"conversation,omitempty"`
	PendingCalls []models.ToolCall `json:"pending_tool_calls,omitempty"`
}
