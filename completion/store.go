package completion

import (
	"context"
	"time"

	"github.com/Desarso/tabchat/models"
)

// Store persists conversations.
type Store interface {
	// Save replaces the stored messages of conv. The title is only written for new
	// conversations or when titleChanged is set.
	Save(ctx context.Context, conv models.Conversation, titleChanged bool) error
	// Get loads a conversation. title is used when the stored one is empty; forceFetch
	// bypasses any cache.
	Get(ctx context.Context, id, title string, forceFetch bool) (models.Conversation, error)
	List(ctx context.Context, opts models.ListOptions) ([]models.ConversationSummary, error)
	Search(ctx context.Context, query string, limit int) ([]models.ConversationSummary, error)
}

// Trace describes one finished generation attempt.
type Trace struct {
	RequestID      string
	TabID          string
	ConversationID string
	Provider       string
	Model          string
	Outcome        Outcome
	StartedAt      time.Time
	Duration       time.Duration
	Error          string
	RawResponse    []byte
}

// Tracer records generation attempts.
type Tracer interface {
	RecordTrace(ctx context.Context, trace Trace) error
}
