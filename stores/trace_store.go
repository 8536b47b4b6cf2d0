package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Desarso/tabchat/completion"
	"gorm.io/gorm"
)

// CompletionTrace records one generation attempt.
// Indexed by conversation_id and request_id for efficient retrieval
type CompletionTrace struct {
	ID              uint            `gorm:"primarykey" json:"-"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
	RequestID       string          `gorm:"uniqueIndex;not null" json:"request_id"`
	ConversationID  string          `gorm:"index:idx_trace_conv" json:"conversation_id"`
	TabID           string          `json:"tab_id"`
	Provider        string          `json:"provider"`
	Model           string          `json:"model"`
	Outcome         string          `gorm:"not null" json:"outcome"`
	Error           string          `gorm:"type:text" json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMS      int64           `json:"duration_ms"`
	RawResponseJSON string          `gorm:"type:text" json:"-"`
	RawResponse     json.RawMessage `gorm:"-" json:"raw_response,omitempty"`
}

// BeforeSave copies RawResponse into RawResponseJSON
func (t *CompletionTrace) BeforeSave(tx *gorm.DB) error {
	if len(t.RawResponse) > 0 {
		if !json.Valid(t.RawResponse) {
			return fmt.Errorf("raw response of trace %s is not valid JSON", t.RequestID)
		}
		t.RawResponseJSON = string(t.RawResponse)
	}
	return nil
}

// AfterFind restores RawResponse from RawResponseJSON
func (t *CompletionTrace) AfterFind(tx *gorm.DB) error {
	if t.RawResponseJSON != "" {
		t.RawResponse = json.RawMessage(t.RawResponseJSON)
	}
	return nil
}

// GORMTraceStore persists completion traces. It implements completion.Tracer.
type GORMTraceStore struct {
	db *gorm.DB
}

// NewGORMTraceStore creates a trace store from an existing GORM database connection
func NewGORMTraceStore(db *gorm.DB) (*GORMTraceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := db.AutoMigrate(&CompletionTrace{}); err != nil {
		return nil, fmt.Errorf("failed to migrate completion_traces table: %w", err)
	}
	return &GORMTraceStore{db: db}, nil
}

// RecordTrace implements completion.Tracer.
func (s *GORMTraceStore) RecordTrace(ctx context.Context, t completion.Trace) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	row := CompletionTrace{
		RequestID:      t.RequestID,
		ConversationID: t.ConversationID,
		TabID:          t.TabID,
		Provider:       t.Provider,
		Model:          t.Model,
		Outcome:        t.Outcome.String(),
		Error:          t.Error,
		StartedAt:      t.StartedAt,
		DurationMS:     t.Duration.Milliseconds(),
		RawResponse:    json.RawMessage(t.RawResponse),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save completion trace: %w", err)
	}
	return nil
}

// TracesByConversation retrieves all traces for a conversation, oldest first.
func (s *GORMTraceStore) TracesByConversation(ctx context.Context, conversationID string) ([]*CompletionTrace, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	var traces []*CompletionTrace
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("started_at ASC").
		Find(&traces).Error
	return traces, err
}

// TraceByRequest retrieves the trace of a single request.
func (s *GORMTraceStore) TraceByRequest(ctx context.Context, requestID string) (*CompletionTrace, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	var traces []*CompletionTrace
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Limit(1).Find(&traces).Error; err != nil {
		return nil, fmt.Errorf("failed to load trace: %w", err)
	}
	if len(traces) == 0 {
		return nil, fmt.Errorf("trace %s not found", requestID)
	}
	return traces[0], nil
}

// DeleteTracesByConversation removes all traces for a conversation
func (s *GORMTraceStore) DeleteTracesByConversation(ctx context.Context, conversationID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Delete(&CompletionTrace{}).Error
}

// PruneBefore deletes traces created before cutoff and returns how many were removed.
func (s *GORMTraceStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database connection is nil")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&CompletionTrace{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune traces: %w", res.Error)
	}
	return res.RowsAffected, nil
}
