package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Desarso/tabchat/logger"
	"github.com/Desarso/tabchat/models"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

const defaultListLimit = 50

// ConversationStore persists conversations through GORM. Reads are cached per
// conversation and concurrent loads of the same id share one query.
type ConversationStore struct {
	db   *gorm.DB
	kind string
	log  *logger.Logger

	mu    sync.RWMutex
	cache map[string]models.Conversation
	group singleflight.Group
}

func newConversationStore(db *gorm.DB, kind string, log *logger.Logger) (*ConversationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return &ConversationStore{
		db:    db,
		kind:  kind,
		log:   logger.OrNop(log).With("component", "store", "driver", kind),
		cache: make(map[string]models.Conversation),
	}, nil
}

// DB exposes the underlying connection so other stores can share it.
func (s *ConversationStore) DB() *gorm.DB {
	return s.db
}

// Close closes the database connection
func (s *ConversationStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *ConversationStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Save writes conv, replacing all of its stored messages. The title is written when the
// conversation is new or titleChanged is set.
func (s *ConversationStore) Save(ctx context.Context, conv models.Conversation, titleChanged bool) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if conv.ID == "" {
		return fmt.Errorf("conversation id is required")
	}

	records := make([]Message, 0, len(conv.Messages))
	for i, m := range conv.Messages {
		r, err := toRecord(conv.ID, i+1, m)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	modified := conv.ModifiedAt
	if modified.IsZero() {
		modified = time.Now()
	}
	started := conv.CreatedAt
	if started.IsZero() {
		started = modified
	}

	title := conv.Title
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []Conversation
		if err := tx.Where("conversation_id = ?", conv.ID).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to look up conversation: %w", err)
		}

		if len(existing) == 0 {
			row := Conversation{
				ConversationID: conv.ID,
				Title:          conv.Title,
				MessageCount:   len(records),
				StartedAt:      started,
				ModifiedAt:     modified,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to create conversation record: %w", err)
			}
		} else {
			updates := map[string]interface{}{
				"message_count": len(records),
				"modified_at":   modified,
			}
			if titleChanged {
				updates["title"] = conv.Title
			} else {
				title = existing[0].Title
			}
			started = existing[0].StartedAt
			if err := tx.Model(&Conversation{}).Where("conversation_id = ?", conv.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update conversation record: %w", err)
			}
		}

		if err := tx.Unscoped().Where("conversation_id = ?", conv.ID).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to replace messages: %w", err)
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return fmt.Errorf("failed to create message records: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	cached := stripDerived(conv)
	cached.Title = title
	cached.ModifiedAt = modified
	cached.CreatedAt = started
	s.cache[conv.ID] = cached
	s.mu.Unlock()

	s.log.Debug("conversation saved", "conversation_id", conv.ID, "messages", len(records))
	return nil
}

// Get loads a conversation. title is used when the stored title is empty. forceFetch
// skips the cache and reloads from the database.
func (s *ConversationStore) Get(ctx context.Context, id, title string, forceFetch bool) (models.Conversation, error) {
	if !forceFetch {
		s.mu.RLock()
		c, ok := s.cache[id]
		s.mu.RUnlock()
		if ok {
			return withTitle(c.Clone(), title), nil
		}
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		return s.load(ctx, id)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return withTitle(v.(models.Conversation).Clone(), title), nil
}

func withTitle(c models.Conversation, title string) models.Conversation {
	if c.Title == "" {
		c.Title = title
	}
	return c
}

func (s *ConversationStore) load(ctx context.Context, id string) (models.Conversation, error) {
	if s.db == nil {
		return models.Conversation{}, fmt.Errorf("database connection is nil")
	}

	var rows []Conversation
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return models.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if len(rows) == 0 {
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	row := rows[0]

	var records []Message
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", id).Order("sequence ASC").Find(&records).Error; err != nil {
		return models.Conversation{}, fmt.Errorf("failed to fetch messages: %w", err)
	}

	conv := models.Conversation{
		ID:         row.ConversationID,
		Title:      row.Title,
		CreatedAt:  row.StartedAt,
		ModifiedAt: row.ModifiedAt,
		Messages:   make([]models.ConversationMessage, 0, len(records)),
	}
	for _, r := range records {
		m, err := fromRecord(r)
		if err != nil {
			return models.Conversation{}, err
		}
		conv.Messages = append(conv.Messages, m)
	}

	for _, issue := range DetectInconsistencies(conv) {
		s.log.Warn("stored conversation is inconsistent",
			"conversation_id", id, "message_id", issue.MessageID, "kind", issue.Kind, "detail", issue.Detail)
	}

	s.mu.Lock()
	s.cache[id] = conv
	s.mu.Unlock()
	return conv, nil
}

// List returns conversation summaries, most recently modified first.
func (s *ConversationStore) List(ctx context.Context, opts models.ListOptions) ([]models.ConversationSummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []Conversation
	err := s.db.WithContext(ctx).
		Order("modified_at DESC").
		Limit(limit).
		Offset(opts.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summaries(rows), nil
}

// Search returns conversations whose title or message text contains query,
// case-insensitively, most recently modified first.
func (s *ConversationStore) Search(ctx context.Context, query string, limit int) ([]models.ConversationSummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, models.ListOptions{Limit: limit})
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	matching := s.db.Model(&Message{}).
		Select("conversation_id").
		Where("search_text LIKE ? ESCAPE '\\'", pattern)

	var rows []Conversation
	err := s.db.WithContext(ctx).
		Where("LOWER(title) LIKE ? ESCAPE '\\' OR conversation_id IN (?)", pattern, matching).
		Order("modified_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search conversations: %w", err)
	}
	return summaries(rows), nil
}

// Delete removes a conversation and its messages.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		res := tx.Unscoped().Where("conversation_id = ?", id).Delete(&Conversation{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})

	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return err
}

func summaries(rows []Conversation) []models.ConversationSummary {
	out := make([]models.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, toSummary(r))
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// stripDerived drops the display fields so the cache mirrors what is stored.
func stripDerived(conv models.Conversation) models.Conversation {
	out := conv.Clone()
	for i := range out.Messages {
		m := &out.Messages[i]
		m.UIContent = ""
		m.UIReasoningContents = nil
		m.UIToolCalls = nil
		m.UIToolOutputs = nil
		m.UIDebugDetails = ""
	}
	return out
}
