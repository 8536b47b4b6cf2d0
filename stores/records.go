package stores

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Desarso/tabchat/models"
	"gorm.io/gorm"
)

// Conversation holds metadata for a stored conversation.
type Conversation struct {
	gorm.Model
	ConversationID string    `gorm:"uniqueIndex;not null"`
	Title          string    `gorm:"type:text"`
	MessageCount   int       `gorm:"default:0"`
	StartedAt      time.Time `gorm:"not null"`
	ModifiedAt     time.Time `gorm:"index;not null"`
	Messages       []Message `gorm:"foreignKey:ConversationID;references:ConversationID"`
}

// Message is one stored conversation message. Units and tool choices are kept as JSON;
// derived display fields are never stored.
type Message struct {
	gorm.Model
	ConversationID  string    `gorm:"index;not null"`
	MessageID       string    `gorm:"index;not null"`
	Sequence        int       `gorm:"not null"`
	Role            string    `gorm:"not null"`
	Status          string    `gorm:"not null"`
	SentAt          time.Time `gorm:"not null"`
	InputsJSON      string    `gorm:"type:text"`
	OutputsJSON     string    `gorm:"type:text"`
	ToolChoicesJSON string    `gorm:"type:text"`
	DebugJSON       string    `gorm:"type:text"`
	// SearchText is the lowercased message text used by Search.
	SearchText string `gorm:"type:text"`
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type" yaml:"type"`             // "sqlite" or "postgres"
	Connection string            `json:"connection" yaml:"connection"` // file path or DSN
	Options    map[string]string `json:"options" yaml:"options"`
}

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}

func marshalField(v interface{}, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toRecord(conversationID string, seq int, m models.ConversationMessage) (Message, error) {
	inputs, err := marshalField(m.Inputs, len(m.Inputs) == 0)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal inputs of message %s: %w", m.ID, err)
	}
	outputs, err := marshalField(m.Outputs, len(m.Outputs) == 0)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal outputs of message %s: %w", m.ID, err)
	}
	choices, err := marshalField(m.ToolChoices, len(m.ToolChoices) == 0)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal tool choices of message %s: %w", m.ID, err)
	}
	debug, err := marshalField(m.Debug, m.Debug == nil)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal debug of message %s: %w", m.ID, err)
	}
	return Message{
		ConversationID:  conversationID,
		MessageID:       m.ID,
		Sequence:        seq,
		Role:            string(m.Role),
		Status:          string(m.Status),
		SentAt:          m.CreatedAt,
		InputsJSON:      inputs,
		OutputsJSON:     outputs,
		ToolChoicesJSON: choices,
		DebugJSON:       debug,
		SearchText:      searchText(m),
	}, nil
}

func searchText(m models.ConversationMessage) string {
	parts := []string{m.Inputs.Text("\n"), m.Outputs.Text("\n")}
	return strings.ToLower(strings.TrimSpace(strings.Join(parts, "\n")))
}

func fromRecord(r Message) (models.ConversationMessage, error) {
	m := models.ConversationMessage{
		ID:        r.MessageID,
		CreatedAt: r.SentAt,
		Role:      models.Role(r.Role),
		Status:    models.Status(r.Status),
	}
	if r.InputsJSON != "" {
		if err := json.Unmarshal([]byte(r.InputsJSON), &m.Inputs); err != nil {
			return m, fmt.Errorf("failed to unmarshal inputs of message %s: %w", r.MessageID, err)
		}
	}
	if r.OutputsJSON != "" {
		if err := json.Unmarshal([]byte(r.OutputsJSON), &m.Outputs); err != nil {
			return m, fmt.Errorf("failed to unmarshal outputs of message %s: %w", r.MessageID, err)
		}
	}
	if r.ToolChoicesJSON != "" {
		if err := json.Unmarshal([]byte(r.ToolChoicesJSON), &m.ToolChoices); err != nil {
			return m, fmt.Errorf("failed to unmarshal tool choices of message %s: %w", r.MessageID, err)
		}
	}
	if r.DebugJSON != "" {
		m.Debug = &models.MessageDebug{}
		if err := json.Unmarshal([]byte(r.DebugJSON), m.Debug); err != nil {
			return m, fmt.Errorf("failed to unmarshal debug of message %s: %w", r.MessageID, err)
		}
	}
	return m, nil
}

func toSummary(c Conversation) models.ConversationSummary {
	return models.ConversationSummary{
		ID:           c.ConversationID,
		Title:        c.Title,
		CreatedAt:    c.StartedAt,
		ModifiedAt:   c.ModifiedAt,
		MessageCount: c.MessageCount,
	}
}
